package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/power-dialer/internal/config"
)

// Kafka builds readers and writers for the line event topic.
type Kafka struct {
	cfg config.KafkaConfig
}

// NewKafka validates the broker settings.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	switch {
	case len(cfg.Brokers) == 0:
		return nil, fmt.Errorf("kafka: no brokers configured")
	case cfg.EventTopic == "":
		return nil, fmt.Errorf("kafka: event_topic is required")
	}
	return &Kafka{cfg: cfg}, nil
}

// EventTopic is the topic line transitions are published to.
func (k *Kafka) EventTopic() string { return k.cfg.EventTopic }

// EventWriter returns a writer for the event topic. Messages are hashed by key
// so one run's events stay on one partition.
func (k *Kafka) EventWriter() *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(k.cfg.Brokers...),
		Topic:        k.cfg.EventTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: k.cfg.WriteTimeout,
		Transport:    &kafka.Transport{ClientID: k.cfg.ClientID},
	}
}

// EventReader returns a consumer-group reader for the event topic.
func (k *Kafka) EventReader(groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.cfg.Brokers,
		Topic:          k.cfg.EventTopic,
		GroupID:        groupID,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: k.cfg.CommitInterval,
		MinBytes:       1,
		MaxBytes:       10e6,
		Dialer:         &kafka.Dialer{Timeout: 10 * time.Second, ClientID: k.cfg.ClientID},
	})
}

// EnsureEventTopic creates the event topic when the cluster lacks it. The
// replication factor follows the broker count, up to three.
func (k *Kafka) EnsureEventTopic(ctx context.Context, partitions int) error {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, ClientID: k.cfg.ClientID}
	conn, err := dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka: dial: %w", err)
	}
	defer conn.Close()

	existing, err := conn.ReadPartitions(k.cfg.EventTopic)
	if err == nil && len(existing) > 0 {
		return nil
	}

	// Topic creation must go through the controller.
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: find controller: %w", err)
	}
	ctrl, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("kafka: dial controller: %w", err)
	}
	defer ctrl.Close()

	replication := len(k.cfg.Brokers)
	if replication > 3 {
		replication = 3
	}
	if err := ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             k.cfg.EventTopic,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	}); err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", k.cfg.EventTopic, err)
	}
	return nil
}
