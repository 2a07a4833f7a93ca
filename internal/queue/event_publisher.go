package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/metrics"
	"github.com/acme/power-dialer/pkg/logger"
)

// EventPublisher publishes line transitions keyed by run, so the events of
// one run stay ordered within a partition. Writes are asynchronous; delivery
// failures are logged and counted.
type EventPublisher struct {
	writer *kafka.Writer
}

// NewEventPublisher constructs a publisher for the event topic.
func NewEventPublisher(k *Kafka, log *logger.Logger) *EventPublisher {
	w := k.EventWriter()
	w.Async = true
	w.Completion = func(messages []kafka.Message, err error) {
		if err == nil {
			return
		}
		metrics.PersistenceFailures.WithLabelValues("publish_event").Add(float64(len(messages)))
		log.Warn("event publisher: delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
	}
	return &EventPublisher{writer: w}
}

// PublishLineEvent emits one line transition.
func (p *EventPublisher) PublishLineEvent(ctx context.Context, ev domain.LineEvent) error {
	value, err := json.Marshal(NewLineEventMessage(ev))
	if err != nil {
		return fmt.Errorf("event publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   ev.RunID[:],
		Value: value,
		Time:  ev.OccurredAt.UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("event publisher: write message: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the publisher.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
