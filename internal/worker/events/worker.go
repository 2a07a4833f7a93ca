// Package events persists the line transitions published by dialer runs.
package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/power-dialer/internal/metrics"
	"github.com/acme/power-dialer/internal/queue"
	"github.com/acme/power-dialer/internal/repository"
	"github.com/acme/power-dialer/internal/telemetry"
	"github.com/acme/power-dialer/pkg/logger"
)

// Reader is the subset of *kafka.Reader the worker uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Worker consumes line events and appends them to the run history.
type Worker struct {
	reader Reader
	store  repository.LineEventStore
	log    *logger.Logger
	tracer trace.Tracer
}

// New creates a new event worker.
func New(reader Reader, store repository.LineEventStore, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		reader: reader,
		store:  store,
		log:    log.Named("eventworker"),
		tracer: telemetry.Tracer("eventworker"),
	}
}

// Run processes events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("event worker: fetch", zap.Error(err))
			continue
		}
		w.handle(ctx, msg)
	}
}

// handle stores one message and commits it. Malformed messages are skipped;
// a failed write is logged and committed too, so one bad row cannot wedge
// the partition.
func (w *Worker) handle(ctx context.Context, msg kafka.Message) {
	var m queue.LineEventMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		metrics.EventsConsumed.WithLabelValues("malformed").Inc()
		w.log.Error("event worker: unmarshal", zap.Int64("offset", msg.Offset), zap.Error(err))
		w.commit(ctx, msg)
		return
	}

	sctx, span := w.tracer.Start(ctx, "line.event", trace.WithAttributes(
		attribute.String("run.id", m.RunID.String()),
		attribute.String("attempt.id", m.AttemptID.String()),
		attribute.String("status", m.Status),
		attribute.Int("slot", m.Slot),
	))
	defer span.End()

	if err := w.store.AppendLineEvent(sctx, m.ToDomain()); err != nil {
		span.RecordError(err)
		metrics.EventsConsumed.WithLabelValues("failed").Inc()
		metrics.PersistenceFailures.WithLabelValues("append_line_event").Inc()
		w.log.WithTrace(sctx).Error("event worker: append", zap.String("run_id", m.RunID.String()), zap.Error(err))
	} else {
		metrics.EventsConsumed.WithLabelValues("stored").Inc()
	}
	w.commit(sctx, msg)
}

func (w *Worker) commit(ctx context.Context, msg kafka.Message) {
	if err := w.reader.CommitMessages(ctx, msg); err != nil {
		w.log.Error("event worker: commit", zap.Int64("offset", msg.Offset), zap.Error(err))
	}
}
