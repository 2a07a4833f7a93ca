// Package janitor evicts finished runs from memory after archiving them.
package janitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/power-dialer/internal/clock"
	"github.com/acme/power-dialer/internal/config"
	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/metrics"
	"github.com/acme/power-dialer/internal/telemetry"
	"github.com/acme/power-dialer/pkg/logger"
)

// Registry is the set of runs held in memory.
type Registry interface {
	List(ctx context.Context) ([]domain.RunSnapshot, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

// Archive persists run summaries.
type Archive interface {
	Archive(ctx context.Context, s domain.RunSummary) error
}

// Janitor periodically archives and removes runs that finished more than the
// retention period ago.
type Janitor struct {
	runs    Registry
	archive Archive
	clock   clock.Clock
	cfg     config.JanitorConfig
	log     *logger.Logger
}

// New constructs a janitor. A nil archive removes runs without keeping them.
func New(runs Registry, archive Archive, cfg config.JanitorConfig, clk clock.Clock, log *logger.Logger) *Janitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Janitor{runs: runs, archive: archive, clock: clk, cfg: cfg, log: log.Named("janitor")}
}

// Run sweeps on every interval until cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	interval := j.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.log.Error("janitor sweep failed", zap.Error(err))
		}
	}
}

// Sweep evicts expired runs once and returns how many were removed. A run
// whose summary cannot be archived stays in memory for the next sweep.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	tracer := telemetry.Tracer("janitor")
	ctx, span := tracer.Start(ctx, "janitor.sweep")
	defer span.End()

	snaps, err := j.runs.List(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	now := j.clock.Now()
	removed := 0
	for _, snap := range snaps {
		if !j.expired(snap, now) {
			continue
		}
		if j.evict(ctx, tracer, snap) {
			removed++
		}
	}
	span.SetAttributes(attribute.Int("runs.seen", len(snaps)), attribute.Int("runs.removed", removed))
	return removed, nil
}

func (j *Janitor) expired(snap domain.RunSnapshot, now time.Time) bool {
	if !snap.Status.Terminal() || snap.FinishedAt == nil {
		return false
	}
	return !now.Before(snap.FinishedAt.Add(j.cfg.Retention))
}

func (j *Janitor) evict(ctx context.Context, tracer trace.Tracer, snap domain.RunSnapshot) bool {
	ctx, span := tracer.Start(ctx, "janitor.evict", trace.WithAttributes(
		attribute.String("run.id", snap.ID.String()),
		attribute.String("run.status", string(snap.Status)),
	))
	defer span.End()

	fields := []zap.Field{
		zap.String("run_id", snap.ID.String()),
		zap.String("list_id", snap.ListID.String()),
		zap.String("status", string(snap.Status)),
	}

	if j.archive != nil {
		if err := j.archive.Archive(ctx, snap.Summarize()); err != nil {
			span.RecordError(err)
			metrics.PersistenceFailures.WithLabelValues("archive_run").Inc()
			j.log.WithTrace(ctx).Warn("archive run failed", append(fields, zap.Error(err))...)
			return false
		}
	}
	if err := j.runs.Remove(ctx, snap.ID); err != nil {
		span.RecordError(err)
		j.log.WithTrace(ctx).Warn("remove run failed", append(fields, zap.Error(err))...)
		return false
	}
	metrics.RunsArchived.Inc()
	j.log.Info("run evicted", fields...)
	return true
}
