package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/repository"
)

// RunArchiveRepository implements repository.RunArchive.
type RunArchiveRepository struct {
	db *sqlx.DB
}

// NewRunArchiveRepository builds the repository.
func NewRunArchiveRepository(db *sqlx.DB) *RunArchiveRepository {
	return &RunArchiveRepository{db: db}
}

// Archive stores a run summary. Archiving the same run twice keeps the latest.
func (r *RunArchiveRepository) Archive(ctx context.Context, s domain.RunSummary) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO run_summaries (
		run_id, list_id, status, concurrency, caller_id_strategy, batches, remaining, exhausted, warnings, started_at, finished_at
	) VALUES (
		:run_id, :list_id, :status, :concurrency, :caller_id_strategy, :batches, :remaining, :exhausted, :warnings, :started_at, :finished_at
	) ON CONFLICT (run_id) DO UPDATE SET
		status = EXCLUDED.status,
		batches = EXCLUDED.batches,
		remaining = EXCLUDED.remaining,
		exhausted = EXCLUDED.exhausted,
		warnings = EXCLUDED.warnings,
		finished_at = EXCLUDED.finished_at,
		archived_at = NOW()`, s)
	if err != nil {
		return fmt.Errorf("run archive: insert: %w", err)
	}
	return nil
}

// Get retrieves an archived run.
func (r *RunArchiveRepository) Get(ctx context.Context, runID uuid.UUID) (*domain.RunSummary, error) {
	var s domain.RunSummary
	err := r.db.GetContext(ctx, &s, `SELECT run_id, list_id, status, concurrency, caller_id_strategy, batches, remaining, exhausted, warnings, started_at, finished_at
		FROM run_summaries WHERE run_id = $1`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: archived run %s", repository.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("run archive: get: %w", err)
	}
	return &s, nil
}

// ListByList returns the archived runs of a list, newest first.
func (r *RunArchiveRepository) ListByList(ctx context.Context, listID uuid.UUID, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.RunSummary
	err := r.db.SelectContext(ctx, &out, `SELECT run_id, list_id, status, concurrency, caller_id_strategy, batches, remaining, exhausted, warnings, started_at, finished_at
		FROM run_summaries WHERE list_id = $1
		ORDER BY finished_at DESC NULLS LAST
		LIMIT $2`, listID, limit)
	if err != nil {
		return nil, fmt.Errorf("run archive: list: %w", err)
	}
	return out, nil
}
