package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/domain"
)

// LineEventStore keeps every line transition of a run.
type LineEventStore struct {
	session *gocql.Session
}

// NewLineEventStore creates a new line event store.
func NewLineEventStore(session *gocql.Session) *LineEventStore {
	return &LineEventStore{session: session}
}

// AppendLineEvent inserts one transition. Replays of the same event overwrite
// the same row.
func (s *LineEventStore) AppendLineEvent(ctx context.Context, ev domain.LineEvent) error {
	if err := s.session.Query(`INSERT INTO line_events (run_id, occurred_at, attempt_id, status, list_id, contact_id, slot, batch, caller_id, phone_number, attempts, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID.String(), ev.OccurredAt, ev.AttemptID.String(), string(ev.Status), ev.ListID.String(), ev.ContactID.String(),
		ev.Slot, ev.Batch, ev.CallerID, ev.Phone, ev.Attempts, ev.Reason,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("line event store: insert: %w", err)
	}
	return nil
}

// ListByRun lists the transitions of a run in order, with pagination.
func (s *LineEventStore) ListByRun(ctx context.Context, runID uuid.UUID, limit int, pagingState []byte) ([]domain.LineEvent, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT occurred_at, attempt_id, status, list_id, contact_id, slot, batch, caller_id, phone_number, attempts, reason
		FROM line_events WHERE run_id = ?`, runID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	out := make([]domain.LineEvent, 0, limit)

	var (
		occurredAt time.Time
		attemptStr string
		status     string
		listStr    string
		contactStr string
		slot       int
		batch      int
		callerID   string
		phone      string
		attempts   int
		reason     string
	)
	for iter.Scan(&occurredAt, &attemptStr, &status, &listStr, &contactStr, &slot, &batch, &callerID, &phone, &attempts, &reason) {
		ev := domain.LineEvent{
			RunID:      runID,
			Slot:       slot,
			Batch:      batch,
			Status:     domain.LineStatus(status),
			CallerID:   callerID,
			Phone:      phone,
			Attempts:   attempts,
			Reason:     reason,
			OccurredAt: occurredAt,
		}
		ev.AttemptID, _ = uuid.Parse(attemptStr)
		ev.ListID, _ = uuid.Parse(listStr)
		ev.ContactID, _ = uuid.Parse(contactStr)
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("line event store: iter close: %w", err)
	}
	return out, nextState, nil
}
