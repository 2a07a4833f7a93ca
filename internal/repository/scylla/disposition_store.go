package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/domain"
)

// DispositionStore persists dispositions in Scylla, partitioned by list.
type DispositionStore struct {
	session *gocql.Session
}

// NewDispositionStore creates a new disposition store.
func NewDispositionStore(session *gocql.Session) *DispositionStore {
	return &DispositionStore{session: session}
}

// RecordDisposition inserts a disposition. Rows are written once and never
// updated; the insert is conditional on the disposition id.
func (s *DispositionStore) RecordDisposition(ctx context.Context, d domain.Disposition) error {
	line, err := json.Marshal(d.Line)
	if err != nil {
		return fmt.Errorf("disposition store: marshal line: %w", err)
	}

	if err := s.session.Query(`INSERT INTO dispositions_by_list (list_id, bucket, resolved_at, disposition_id, run_id, contact_id, tag, notes, caller_id, line_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ListID.String(), bucketDate(d.ResolvedAt), d.ResolvedAt, d.ID.String(), d.RunID.String(), d.ContactID.String(),
		string(d.Tag), d.Notes, d.CallerID, line,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("disposition store: insert dispositions_by_list: %w", err)
	}

	if err := s.session.Query(`INSERT INTO dispositions_by_contact (contact_id, resolved_at, disposition_id, list_id, tag, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ContactID.String(), d.ResolvedAt, d.ID.String(), d.ListID.String(), string(d.Tag), d.Notes,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("disposition store: insert dispositions_by_contact: %w", err)
	}
	return nil
}

// ListByList lists dispositions of a list, newest first, with pagination.
func (s *DispositionStore) ListByList(ctx context.Context, listID uuid.UUID, limit int, pagingState []byte) ([]domain.Disposition, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT resolved_at, disposition_id, run_id, contact_id, tag, notes, caller_id, line_snapshot
		FROM dispositions_by_list WHERE list_id = ?`, listID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	out := make([]domain.Disposition, 0, limit)

	var (
		resolvedAt time.Time
		idStr      string
		runStr     string
		contactStr string
		tag        string
		notes      string
		callerID   string
		line       []byte
	)
	for iter.Scan(&resolvedAt, &idStr, &runStr, &contactStr, &tag, &notes, &callerID, &line) {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		d := domain.Disposition{
			ID:         id,
			ListID:     listID,
			Tag:        domain.DispositionTag(tag),
			Notes:      notes,
			CallerID:   callerID,
			ResolvedAt: resolvedAt,
		}
		d.RunID, _ = uuid.Parse(runStr)
		d.ContactID, _ = uuid.Parse(contactStr)
		_ = json.Unmarshal(line, &d.Line)
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("disposition store: iter close: %w", err)
	}
	return out, nextState, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
