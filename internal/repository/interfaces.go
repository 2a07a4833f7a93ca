package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/domain"
	apperrors "github.com/acme/power-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// ContactRepository is the contact/list store.
type ContactRepository interface {
	CreateList(ctx context.Context, list ContactList, contacts []domain.Contact) error
	GetList(ctx context.Context, id uuid.UUID) (*ContactList, error)
	FetchPendingContacts(ctx context.Context, listID uuid.UUID, limit int) ([]domain.Contact, error)
	MarkAttempt(ctx context.Context, contactID uuid.UUID, at time.Time) error
}

// DispositionStore persists operator outcomes.
type DispositionStore interface {
	RecordDisposition(ctx context.Context, d domain.Disposition) error
	ListByList(ctx context.Context, listID uuid.UUID, limit int, pagingState []byte) ([]domain.Disposition, []byte, error)
}

// LineEventStore keeps the line transition history of each run.
type LineEventStore interface {
	AppendLineEvent(ctx context.Context, ev domain.LineEvent) error
	ListByRun(ctx context.Context, runID uuid.UUID, limit int, pagingState []byte) ([]domain.LineEvent, []byte, error)
}

// RunArchive keeps summaries of runs that have left memory.
type RunArchive interface {
	Archive(ctx context.Context, s domain.RunSummary) error
	Get(ctx context.Context, runID uuid.UUID) (*domain.RunSummary, error)
	ListByList(ctx context.Context, listID uuid.UUID, limit int) ([]domain.RunSummary, error)
}

// ContactList is the storage representation of a contact list.
type ContactList struct {
	ID        uuid.UUID
	Name      string
	Size      int
	CreatedAt time.Time
}
