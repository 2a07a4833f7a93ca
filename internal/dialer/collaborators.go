package dialer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/domain"
)

// ContactStore is the contact/list store boundary.
type ContactStore interface {
	FetchPendingContacts(ctx context.Context, listID uuid.UUID, limit int) ([]domain.Contact, error)
	MarkAttempt(ctx context.Context, contactID uuid.UUID, at time.Time) error
}

// DispositionStore persists operator outcomes.
type DispositionStore interface {
	RecordDisposition(ctx context.Context, d domain.Disposition) error
}

// ScriptRenderer fills a call script for a contact. It must be pure.
type ScriptRenderer interface {
	Render(template string, contact domain.Contact) (string, error)
}

// EventPublisher forwards line transitions downstream.
type EventPublisher interface {
	PublishLineEvent(ctx context.Context, ev domain.LineEvent) error
}

// Presence is told when a run starts and stops dialing, so that client-side
// behaviour (such as default audio routing) can be suppressed while active.
type Presence interface {
	SetDialerActive(runID uuid.UUID, active bool)
}
