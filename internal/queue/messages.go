package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/domain"
)

// LineEventMessage is the wire form of a line transition.
type LineEventMessage struct {
	RunID      uuid.UUID `json:"run_id"`
	ListID     uuid.UUID `json:"list_id"`
	AttemptID  uuid.UUID `json:"attempt_id"`
	ContactID  uuid.UUID `json:"contact_id"`
	Slot       int       `json:"slot"`
	Batch      int       `json:"batch"`
	Status     string    `json:"status"`
	CallerID   string    `json:"caller_id"`
	Phone      string    `json:"phone_number"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewLineEventMessage converts a domain event for the wire.
func NewLineEventMessage(ev domain.LineEvent) LineEventMessage {
	return LineEventMessage{
		RunID:      ev.RunID,
		ListID:     ev.ListID,
		AttemptID:  ev.AttemptID,
		ContactID:  ev.ContactID,
		Slot:       ev.Slot,
		Batch:      ev.Batch,
		Status:     string(ev.Status),
		CallerID:   ev.CallerID,
		Phone:      ev.Phone,
		Attempts:   ev.Attempts,
		Reason:     ev.Reason,
		OccurredAt: ev.OccurredAt,
	}
}

// ToDomain converts the message back into a domain event.
func (m LineEventMessage) ToDomain() domain.LineEvent {
	return domain.LineEvent{
		RunID:      m.RunID,
		ListID:     m.ListID,
		AttemptID:  m.AttemptID,
		ContactID:  m.ContactID,
		Slot:       m.Slot,
		Batch:      m.Batch,
		Status:     domain.LineStatus(m.Status),
		CallerID:   m.CallerID,
		Phone:      m.Phone,
		Attempts:   m.Attempts,
		Reason:     m.Reason,
		OccurredAt: m.OccurredAt,
	}
}
