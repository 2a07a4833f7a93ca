package telephony

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/domain"
)

// ErrInvalidNumber is returned by PlaceCall when the number cannot be dialed.
var ErrInvalidNumber = errors.New("telephony: invalid number")

// EventType enumerates asynchronous call-progress signals.
type EventType string

const (
	EventRinging   EventType = "ringing"
	EventAnswered  EventType = "answered"
	EventNoAnswer  EventType = "no_answer"
	EventBusy      EventType = "busy"
	EventVoicemail EventType = "voicemail"
	EventFailed    EventType = "failed"
	// EventEnded signals that the remote party hung up a connected call.
	EventEnded EventType = "ended"
)

// Event is one call-progress signal for a placed attempt.
type Event struct {
	AttemptID  uuid.UUID
	Type       EventType
	Reason     string
	OccurredAt time.Time
}

// Sink receives events for attempts placed through a Signaler. Implementations
// must not block for long; events may arrive from any goroutine.
type Sink func(Event)

// Attempt describes one outbound call to place.
type Attempt struct {
	ID       uuid.UUID
	RunID    uuid.UUID
	Batch    int
	Slot     int
	Contact  domain.Contact
	Phone    string
	CallerID string
}

// Handle identifies a placed attempt for later teardown.
type Handle struct {
	AttemptID   uuid.UUID
	ProviderRef string
}

// Signaler abstracts call placement and teardown. Call progress is reported
// asynchronously through the Sink supplied to PlaceCall; PlaceCall itself must
// not invoke the sink synchronously.
type Signaler interface {
	PlaceCall(ctx context.Context, attempt Attempt, sink Sink) (Handle, error)
	Hangup(ctx context.Context, handle Handle) error
}
