package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus enumerates lifecycle states of a dialing run.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusCompleted RunStatus = "completed"
)

// Terminal reports whether no further commands are accepted.
func (s RunStatus) Terminal() bool {
	return s == RunStatusStopped || s == RunStatusCompleted
}

// LineStatus enumerates lifecycle stages of a single line.
type LineStatus string

const (
	LineStatusIdle      LineStatus = "idle"
	LineStatusDialing   LineStatus = "dialing"
	LineStatusRinging   LineStatus = "ringing"
	LineStatusConnected LineStatus = "connected"
	LineStatusNoAnswer  LineStatus = "no_answer"
	LineStatusBusy      LineStatus = "busy"
	LineStatusVoicemail LineStatus = "voicemail"
	LineStatusFailed    LineStatus = "failed"
	LineStatusEnded     LineStatus = "ended"
)

// InFlight reports whether the line is still waiting on call progress.
func (s LineStatus) InFlight() bool {
	return s == LineStatusDialing || s == LineStatusRinging
}

// AwaitingDisposition reports whether the operator owes this line an outcome.
func (s LineStatus) AwaitingDisposition() bool {
	return s == LineStatusConnected || s == LineStatusEnded
}

// CallerIDStrategy selects how outbound identities rotate across lines.
type CallerIDStrategy string

const (
	CallerIDRoundRobin   CallerIDStrategy = "round_robin"
	CallerIDRandom       CallerIDStrategy = "random"
	CallerIDSingleNumber CallerIDStrategy = "single_number"
)

// Valid reports whether the strategy is known.
func (s CallerIDStrategy) Valid() bool {
	switch s {
	case CallerIDRoundRobin, CallerIDRandom, CallerIDSingleNumber:
		return true
	}
	return false
}

// DispositionTag is the operator-chosen outcome of a connected call.
type DispositionTag string

const (
	DispositionInterested    DispositionTag = "interested"
	DispositionNotInterested DispositionTag = "not_interested"
	DispositionCallback      DispositionTag = "callback"
	DispositionNoAnswer      DispositionTag = "no_answer"
	DispositionVoicemail     DispositionTag = "voicemail"
	DispositionOther         DispositionTag = "other"
)

// Valid reports whether the tag is known.
func (t DispositionTag) Valid() bool {
	switch t {
	case DispositionInterested, DispositionNotInterested, DispositionCallback,
		DispositionNoAnswer, DispositionVoicemail, DispositionOther:
		return true
	}
	return false
}

// Contact is a run-local copy of a contact awaiting a call attempt.
type Contact struct {
	ID              uuid.UUID
	Name            string
	Phones          []string
	Organization    string
	Properties      map[string]any
	DialAttempts    int
	LastAttemptedAt *time.Time
}

// DialNumber returns the number the next attempt should use, cycling through
// alternates as attempts accumulate.
func (c Contact) DialNumber() string {
	if len(c.Phones) == 0 {
		return ""
	}
	return c.Phones[c.DialAttempts%len(c.Phones)]
}

// AttemptedOn reports whether the contact was last attempted on the same
// calendar day as now, evaluated in now's location.
func (c Contact) AttemptedOn(now time.Time) bool {
	if c.LastAttemptedAt == nil {
		return false
	}
	y1, m1, d1 := c.LastAttemptedAt.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Clone returns a copy that shares no mutable state with c.
func (c Contact) Clone() Contact {
	out := c
	out.Phones = append([]string(nil), c.Phones...)
	if c.Properties != nil {
		out.Properties = make(map[string]any, len(c.Properties))
		for k, v := range c.Properties {
			out.Properties[k] = v
		}
	}
	if c.LastAttemptedAt != nil {
		t := *c.LastAttemptedAt
		out.LastAttemptedAt = &t
	}
	return out
}

// LineSnapshot is a read-only view of one line.
type LineSnapshot struct {
	Slot        int
	Status      LineStatus
	Contact     *Contact
	PhoneNumber string
	CallerID    string
	AttemptID   uuid.UUID
	Batch       int
	StartedAt   *time.Time
	ConnectedAt *time.Time
	EndedAt     *time.Time
	Script      string
}

// QueuedContact is a queue entry as shown to the operator.
type QueuedContact struct {
	Contact        Contact
	AttemptedToday bool
	DeadLead       bool
}

// QueueSnapshot summarises the contact backlog.
type QueueSnapshot struct {
	Depth          int
	Fresh          int
	AttemptedToday int
	Exhausted      int
	Contacts       []QueuedContact
}

// RunSnapshot captures the state of a run for display.
type RunSnapshot struct {
	ID               uuid.UUID
	ListID           uuid.UUID
	Status           RunStatus
	Concurrency      int
	CallerIDStrategy CallerIDStrategy
	CallerIDs        []string
	GateSet          bool
	GateSlot         *int
	Batches          int
	Lines            []LineSnapshot
	Queue            QueueSnapshot
	Warnings         []string
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// Disposition records the outcome of one connected call. Written once.
type Disposition struct {
	ID        uuid.UUID
	RunID     uuid.UUID
	ListID    uuid.UUID
	ContactID uuid.UUID
	Tag       DispositionTag
	Notes     string
	CallerID  string
	Line      LineSnapshot
	// ResolvedAt is when the operator entered the outcome.
	ResolvedAt time.Time
}

// LineEvent is one line transition, published for downstream consumers.
type LineEvent struct {
	RunID      uuid.UUID
	ListID     uuid.UUID
	AttemptID  uuid.UUID
	ContactID  uuid.UUID
	Slot       int
	Batch      int
	Status     LineStatus
	CallerID   string
	Phone      string
	Attempts   int
	Reason     string
	OccurredAt time.Time
}

// RunSummary is what remains of a run after it leaves memory.
type RunSummary struct {
	RunID            uuid.UUID        `db:"run_id"`
	ListID           uuid.UUID        `db:"list_id"`
	Status           RunStatus        `db:"status"`
	Concurrency      int              `db:"concurrency"`
	CallerIDStrategy CallerIDStrategy `db:"caller_id_strategy"`
	Batches          int              `db:"batches"`
	Remaining        int              `db:"remaining"`
	Exhausted        int              `db:"exhausted"`
	Warnings         int              `db:"warnings"`
	StartedAt        *time.Time       `db:"started_at"`
	FinishedAt       *time.Time       `db:"finished_at"`
}

// Summarize condenses a snapshot for archiving.
func (s RunSnapshot) Summarize() RunSummary {
	return RunSummary{
		RunID:            s.ID,
		ListID:           s.ListID,
		Status:           s.Status,
		Concurrency:      s.Concurrency,
		CallerIDStrategy: s.CallerIDStrategy,
		Batches:          s.Batches,
		Remaining:        s.Queue.Depth,
		Exhausted:        s.Queue.Exhausted,
		Warnings:         len(s.Warnings),
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
	}
}
