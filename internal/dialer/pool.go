package dialer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/telephony"
	apperrors "github.com/acme/power-dialer/pkg/errors"
)

// MaxLines is the hard upper bound on concurrency.
const MaxLines = 10

// Line is one call-attempt slot. A line is idle iff it has no contact.
type Line struct {
	Slot        int
	Status      domain.LineStatus
	Contact     *domain.Contact
	Phone       string
	CallerID    string
	AttemptID   uuid.UUID
	Batch       int
	Handle      telephony.Handle
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
	Script      string
}

// Occupancy is what Occupy records on an idle line.
type Occupancy struct {
	Contact   domain.Contact
	Phone     string
	CallerID  string
	AttemptID uuid.UUID
	Batch     int
	StartedAt time.Time
}

// LinePool is the fixed set of lines of one run.
type LinePool struct {
	lines []*Line
}

// NewLinePool builds n idle lines.
func NewLinePool(n int) (*LinePool, error) {
	if n < 1 || n > MaxLines {
		return nil, fmt.Errorf("%w: concurrency must be within 1..%d, got %d", apperrors.ErrConfiguration, MaxLines, n)
	}
	p := &LinePool{}
	p.grow(n)
	return p, nil
}

// Size returns the configured concurrency.
func (p *LinePool) Size() int { return len(p.lines) }

// Available returns idle slots in slot order.
func (p *LinePool) Available() []int {
	out := make([]int, 0, len(p.lines))
	for _, l := range p.lines {
		if l.Status == domain.LineStatusIdle {
			out = append(out, l.Slot)
		}
	}
	return out
}

// Occupied returns the number of non-idle lines.
func (p *LinePool) Occupied() int {
	return len(p.lines) - len(p.Available())
}

// Line returns the line at slot.
func (p *LinePool) Line(slot int) (*Line, error) {
	if slot < 0 || slot >= len(p.lines) {
		return nil, fmt.Errorf("%w: line %d does not exist", apperrors.ErrNotFound, slot)
	}
	return p.lines[slot], nil
}

// Lines returns all lines in slot order.
func (p *LinePool) Lines() []*Line {
	return p.lines
}

// Occupy moves an idle line to dialing.
func (p *LinePool) Occupy(slot int, occ Occupancy) error {
	l, err := p.Line(slot)
	if err != nil {
		return err
	}
	if l.Status != domain.LineStatusIdle || l.Contact != nil {
		return fmt.Errorf("%w: line %d is %s, cannot occupy", apperrors.ErrInvariantViolation, slot, l.Status)
	}
	for _, other := range p.lines {
		if other.Contact != nil && other.Contact.ID == occ.Contact.ID {
			return fmt.Errorf("%w: contact %s already on line %d", apperrors.ErrInvariantViolation, occ.Contact.ID, other.Slot)
		}
	}

	c := occ.Contact
	*l = Line{
		Slot:      slot,
		Status:    domain.LineStatusDialing,
		Contact:   &c,
		Phone:     occ.Phone,
		CallerID:  occ.CallerID,
		AttemptID: occ.AttemptID,
		Batch:     occ.Batch,
		StartedAt: occ.StartedAt,
	}
	return nil
}

// Release returns the line to idle and hands back what it held.
func (p *LinePool) Release(slot int) (Line, error) {
	l, err := p.Line(slot)
	if err != nil {
		return Line{}, err
	}
	if l.Status == domain.LineStatusIdle {
		return Line{}, fmt.Errorf("%w: line %d is already idle", apperrors.ErrInvalidTransition, slot)
	}
	held := *l
	*l = Line{Slot: slot, Status: domain.LineStatusIdle}
	return held, nil
}

// ByAttempt finds the line currently running attempt id.
func (p *LinePool) ByAttempt(id uuid.UUID) (*Line, bool) {
	for _, l := range p.lines {
		if l.Status != domain.LineStatusIdle && l.AttemptID == id {
			return l, true
		}
	}
	return nil, false
}

// Resize changes the number of lines. Slots being removed must be idle.
func (p *LinePool) Resize(n int) error {
	if n < 1 || n > MaxLines {
		return fmt.Errorf("%w: concurrency must be within 1..%d, got %d", apperrors.ErrConfiguration, MaxLines, n)
	}
	if n < len(p.lines) {
		for _, l := range p.lines[n:] {
			if l.Status != domain.LineStatusIdle {
				return fmt.Errorf("%w: line %d is %s, cannot shrink below it", apperrors.ErrInvalidState, l.Slot, l.Status)
			}
		}
		p.lines = p.lines[:n]
		return nil
	}
	p.grow(n)
	return nil
}

// ReleaseAll idles every line and returns those that were occupied.
func (p *LinePool) ReleaseAll() []Line {
	var held []Line
	for _, l := range p.lines {
		if l.Status == domain.LineStatusIdle {
			continue
		}
		held = append(held, *l)
		*l = Line{Slot: l.Slot, Status: domain.LineStatusIdle}
	}
	return held
}

func (p *LinePool) grow(n int) {
	for i := len(p.lines); i < n; i++ {
		p.lines = append(p.lines, &Line{Slot: i, Status: domain.LineStatusIdle})
	}
}

// Snapshot copies the line for display.
func (l *Line) Snapshot() domain.LineSnapshot {
	snap := domain.LineSnapshot{
		Slot:        l.Slot,
		Status:      l.Status,
		PhoneNumber: l.Phone,
		CallerID:    l.CallerID,
		AttemptID:   l.AttemptID,
		Batch:       l.Batch,
		Script:      l.Script,
	}
	if l.Contact != nil {
		c := l.Contact.Clone()
		snap.Contact = &c
	}
	snap.StartedAt = timePtr(l.StartedAt)
	snap.ConnectedAt = timePtr(l.ConnectedAt)
	snap.EndedAt = timePtr(l.EndedAt)
	return snap
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
