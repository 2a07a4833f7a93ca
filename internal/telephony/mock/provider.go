package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/power-dialer/internal/clock"
	"github.com/acme/power-dialer/internal/telephony"
)

// OutcomePolicy decides how the live attempts of one batch conclude once they
// have rung. live is ordered by slot; the result holds one terminal event type
// per attempt.
type OutcomePolicy func(live []telephony.Attempt) []telephony.EventType

// AnswerFirst answers the lowest slot and lets every other line go unanswered.
func AnswerFirst(live []telephony.Attempt) []telephony.EventType {
	out := make([]telephony.EventType, len(live))
	for i := range live {
		out[i] = telephony.EventNoAnswer
	}
	if len(out) > 0 {
		out[0] = telephony.EventAnswered
	}
	return out
}

// AnswerNone lets every line go unanswered.
func AnswerNone(live []telephony.Attempt) []telephony.EventType {
	out := make([]telephony.EventType, len(live))
	for i := range live {
		out[i] = telephony.EventNoAnswer
	}
	return out
}

// Option customises the simulated provider.
type Option func(*Provider)

// WithOutcomePolicy overrides AnswerFirst.
func WithOutcomePolicy(policy OutcomePolicy) Option {
	return func(p *Provider) { p.outcome = policy }
}

// Provider simulates call progress with fixed delays: every line of a batch
// rings after dialDelay and concludes ringDelay later. Events of one batch are
// emitted in slot order from a single callback.
type Provider struct {
	clock     clock.Clock
	dialDelay time.Duration
	ringDelay time.Duration
	outcome   OutcomePolicy

	mu        sync.Mutex
	batches   map[batchKey]*batch
	byAttempt map[uuid.UUID]batchKey
}

type batchKey struct {
	run   uuid.UUID
	batch int
}

type batch struct {
	attempts map[uuid.UUID]pendingCall
	timer    clock.Timer
}

type pendingCall struct {
	attempt telephony.Attempt
	sink    telephony.Sink
}

type emission struct {
	sink  telephony.Sink
	event telephony.Event
}

// NewProvider constructs a simulated signaler driven by clk.
func NewProvider(clk clock.Clock, dialDelay, ringDelay time.Duration, opts ...Option) *Provider {
	p := &Provider{
		clock:     clk,
		dialDelay: dialDelay,
		ringDelay: ringDelay,
		outcome:   AnswerFirst,
		batches:   make(map[batchKey]*batch),
		byAttempt: make(map[uuid.UUID]batchKey),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlaceCall registers the attempt with its batch and arms the batch timer on
// the first attempt.
func (p *Provider) PlaceCall(ctx context.Context, attempt telephony.Attempt, sink telephony.Sink) (telephony.Handle, error) {
	if err := ctx.Err(); err != nil {
		return telephony.Handle{}, err
	}
	if !validNumber(attempt.Phone) {
		return telephony.Handle{}, fmt.Errorf("%w: %q", telephony.ErrInvalidNumber, attempt.Phone)
	}

	key := batchKey{run: attempt.RunID, batch: attempt.Batch}

	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.batches[key]
	if !ok {
		b = &batch{attempts: make(map[uuid.UUID]pendingCall)}
		p.batches[key] = b
		b.timer = p.clock.AfterFunc(p.dialDelay, func() { p.ring(key) })
	}
	b.attempts[attempt.ID] = pendingCall{attempt: attempt, sink: sink}
	p.byAttempt[attempt.ID] = key

	return telephony.Handle{AttemptID: attempt.ID, ProviderRef: "sim-" + attempt.ID.String()[:8]}, nil
}

// Hangup drops the attempt; the batch timer is cancelled once no attempts
// remain. Unknown handles are ignored.
func (p *Provider) Hangup(_ context.Context, handle telephony.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.byAttempt[handle.AttemptID]
	if !ok {
		return nil
	}
	delete(p.byAttempt, handle.AttemptID)

	b := p.batches[key]
	if b == nil {
		return nil
	}
	delete(b.attempts, handle.AttemptID)
	if len(b.attempts) == 0 {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(p.batches, key)
	}
	return nil
}

func (p *Provider) ring(key batchKey) {
	p.mu.Lock()
	b, ok := p.batches[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	now := p.clock.Now()
	live := b.live()
	out := make([]emission, 0, len(live))
	for _, c := range live {
		out = append(out, emission{sink: c.sink, event: telephony.Event{AttemptID: c.attempt.ID, Type: telephony.EventRinging, OccurredAt: now}})
	}
	b.timer = p.clock.AfterFunc(p.ringDelay, func() { p.conclude(key) })
	p.mu.Unlock()

	emit(out)
}

func (p *Provider) conclude(key batchKey) {
	p.mu.Lock()
	b, ok := p.batches[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.batches, key)

	now := p.clock.Now()
	live := b.live()
	attempts := make([]telephony.Attempt, len(live))
	for i, c := range live {
		attempts[i] = c.attempt
		delete(p.byAttempt, c.attempt.ID)
	}
	outcomes := p.outcome(attempts)

	out := make([]emission, 0, len(live))
	for i, c := range live {
		typ := telephony.EventNoAnswer
		if i < len(outcomes) {
			typ = outcomes[i]
		}
		out = append(out, emission{sink: c.sink, event: telephony.Event{AttemptID: c.attempt.ID, Type: typ, OccurredAt: now}})
	}
	p.mu.Unlock()

	emit(out)
}

func (b *batch) live() []pendingCall {
	live := make([]pendingCall, 0, len(b.attempts))
	for _, c := range b.attempts {
		live = append(live, c)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].attempt.Slot < live[j].attempt.Slot })
	return live
}

func emit(out []emission) {
	for _, e := range out {
		e.sink(e.event)
	}
}

func validNumber(raw string) bool {
	n := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(raw)
	n = strings.TrimPrefix(n, "+")
	if len(n) < 7 || len(n) > 15 {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
