package dialer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/power-dialer/internal/clock"
	"github.com/acme/power-dialer/internal/config"
	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/script"
	"github.com/acme/power-dialer/internal/telephony"
	"github.com/acme/power-dialer/internal/telephony/mock"
	apperrors "github.com/acme/power-dialer/pkg/errors"
)

const (
	dialDelay = time.Second
	ringDelay = 2 * time.Second
	callTime  = dialDelay + ringDelay
)

var testStart = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type memContacts struct {
	mu       sync.Mutex
	contacts []domain.Contact
	fetchErr error
	markErr  error
	marked   []uuid.UUID
}

func (m *memContacts) FetchPendingContacts(_ context.Context, _ uuid.UUID, limit int) ([]domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	out := make([]domain.Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *memContacts) MarkAttempt(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, id)
	return m.markErr
}

func (m *memContacts) markedIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.marked...)
}

type memDispositions struct {
	mu       sync.Mutex
	err      error
	recorded []domain.Disposition
}

func (m *memDispositions) RecordDisposition(_ context.Context, d domain.Disposition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recorded = append(m.recorded, d)
	return nil
}

func (m *memDispositions) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memDispositions) all() []domain.Disposition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Disposition(nil), m.recorded...)
}

type memEvents struct {
	mu     sync.Mutex
	events []domain.LineEvent
}

func (m *memEvents) PublishLineEvent(_ context.Context, ev domain.LineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memEvents) forContact(id uuid.UUID) []domain.LineEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LineEvent
	for _, ev := range m.events {
		if ev.ContactID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (m *memEvents) statusesFor(id uuid.UUID) []domain.LineStatus {
	var out []domain.LineStatus
	for _, ev := range m.forContact(id) {
		out = append(out, ev.Status)
	}
	return out
}

type memPresence struct {
	mu     sync.Mutex
	states []bool
}

func (m *memPresence) SetDialerActive(_ uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, active)
}

func (m *memPresence) history() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.states...)
}

type harness struct {
	t            *testing.T
	clk          *clock.Manual
	listID       uuid.UUID
	contacts     *memContacts
	dispositions *memDispositions
	events       *memEvents
	presence     *memPresence
	run          *Run
	finished     chan domain.RunStatus
}

type harnessSetup struct {
	cfg          config.DialerConfig
	providerOpts []mock.Option
}

type harnessOption func(*harnessSetup)

func withPolicy(policy mock.OutcomePolicy) harnessOption {
	return func(s *harnessSetup) {
		s.providerOpts = append(s.providerOpts, mock.WithOutcomePolicy(policy))
	}
}

func withDialer(fn func(*config.DialerConfig)) harnessOption {
	return func(s *harnessSetup) { fn(&s.cfg) }
}

func newHarness(t *testing.T, contacts []domain.Contact, opts ...harnessOption) *harness {
	t.Helper()

	setup := harnessSetup{cfg: config.DefaultDialerConfig()}
	setup.cfg.DialDelay = dialDelay
	setup.cfg.RingDelay = ringDelay
	for _, opt := range opts {
		opt(&setup)
	}

	clk := clock.NewManual(testStart)
	h := &harness{
		t:            t,
		clk:          clk,
		listID:       uuid.New(),
		contacts:     &memContacts{contacts: contacts},
		dispositions: &memDispositions{},
		events:       &memEvents{},
		presence:     &memPresence{},
		finished:     make(chan domain.RunStatus, 1),
	}
	h.run = NewRun(setup.cfg, Dependencies{
		Contacts:     h.contacts,
		Dispositions: h.dispositions,
		Signaler:     mock.NewProvider(clk, setup.cfg.DialDelay, setup.cfg.RingDelay, setup.providerOpts...),
		Renderer:     script.NewRenderer(),
		Events:       h.events,
		Presence:     h.presence,
		Clock:        clk,
		Rand:         rand.New(rand.NewSource(1)),
	})
	h.run.OnFinish(func(_, _ uuid.UUID, status domain.RunStatus) { h.finished <- status })

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.run.Close(ctx))
	})
	return h
}

func (h *harness) startConfig(n int) StartConfig {
	return StartConfig{
		ListID:           h.listID,
		Concurrency:      n,
		CallerIDStrategy: domain.CallerIDRoundRobin,
		CallerIDs:        []string{"+15550009001", "+15550009002"},
		ScriptTemplate:   "Hi {{.Name}}",
	}
}

func (h *harness) start(n int) domain.RunSnapshot {
	h.t.Helper()
	require.NoError(h.t, h.run.Start(testCtx(h.t), h.startConfig(n)))
	return h.snapshot()
}

// snapshot also waits for every event already delivered to the run.
func (h *harness) snapshot() domain.RunSnapshot {
	h.t.Helper()
	snap, err := h.run.Snapshot(testCtx(h.t))
	require.NoError(h.t, err)
	checkInvariants(h.t, snap)
	return snap
}

// advance lets the run drain its inbox after every timer, so timers it
// arms in response are due within the same advance.
func (h *harness) advance(d time.Duration) domain.RunSnapshot {
	h.t.Helper()
	h.clk.AdvanceWith(d, h.settle)
	return h.snapshot()
}

func (h *harness) settle() {
	_, _ = h.run.Snapshot(testCtx(h.t))
}

func (h *harness) resolve(slot int, tag domain.DispositionTag) ResolveResult {
	h.t.Helper()
	res, err := h.run.Resolve(testCtx(h.t), slot, tag, "")
	require.NoError(h.t, err)
	return res
}

func (h *harness) finishedWith() domain.RunStatus {
	h.t.Helper()
	select {
	case status := <-h.finished:
		return status
	case <-time.After(5 * time.Second):
		h.t.Fatal("run did not finish")
		return ""
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func checkInvariants(t *testing.T, snap domain.RunSnapshot) {
	t.Helper()
	onLine := make(map[uuid.UUID]int)
	awaiting := 0
	for _, l := range snap.Lines {
		if l.Status == domain.LineStatusIdle {
			assert.Nil(t, l.Contact, "idle line %d holds a contact", l.Slot)
			continue
		}
		if !assert.NotNil(t, l.Contact, "line %d is %s without a contact", l.Slot, l.Status) {
			continue
		}
		if prev, dup := onLine[l.Contact.ID]; dup {
			t.Errorf("contact %s on lines %d and %d", l.Contact.Name, prev, l.Slot)
		}
		onLine[l.Contact.ID] = l.Slot
		if l.Status.AwaitingDisposition() {
			awaiting++
		}
	}
	for _, q := range snap.Queue.Contacts {
		if slot, ok := onLine[q.Contact.ID]; ok {
			t.Errorf("contact %s queued while on line %d", q.Contact.Name, slot)
		}
	}
	assert.LessOrEqual(t, awaiting, 1, "more than one line awaiting disposition")
	assert.Equal(t, awaiting == 1, snap.GateSet, "gate must be set iff a line awaits disposition")
}

func lineContacts(snap domain.RunSnapshot) []string {
	out := make([]string, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		if l.Contact == nil {
			out = append(out, "")
			continue
		}
		out = append(out, l.Contact.Name)
	}
	return out
}

func lineStatuses(snap domain.RunSnapshot) []domain.LineStatus {
	out := make([]domain.LineStatus, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		out = append(out, l.Status)
	}
	return out
}

func queued(snap domain.RunSnapshot, name string) domain.QueuedContact {
	for _, q := range snap.Queue.Contacts {
		if q.Contact.Name == name {
			return q
		}
	}
	return domain.QueuedContact{}
}

func answerAll(live []telephony.Attempt) []telephony.EventType {
	out := make([]telephony.EventType, len(live))
	for i := range out {
		out[i] = telephony.EventAnswered
	}
	return out
}

func answerLast(live []telephony.Attempt) []telephony.EventType {
	out := mock.AnswerNone(live)
	if len(out) > 0 {
		out[len(out)-1] = telephony.EventAnswered
	}
	return out
}

const (
	idle      = domain.LineStatusIdle
	dialing   = domain.LineStatusDialing
	ringing   = domain.LineStatusRinging
	connected = domain.LineStatusConnected
	noAnswer  = domain.LineStatusNoAnswer
)

func TestRunConnectsFirstAnswerAndRequeuesTheRest(t *testing.T) {
	a, b, c := newContact("A"), newContact("B"), newContact("C")
	h := newHarness(t, []domain.Contact{a, b, c})

	snap := h.start(2)
	assert.Equal(t, domain.RunStatusRunning, snap.Status)
	assert.Equal(t, 1, snap.Batches)
	assert.Equal(t, []string{"A", "B"}, lineContacts(snap))
	assert.Equal(t, []domain.LineStatus{dialing, dialing}, lineStatuses(snap))
	assert.Equal(t, "+15550009001", snap.Lines[0].CallerID)
	assert.Equal(t, "+15550009002", snap.Lines[1].CallerID)
	assert.Equal(t, []string{"C"}, queuedNames(snap.Queue))
	assert.Equal(t, []bool{true}, h.presence.history())

	snap = h.advance(dialDelay)
	assert.Equal(t, []domain.LineStatus{ringing, ringing}, lineStatuses(snap))

	snap = h.advance(ringDelay)
	assert.Equal(t, []domain.LineStatus{connected, idle}, lineStatuses(snap))
	assert.Equal(t, []string{"A", ""}, lineContacts(snap))
	require.NotNil(t, snap.GateSlot)
	assert.Equal(t, 0, *snap.GateSlot)
	assert.Equal(t, "Hi A", snap.Lines[0].Script)
	assert.NotNil(t, snap.Lines[0].ConnectedAt)

	assert.Equal(t, []string{"C", "B"}, queuedNames(snap.Queue))
	loser := queued(snap, "B")
	assert.Equal(t, 1, loser.Contact.DialAttempts)
	assert.True(t, loser.AttemptedToday)
	assert.Equal(t, 1, snap.Queue.Fresh)
	assert.Equal(t, 1, snap.Queue.AttemptedToday)

	assert.Equal(t, []uuid.UUID{b.ID}, h.contacts.markedIDs(), "the connected contact is not counted as an attempt")
	assert.Equal(t, []domain.LineStatus{dialing, ringing, connected}, h.events.statusesFor(a.ID))
	assert.Equal(t, []domain.LineStatus{dialing, ringing, noAnswer}, h.events.statusesFor(b.ID))

	snap = h.advance(time.Minute)
	assert.Equal(t, 1, snap.Batches, "no batch forms while the operator is busy")
	assert.Zero(t, h.clk.Pending())
}

func TestRunResolveStartsNextBatch(t *testing.T) {
	a, b, c := newContact("A"), newContact("B"), newContact("C")
	h := newHarness(t, []domain.Contact{a, b, c})
	h.start(2)
	h.advance(callTime)

	res, err := h.run.Resolve(testCtx(t), 0, domain.DispositionInterested, "call back tuesday")
	require.NoError(t, err)
	assert.Empty(t, res.Warning)
	assert.Equal(t, a.ID, res.Disposition.ContactID)
	assert.Equal(t, h.listID, res.Disposition.ListID)
	assert.Equal(t, h.run.ID(), res.Disposition.RunID)
	assert.Equal(t, "+15550009001", res.Disposition.CallerID)
	require.NotNil(t, res.Line.Contact)
	assert.Equal(t, "A", res.Line.Contact.Name)
	assert.NotNil(t, res.Line.EndedAt)

	recorded := h.dispositions.all()
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.DispositionInterested, recorded[0].Tag)
	assert.Equal(t, "call back tuesday", recorded[0].Notes)

	snap := h.snapshot()
	assert.False(t, snap.GateSet)
	assert.Equal(t, 2, snap.Batches)
	assert.Equal(t, []string{"C", "B"}, lineContacts(snap))
	assert.Equal(t, []domain.LineStatus{dialing, dialing}, lineStatuses(snap))
	assert.Zero(t, snap.Queue.Depth)

	events := h.events.forContact(a.ID)
	last := events[len(events)-1]
	assert.Equal(t, idle, last.Status)
	assert.Equal(t, "resolved: interested", last.Reason)
}

func TestRunNoAnswerWaitsForTheWholeBatch(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B"), newContact("C")}, withPolicy(mock.AnswerNone))
	h.start(2)

	snap := h.advance(callTime)
	assert.Equal(t, 2, snap.Batches)
	assert.Equal(t, []string{"C", "A"}, lineContacts(snap))
	assert.Equal(t, []string{"B"}, queuedNames(snap.Queue))
	assert.Equal(t, 1, snap.Lines[1].Contact.DialAttempts)
	assert.Equal(t, 1, queued(snap, "B").Contact.DialAttempts)
}

func TestRunSecondAnswerInBatchIsDropped(t *testing.T) {
	a, b := newContact("A"), newContact("B")
	h := newHarness(t, []domain.Contact{a, b}, withPolicy(answerAll))
	h.start(2)

	snap := h.advance(callTime)
	assert.Equal(t, []domain.LineStatus{connected, idle}, lineStatuses(snap))
	assert.Equal(t, 1, queued(snap, "B").Contact.DialAttempts)

	events := h.events.forContact(b.ID)
	last := events[len(events)-1]
	assert.Equal(t, noAnswer, last.Status)
	assert.Equal(t, "answered on another line", last.Reason)
}

func TestRunCyclesAlternatePhones(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A", "+1 555 010 0001", "+1 555 010 0002")}, withPolicy(mock.AnswerNone))

	snap := h.start(1)
	assert.Equal(t, "+1 555 010 0001", snap.Lines[0].PhoneNumber)

	snap = h.advance(callTime)
	assert.Equal(t, 2, snap.Batches)
	assert.Equal(t, "+1 555 010 0002", snap.Lines[0].PhoneNumber)
}

func TestRunStartValidation(t *testing.T) {
	t.Run("empty caller id pool", func(t *testing.T) {
		h := newHarness(t, []domain.Contact{newContact("A")})
		cfg := h.startConfig(2)
		cfg.CallerIDs = nil

		err := h.run.Start(testCtx(t), cfg)
		require.ErrorIs(t, err, apperrors.ErrConfiguration)

		snap := h.snapshot()
		assert.Equal(t, domain.RunStatusIdle, snap.Status)
		assert.Empty(t, snap.Lines)
		assert.Zero(t, h.clk.Pending())
		assert.Empty(t, h.presence.history())
	})

	t.Run("concurrency out of range", func(t *testing.T) {
		h := newHarness(t, []domain.Contact{newContact("A")})
		for _, n := range []int{-1, 0, 11} {
			err := h.run.Start(testCtx(t), h.startConfig(n))
			require.ErrorIs(t, err, apperrors.ErrConfiguration, "n=%d", n)
		}
	})

	t.Run("missing list", func(t *testing.T) {
		h := newHarness(t, []domain.Contact{newContact("A")})
		cfg := h.startConfig(1)
		cfg.ListID = uuid.Nil
		require.ErrorIs(t, h.run.Start(testCtx(t), cfg), apperrors.ErrConfiguration)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		h := newHarness(t, []domain.Contact{newContact("A")})
		cfg := h.startConfig(1)
		cfg.CallerIDStrategy = "sequential"
		require.ErrorIs(t, h.run.Start(testCtx(t), cfg), apperrors.ErrConfiguration)
	})

	t.Run("store unavailable", func(t *testing.T) {
		h := newHarness(t, []domain.Contact{newContact("A")})
		h.contacts.fetchErr = errors.New("connection refused")

		require.ErrorIs(t, h.run.Start(testCtx(t), h.startConfig(1)), apperrors.ErrUnavailable)
		assert.Equal(t, domain.RunStatusIdle, h.snapshot().Status)

		h.contacts.mu.Lock()
		h.contacts.fetchErr = nil
		h.contacts.mu.Unlock()
		snap := h.start(1)
		assert.Equal(t, domain.RunStatusRunning, snap.Status)
	})
}

func TestRunRejectsInvalidCommands(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B")})
	ctx := testCtx(t)

	require.ErrorIs(t, h.run.Pause(ctx), apperrors.ErrInvalidTransition)
	require.ErrorIs(t, h.run.Resume(ctx), apperrors.ErrInvalidTransition)
	require.ErrorIs(t, h.run.Stop(ctx), apperrors.ErrInvalidTransition)
	_, err := h.run.Hangup(ctx, 0)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = h.run.Resolve(ctx, 0, domain.DispositionInterested, "")
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = h.run.Resolve(ctx, 0, domain.DispositionTag("maybe"), "")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	h.start(1)
	require.ErrorIs(t, h.run.Resume(ctx), apperrors.ErrInvalidTransition)
	require.ErrorIs(t, h.run.Start(ctx, h.startConfig(1)), apperrors.ErrInvalidTransition)
	_, err = h.run.Resolve(ctx, 0, domain.DispositionInterested, "")
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition, "a dialing line has nothing to resolve")
	_, err = h.run.Hangup(ctx, 0)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition, "only a connected call can be hung up")
	_, err = h.run.Hangup(ctx, 4)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRunPausedRunHoldsAfterResolve(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B"), newContact("C")})
	h.start(2)
	h.advance(callTime)

	require.NoError(t, h.run.Pause(testCtx(t)))
	h.resolve(0, domain.DispositionInterested)

	snap := h.snapshot()
	assert.Equal(t, domain.RunStatusPaused, snap.Status)
	assert.False(t, snap.GateSet)
	assert.Equal(t, 1, snap.Batches)
	assert.Equal(t, []domain.LineStatus{idle, idle}, lineStatuses(snap))
	assert.Zero(t, h.clk.Pending())

	require.NoError(t, h.run.Resume(testCtx(t)))
	snap = h.snapshot()
	assert.Equal(t, domain.RunStatusRunning, snap.Status)
	assert.Equal(t, 2, snap.Batches)
	assert.Equal(t, []string{"C", "B"}, lineContacts(snap))
}

func TestRunPauseLetsInFlightLinesFinish(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B"), newContact("C")}, withPolicy(mock.AnswerNone))
	h.start(2)
	require.NoError(t, h.run.Pause(testCtx(t)))

	snap := h.advance(callTime)
	assert.Equal(t, domain.RunStatusPaused, snap.Status)
	assert.Equal(t, []domain.LineStatus{idle, idle}, lineStatuses(snap))
	assert.Equal(t, []string{"C", "A", "B"}, queuedNames(snap.Queue))
	assert.Equal(t, 1, snap.Batches)
}

func TestRunResumeWaitsForTheBatchInFlight(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("X", "not a number"), newContact("A"), newContact("C")})
	snap := h.start(2)
	assert.Equal(t, []string{"", "A"}, lineContacts(snap))

	ctx := testCtx(t)
	require.NoError(t, h.run.Pause(ctx))
	require.NoError(t, h.run.Resume(ctx))

	snap = h.snapshot()
	assert.Equal(t, 1, snap.Batches, "no second batch while A is still dialing")
	assert.Equal(t, []domain.LineStatus{idle, dialing}, lineStatuses(snap))
	assert.Equal(t, []string{"C", "X"}, queuedNames(snap.Queue))

	snap = h.advance(callTime)
	assert.Equal(t, []domain.LineStatus{idle, connected}, lineStatuses(snap))
	assert.Equal(t, 1, snap.Batches)
}

func TestRunStopDiscardsInFlightAttempts(t *testing.T) {
	a, b, c := newContact("A"), newContact("B"), newContact("C")
	h := newHarness(t, []domain.Contact{a, b, c})
	h.start(2)
	ctx := testCtx(t)

	require.NoError(t, h.run.Stop(ctx))
	assert.Equal(t, domain.RunStatusStopped, h.finishedWith())

	snap := h.snapshot()
	assert.Equal(t, domain.RunStatusStopped, snap.Status)
	assert.Equal(t, []domain.LineStatus{idle, idle}, lineStatuses(snap))
	assert.Equal(t, []string{"C"}, queuedNames(snap.Queue), "stopped attempts are not requeued")
	assert.NotNil(t, snap.FinishedAt)
	assert.Empty(t, h.contacts.markedIDs())
	assert.Zero(t, h.clk.Pending())
	assert.Equal(t, []bool{true, false}, h.presence.history())

	events := h.events.forContact(a.ID)
	last := events[len(events)-1]
	assert.Equal(t, idle, last.Status)
	assert.Equal(t, "run stopped", last.Reason)

	snap = h.advance(callTime)
	assert.Equal(t, []domain.LineStatus{idle, idle}, lineStatuses(snap))

	require.ErrorIs(t, h.run.Pause(ctx), apperrors.ErrInvalidTransition)
	require.ErrorIs(t, h.run.Resume(ctx), apperrors.ErrInvalidTransition)
	require.ErrorIs(t, h.run.Stop(ctx), apperrors.ErrInvalidTransition)
	require.ErrorIs(t, h.run.Start(ctx, h.startConfig(2)), apperrors.ErrInvalidTransition)
	require.ErrorIs(t, h.run.SetConcurrency(ctx, 3), apperrors.ErrInvalidState)
}

func TestRunHangupKeepsGateUntilResolved(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B"), newContact("C")})
	h.start(2)
	h.advance(callTime)
	ctx := testCtx(t)

	line, err := h.run.Hangup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.LineStatusEnded, line.Status)
	assert.NotNil(t, line.EndedAt)

	snap := h.snapshot()
	assert.True(t, snap.GateSet)
	assert.Equal(t, 1, snap.Batches)

	_, err = h.run.Hangup(ctx, 0)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = h.run.Hangup(ctx, 1)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	h.resolve(0, domain.DispositionNotInterested)
	snap = h.snapshot()
	assert.False(t, snap.GateSet)
	assert.Equal(t, 2, snap.Batches)
}

func TestRunResolveIsNotRepeatable(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B")})
	h.start(1)
	h.advance(callTime)

	h.resolve(0, domain.DispositionCallback)
	_, err := h.run.Resolve(testCtx(t), 0, domain.DispositionCallback, "")
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Len(t, h.dispositions.all(), 1)
}

func TestRunResolveWarnsWhenDispositionIsNotSaved(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B")})
	h.start(1)
	h.advance(callTime)
	h.dispositions.setErr(errors.New("write timeout"))

	res := h.resolve(0, domain.DispositionInterested)
	assert.Equal(t, saveNoteWarning, res.Warning)
	require.ErrorIs(t, res.SaveErr, apperrors.ErrPersistence)
	assert.ErrorContains(t, res.SaveErr, "write timeout")

	snap := h.snapshot()
	assert.Contains(t, snap.Warnings, saveNoteWarning)
	assert.False(t, snap.GateSet)
	assert.Equal(t, 2, snap.Batches, "dialing continues after a failed save")
	assert.Equal(t, []string{"B"}, lineContacts(snap))
}

func TestRunWarningHistoryIsBounded(t *testing.T) {
	h := newHarness(t,
		[]domain.Contact{newContact("A"), newContact("B"), newContact("C")},
		withDialer(func(c *config.DialerConfig) { c.WarningHistory = 2 }),
	)
	h.dispositions.setErr(errors.New("write timeout"))
	h.start(1)

	for i := 0; i < 3; i++ {
		h.advance(callTime)
		h.resolve(0, domain.DispositionOther)
	}
	assert.Len(t, h.snapshot().Warnings, 2)
}

func TestRunAttemptRecordFailureIsAWarning(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B")}, withPolicy(mock.AnswerNone))
	h.contacts.markErr = errors.New("deadlock detected")
	h.start(1)

	snap := h.advance(callTime)
	assert.Contains(t, snap.Warnings, "failed to record attempt for A")
	assert.Equal(t, 2, snap.Batches)
	assert.Equal(t, 1, queued(snap, "A").Contact.DialAttempts)
}

func TestRunFlagsDeadLeads(t *testing.T) {
	h := newHarness(t,
		[]domain.Contact{newContact("A"), newContact("B")},
		withPolicy(mock.AnswerNone),
		withDialer(func(c *config.DialerConfig) { c.DeadLeadThreshold = 1 }),
	)
	h.start(1)

	snap := h.advance(callTime)
	assert.Equal(t, []string{"B"}, lineContacts(snap))
	assert.True(t, queued(snap, "A").DeadLead)
}

func TestRunExhaustsContactsAtMaxAttempts(t *testing.T) {
	a := newContact("A")
	h := newHarness(t, []domain.Contact{a},
		withPolicy(mock.AnswerNone),
		withDialer(func(c *config.DialerConfig) { c.MaxAttempts = 2 }),
	)
	h.start(1)

	snap := h.advance(callTime)
	assert.Equal(t, 2, snap.Batches)
	assert.Equal(t, 1, snap.Lines[0].Contact.DialAttempts)

	snap = h.advance(callTime)
	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.Queue.Exhausted)
	assert.Zero(t, snap.Queue.Depth)
	assert.Equal(t, domain.RunStatusCompleted, h.finishedWith())
	assert.Equal(t, []uuid.UUID{a.ID, a.ID}, h.contacts.markedIDs())
	assert.Equal(t, []bool{true, false}, h.presence.history())
}

func TestRunBacksOffWhenNoCallCanBePlaced(t *testing.T) {
	t.Run("retries after the setup delay", func(t *testing.T) {
		h := newHarness(t, []domain.Contact{newContact("X", "not a number")})
		snap := h.start(1)

		assert.Equal(t, domain.RunStatusRunning, snap.Status)
		assert.Equal(t, []domain.LineStatus{idle}, lineStatuses(snap))
		assert.Equal(t, 1, queued(snap, "X").Contact.DialAttempts)
		assert.Equal(t, 1, h.clk.Pending(), "retry timer armed")

		snap = h.advance(config.DefaultDialerConfig().SetupRetryDelay)
		assert.Equal(t, 2, snap.Batches)
		assert.Equal(t, 2, queued(snap, "X").Contact.DialAttempts)
		assert.Equal(t, 1, h.clk.Pending())

		require.NoError(t, h.run.Stop(testCtx(t)))
		assert.Zero(t, h.clk.Pending())
	})

	t.Run("completes once attempts run out", func(t *testing.T) {
		h := newHarness(t, []domain.Contact{newContact("X", "not a number")},
			withDialer(func(c *config.DialerConfig) { c.MaxAttempts = 2 }),
		)
		h.start(1)

		snap := h.advance(config.DefaultDialerConfig().SetupRetryDelay)
		assert.Equal(t, domain.RunStatusCompleted, snap.Status)
		assert.Equal(t, 1, snap.Queue.Exhausted)
		assert.Zero(t, h.clk.Pending())
	})

	t.Run("partial failure keeps the batch", func(t *testing.T) {
		h := newHarness(t, []domain.Contact{newContact("X", "not a number"), newContact("A")})
		snap := h.start(2)

		assert.Equal(t, []string{"", "A"}, lineContacts(snap))
		assert.Equal(t, []string{"X"}, queuedNames(snap.Queue))
		assert.Equal(t, 1, h.clk.Pending(), "only the provider timer")

		snap = h.advance(callTime)
		assert.Equal(t, []domain.LineStatus{idle, connected}, lineStatuses(snap))
	})
}

func TestRunCompletesWhenListDrains(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A")})
	h.start(1)
	h.advance(callTime)
	h.resolve(0, domain.DispositionInterested)

	snap := h.snapshot()
	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	assert.NotNil(t, snap.FinishedAt)
	assert.Equal(t, domain.RunStatusCompleted, h.finishedWith())
	assert.Equal(t, []bool{true, false}, h.presence.history())
	require.ErrorIs(t, h.run.Pause(testCtx(t)), apperrors.ErrInvalidTransition)
}

func TestRunEmptyListCompletesOnStart(t *testing.T) {
	h := newHarness(t, nil)
	snap := h.start(3)
	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	assert.Zero(t, snap.Batches)
}

func TestRunSetConcurrency(t *testing.T) {
	h := newHarness(t,
		[]domain.Contact{newContact("A"), newContact("B"), newContact("C"), newContact("D")},
		withPolicy(answerLast),
	)
	ctx := testCtx(t)

	require.NoError(t, h.run.SetConcurrency(ctx, 3))
	require.ErrorIs(t, h.run.SetConcurrency(ctx, 11), apperrors.ErrConfiguration)
	require.ErrorIs(t, h.run.SetConcurrency(ctx, 0), apperrors.ErrConfiguration)

	snap := h.start(0)
	assert.Equal(t, 3, snap.Concurrency)
	assert.Equal(t, []string{"A", "B", "C"}, lineContacts(snap))
	require.ErrorIs(t, h.run.SetConcurrency(ctx, 2), apperrors.ErrInvalidState)

	snap = h.advance(callTime)
	assert.Equal(t, []domain.LineStatus{idle, idle, connected}, lineStatuses(snap))

	require.NoError(t, h.run.Pause(ctx))
	require.ErrorIs(t, h.run.SetConcurrency(ctx, 2), apperrors.ErrInvalidState, "line 2 is still occupied")
	require.NoError(t, h.run.SetConcurrency(ctx, 5))

	h.resolve(2, domain.DispositionInterested)
	require.NoError(t, h.run.SetConcurrency(ctx, 1))
	snap = h.snapshot()
	assert.Equal(t, 1, snap.Concurrency)
	assert.Len(t, snap.Lines, 1)

	require.NoError(t, h.run.Resume(ctx))
	snap = h.snapshot()
	assert.Equal(t, []string{"D"}, lineContacts(snap))
}

func TestRunIgnoresStaleAndLateEvents(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B")})
	snap := h.start(1)
	attempt := snap.Lines[0].AttemptID

	h.run.deliver(telephony.Event{AttemptID: uuid.New(), Type: telephony.EventAnswered})
	snap = h.snapshot()
	assert.Equal(t, []domain.LineStatus{dialing}, lineStatuses(snap))
	assert.False(t, snap.GateSet)

	snap = h.advance(callTime)
	assert.Equal(t, []domain.LineStatus{connected}, lineStatuses(snap))

	h.run.deliver(telephony.Event{AttemptID: attempt, Type: telephony.EventNoAnswer})
	h.run.deliver(telephony.Event{AttemptID: attempt, Type: telephony.EventRinging})
	snap = h.snapshot()
	assert.Equal(t, []domain.LineStatus{connected}, lineStatuses(snap))

	h.run.deliver(telephony.Event{AttemptID: attempt, Type: telephony.EventEnded})
	snap = h.snapshot()
	assert.Equal(t, []domain.LineStatus{domain.LineStatusEnded}, lineStatuses(snap))
	assert.True(t, snap.GateSet)
}

func TestRunViolationPanicsInStrictMode(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B")},
		withDialer(func(c *config.DialerConfig) { c.StrictInvariants = true }),
	)
	h.start(1)
	h.advance(callTime)

	err := fmt.Errorf("%w: lost track of line", apperrors.ErrInvariantViolation)
	require.PanicsWithError(t, err.Error(), func() { h.run.violation(0, err) })
}

func TestRunViolationForceReleasesLine(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A"), newContact("B")})
	h.start(1)
	h.advance(callTime)

	err := h.run.exec(testCtx(t), func(context.Context) error {
		h.run.violation(0, fmt.Errorf("%w: lost track of line", apperrors.ErrInvariantViolation))
		return nil
	})
	require.NoError(t, err)

	snap := h.snapshot()
	assert.Equal(t, []domain.LineStatus{idle}, lineStatuses(snap))
	assert.False(t, snap.GateSet)
}

func TestRunClose(t *testing.T) {
	h := newHarness(t, []domain.Contact{newContact("A")})
	h.start(1)

	require.NoError(t, h.run.Close(testCtx(t)))
	assert.Equal(t, domain.RunStatusStopped, h.finishedWith())
	assert.Zero(t, h.clk.Pending())

	_, err := h.run.Snapshot(testCtx(t))
	require.ErrorIs(t, err, ErrRunClosed)
}
