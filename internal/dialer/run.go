package dialer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/power-dialer/internal/clock"
	"github.com/acme/power-dialer/internal/config"
	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/metrics"
	"github.com/acme/power-dialer/internal/telemetry"
	"github.com/acme/power-dialer/internal/telephony"
	apperrors "github.com/acme/power-dialer/pkg/errors"
	"github.com/acme/power-dialer/pkg/logger"
)

// ErrRunClosed is returned for commands sent to a closed run.
var ErrRunClosed = errors.New("dialer: run closed")

// Dependencies are the collaborators of a run. Events and Presence are optional.
type Dependencies struct {
	Contacts     ContactStore
	Dispositions DispositionStore
	Signaler     telephony.Signaler
	Renderer     ScriptRenderer
	Events       EventPublisher
	Presence     Presence
	Clock        clock.Clock
	Logger       *logger.Logger
	Rand         *rand.Rand
}

// StartConfig is the operator's start command.
type StartConfig struct {
	ListID           uuid.UUID
	Concurrency      int
	CallerIDStrategy domain.CallerIDStrategy
	CallerIDs        []string
	ScriptTemplate   string
}

// ResolveResult reports a resolved line. Warning is set when the disposition
// could not be saved; the line is released regardless.
type ResolveResult struct {
	Line        domain.LineSnapshot
	Disposition domain.Disposition
	Warning     string
	// SaveErr wraps apperrors.ErrPersistence when the disposition was not
	// stored. The line is released regardless.
	SaveErr error
}

// FinishFunc is invoked from the run loop once a run stops or completes.
type FinishFunc func(runID, listID uuid.UUID, status domain.RunStatus)

// Run is one dialing session. All run state is owned by a single goroutine;
// commands and call-progress events reach it through one inbound channel.
type Run struct {
	id     uuid.UUID
	cfg    config.DialerConfig
	deps   Dependencies
	log    *logger.Logger
	tracer trace.Tracer

	inbox     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	onFinish  FinishFunc

	// Loop-owned state.
	status      domain.RunStatus
	listID      uuid.UUID
	concurrency int
	script      string
	queue       *ContactQueue
	pool        *LinePool
	gate        DispositionGate
	callerIDs   *CallerIDAllocator
	batches     int
	exhausted   int
	forming     bool
	retry       clock.Timer
	warnings    []string
	startedAt   time.Time
	finishedAt  time.Time
}

// NewRun creates an idle run and starts its loop.
func NewRun(cfg config.DialerConfig, deps Dependencies) *Run {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 64
	}
	if cfg.MaxConcurrency <= 0 || cfg.MaxConcurrency > MaxLines {
		cfg.MaxConcurrency = MaxLines
	}

	id := uuid.New()
	r := &Run{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger.ForRun(id.String()),
		tracer: telemetry.Tracer("dialer"),
		inbox:  make(chan func(), inboxSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		status: domain.RunStatusIdle,
	}
	go r.loop()
	return r
}

// ID returns the run identifier.
func (r *Run) ID() uuid.UUID { return r.id }

// OnFinish registers a hook called once the run stops or completes. It must be
// set before Start.
func (r *Run) OnFinish(fn FinishFunc) { r.onFinish = fn }

func (r *Run) loop() {
	defer close(r.done)
	for {
		select {
		case fn := <-r.inbox:
			fn()
			r.observe()
		case <-r.quit:
			return
		}
	}
}

// exec runs fn on the loop goroutine and waits for its result.
func (r *Run) exec(ctx context.Context, fn func(context.Context) error) error {
	result := make(chan error, 1)
	loopCtx := context.WithoutCancel(ctx)
	cmd := func() { result <- fn(loopCtx) }

	select {
	case r.inbox <- cmd:
	case <-r.done:
		return ErrRunClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-r.done:
		return ErrRunClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn without waiting. It reports false once the run is closed.
func (r *Run) post(fn func()) bool {
	select {
	case r.inbox <- fn:
		return true
	case <-r.done:
		return false
	}
}

// deliver is the telephony sink of this run.
func (r *Run) deliver(ev telephony.Event) {
	r.post(func() { r.handleEvent(context.Background(), ev) })
}

// Start validates cfg, loads the list and begins dialing.
func (r *Run) Start(ctx context.Context, cfg StartConfig) error {
	return r.exec(ctx, func(ctx context.Context) error { return r.start(ctx, cfg) })
}

// Pause stops new batches from forming; in-flight lines run to completion.
func (r *Run) Pause(ctx context.Context) error {
	return r.exec(ctx, func(context.Context) error {
		if r.status != domain.RunStatusRunning {
			return r.rejectf("pause", "only a running run can be paused")
		}
		r.transition(domain.RunStatusPaused)
		return nil
	})
}

// Resume continues a paused run and immediately tries to form a batch.
func (r *Run) Resume(ctx context.Context) error {
	return r.exec(ctx, func(ctx context.Context) error {
		if r.status != domain.RunStatusPaused {
			return r.rejectf("resume", "only a paused run can be resumed")
		}
		r.transition(domain.RunStatusRunning)
		r.continueDialing(ctx)
		return nil
	})
}

// Stop discards every in-flight attempt without requeuing its contact.
func (r *Run) Stop(ctx context.Context) error {
	return r.exec(ctx, func(ctx context.Context) error {
		if r.status != domain.RunStatusRunning && r.status != domain.RunStatusPaused {
			return r.rejectf("stop", "only a running or paused run can be stopped")
		}
		r.stop(ctx)
		return nil
	})
}

// Hangup ends a connected call before its disposition is entered.
func (r *Run) Hangup(ctx context.Context, slot int) (domain.LineSnapshot, error) {
	var snap domain.LineSnapshot
	err := r.exec(ctx, func(ctx context.Context) error {
		var err error
		snap, err = r.hangupLine(ctx, slot)
		return err
	})
	return snap, err
}

// Resolve records the operator's outcome for a connected or ended line,
// releases it and, when running, continues dialing.
func (r *Run) Resolve(ctx context.Context, slot int, tag domain.DispositionTag, notes string) (ResolveResult, error) {
	var res ResolveResult
	err := r.exec(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.resolve(ctx, slot, tag, notes)
		return err
	})
	return res, err
}

// SetConcurrency changes the number of lines while idle or paused.
func (r *Run) SetConcurrency(ctx context.Context, n int) error {
	return r.exec(ctx, func(context.Context) error { return r.setConcurrency(n) })
}

// Snapshot returns the current run, line and queue state.
func (r *Run) Snapshot(ctx context.Context) (domain.RunSnapshot, error) {
	var snap domain.RunSnapshot
	err := r.exec(ctx, func(context.Context) error {
		snap = r.snapshot()
		return nil
	})
	return snap, err
}

// Close stops an active run and terminates its loop.
func (r *Run) Close(ctx context.Context) error {
	err := r.Stop(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrInvalidTransition) && !errors.Is(err, ErrRunClosed) {
		r.log.Warn("close: stop failed", zap.Error(err))
	}
	r.closeOnce.Do(func() { close(r.quit) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) start(ctx context.Context, cfg StartConfig) error {
	if r.status != domain.RunStatusIdle {
		return r.rejectf("start", "a run can only be started once")
	}

	n := cfg.Concurrency
	if n == 0 {
		n = r.concurrency
	}
	if n < 1 || n > r.cfg.MaxConcurrency {
		return fmt.Errorf("%w: concurrency must be within 1..%d, got %d", apperrors.ErrConfiguration, r.cfg.MaxConcurrency, n)
	}
	if cfg.ListID == uuid.Nil {
		return fmt.Errorf("%w: contact list is required", apperrors.ErrConfiguration)
	}
	alloc, err := NewCallerIDAllocator(cfg.CallerIDStrategy, cfg.CallerIDs, r.deps.Rand)
	if err != nil {
		return err
	}
	pool, err := NewLinePool(n)
	if err != nil {
		return err
	}

	fetchCtx, cancel := r.persistCtx(ctx)
	contacts, err := r.deps.Contacts.FetchPendingContacts(fetchCtx, cfg.ListID, r.cfg.FetchLimit)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: fetch contacts for list %s: %v", apperrors.ErrUnavailable, cfg.ListID, err)
	}

	r.listID = cfg.ListID
	r.concurrency = n
	r.script = cfg.ScriptTemplate
	r.callerIDs = alloc
	r.pool = pool
	r.queue = NewContactQueue(contacts, r.deps.Clock.Now)
	r.startedAt = r.deps.Clock.Now()
	r.log = r.log.With(zap.String("list_id", cfg.ListID.String()))

	r.transition(domain.RunStatusRunning)
	if r.deps.Presence != nil {
		r.deps.Presence.SetDialerActive(r.id, true)
	}
	r.log.Info("run started",
		zap.Int("concurrency", n),
		zap.String("caller_id_strategy", string(cfg.CallerIDStrategy)),
		zap.Int("contacts", len(contacts)),
	)

	r.continueDialing(ctx)
	return nil
}

func (r *Run) stop(ctx context.Context) {
	r.cancelRetry()
	for _, held := range r.pool.ReleaseAll() {
		r.hangupHandle(ctx, held.Handle)
		held.Status = domain.LineStatusIdle
		r.publish(ctx, &held, "run stopped")
	}
	r.gate.Clear()
	r.transition(domain.RunStatusStopped)
	r.finalize()
}

func (r *Run) complete() {
	r.cancelRetry()
	r.transition(domain.RunStatusCompleted)
	r.finalize()
}

func (r *Run) finalize() {
	r.finishedAt = r.deps.Clock.Now()
	if r.deps.Presence != nil {
		r.deps.Presence.SetDialerActive(r.id, false)
	}
	metrics.LinesOccupied.DeleteLabelValues(r.id.String())
	r.log.Info("run finished",
		zap.String("status", string(r.status)),
		zap.Int("batches", r.batches),
		zap.Int("queued", r.queue.Len()),
		zap.Int("exhausted", r.exhausted),
	)
	if r.onFinish != nil {
		r.onFinish(r.id, r.listID, r.status)
	}
}

func (r *Run) setConcurrency(n int) error {
	switch r.status {
	case domain.RunStatusIdle, domain.RunStatusPaused:
	default:
		return fmt.Errorf("%w: concurrency can only change while idle or paused, run is %s", apperrors.ErrInvalidState, r.status)
	}
	if n < 1 || n > r.cfg.MaxConcurrency {
		return fmt.Errorf("%w: concurrency must be within 1..%d, got %d", apperrors.ErrConfiguration, r.cfg.MaxConcurrency, n)
	}
	if r.pool != nil {
		if err := r.pool.Resize(n); err != nil {
			return err
		}
	}
	r.concurrency = n
	r.log.Info("concurrency changed", zap.Int("concurrency", n))
	return nil
}

func (r *Run) transition(to domain.RunStatus) {
	from := r.status
	r.status = to
	metrics.RunTransitions.WithLabelValues(string(to)).Inc()
	r.log.Debug("run transition", zap.String("from", string(from)), zap.String("to", string(to)))
}

func (r *Run) rejectf(command, reason string) error {
	return fmt.Errorf("%w: cannot %s a %s run: %s", apperrors.ErrInvalidTransition, command, r.status, reason)
}

func (r *Run) snapshot() domain.RunSnapshot {
	snap := domain.RunSnapshot{
		ID:          r.id,
		ListID:      r.listID,
		Status:      r.status,
		Concurrency: r.concurrency,
		GateSet:     r.gate.IsSet(),
		Batches:     r.batches,
		Warnings:    append([]string(nil), r.warnings...),
		StartedAt:   timePtr(r.startedAt),
		FinishedAt:  timePtr(r.finishedAt),
	}
	if slot, ok := r.gate.Holder(); ok {
		snap.GateSlot = &slot
	}
	if r.callerIDs != nil {
		snap.CallerIDStrategy = r.callerIDs.Strategy()
		snap.CallerIDs = r.callerIDs.Pool()
	}
	if r.pool != nil {
		for _, l := range r.pool.Lines() {
			snap.Lines = append(snap.Lines, l.Snapshot())
		}
	}
	if r.queue != nil {
		snap.Queue = r.queue.Snapshot(r.cfg.DeadLeadThreshold)
	}
	snap.Queue.Exhausted = r.exhausted
	return snap
}

func (r *Run) observe() {
	if r.pool == nil || r.status.Terminal() {
		return
	}
	metrics.LinesOccupied.WithLabelValues(r.id.String()).Set(float64(r.pool.Occupied()))
}

// warn records a user-visible, non-blocking warning.
func (r *Run) warn(msg string, fields ...zap.Field) {
	r.log.Warn(msg, fields...)
	limit := r.cfg.WarningHistory
	if limit <= 0 {
		return
	}
	r.warnings = append(r.warnings, msg)
	if len(r.warnings) > limit {
		r.warnings = r.warnings[len(r.warnings)-limit:]
	}
}

func (r *Run) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.cfg.PersistTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
