package dialer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/power-dialer/internal/config"
	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/metrics"
	apperrors "github.com/acme/power-dialer/pkg/errors"
	"github.com/acme/power-dialer/pkg/logger"
)

// ListLocker grants one active run per contact list across processes.
type ListLocker interface {
	Acquire(ctx context.Context, listID, owner uuid.UUID) (bool, error)
	Refresh(ctx context.Context, listID, owner uuid.UUID) error
	Release(ctx context.Context, listID, owner uuid.UUID) error
}

// Manager owns the runs of this process.
type Manager struct {
	cfg     config.DialerConfig
	deps    Dependencies
	locker  ListLocker
	refresh time.Duration
	log     *logger.Logger

	startMu sync.Mutex
	mu      sync.RWMutex
	runs    map[uuid.UUID]*Run
	leases  map[uuid.UUID]uuid.UUID // run -> list

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithListLocker enables list leases, refreshed every interval while held.
func WithListLocker(locker ListLocker, interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.locker = locker
		m.refresh = interval
	}
}

// NewManager constructs a manager whose runs share deps.
func NewManager(cfg config.DialerConfig, deps Dependencies, opts ...ManagerOption) *Manager {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger.Named("manager"),
		runs:   make(map[uuid.UUID]*Run),
		leases: make(map[uuid.UUID]uuid.UUID),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locker != nil && m.refresh > 0 {
		m.wg.Add(1)
		go m.keepAlive()
	}
	return m
}

// Create registers a new idle run.
func (m *Manager) Create() *Run {
	run := NewRun(m.cfg, m.deps)
	run.OnFinish(m.finished)

	m.mu.Lock()
	m.runs[run.ID()] = run
	m.mu.Unlock()
	metrics.ActiveRuns.Inc()

	m.log.Info("run created", zap.String("run_id", run.ID().String()))
	return run
}

// Start leases the list and starts the run. A list already dialed by another
// run yields ErrConflict.
func (m *Manager) Start(ctx context.Context, runID uuid.UUID, cfg StartConfig) error {
	run, err := m.Get(runID)
	if err != nil {
		return err
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	snap, err := run.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Status != domain.RunStatusIdle || m.locker == nil || cfg.ListID == uuid.Nil {
		return run.Start(ctx, cfg)
	}

	ok, err := m.locker.Acquire(ctx, cfg.ListID, runID)
	if err != nil {
		return fmt.Errorf("%w: lease list %s: %v", apperrors.ErrUnavailable, cfg.ListID, err)
	}
	if !ok {
		return fmt.Errorf("%w: list %s is already being dialed", apperrors.ErrConflict, cfg.ListID)
	}
	m.mu.Lock()
	m.leases[runID] = cfg.ListID
	m.mu.Unlock()

	if err := run.Start(ctx, cfg); err != nil {
		m.releaseLease(ctx, runID)
		return err
	}
	return nil
}

// Get returns a registered run.
func (m *Manager) Get(id uuid.UUID) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", apperrors.ErrNotFound, id)
	}
	return run, nil
}

// List snapshots every registered run, oldest first.
func (m *Manager) List(ctx context.Context) ([]domain.RunSnapshot, error) {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()

	out := make([]domain.RunSnapshot, 0, len(runs))
	for _, r := range runs {
		snap, err := r.Snapshot(ctx)
		if errors.Is(err, ErrRunClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return startedBefore(out[i], out[j])
	})
	return out, nil
}

// Remove closes a run and forgets it.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	run, ok := m.runs[id]
	delete(m.runs, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: run %s", apperrors.ErrNotFound, id)
	}
	metrics.ActiveRuns.Dec()
	err := run.Close(ctx)
	m.releaseLease(ctx, id)
	return err
}

// Close shuts down every run and stops lease renewal.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	runs := m.runs
	m.runs = make(map[uuid.UUID]*Run)
	m.mu.Unlock()

	var errs []error
	for id, run := range runs {
		metrics.ActiveRuns.Dec()
		if err := run.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", id, err))
		}
		m.releaseLease(ctx, id)
	}
	m.wg.Wait()
	return errors.Join(errs...)
}

// finished runs on the run's loop goroutine and must not block it.
func (m *Manager) finished(runID, listID uuid.UUID, status domain.RunStatus) {
	m.log.Info("run finished",
		zap.String("run_id", runID.String()),
		zap.String("list_id", listID.String()),
		zap.String("status", string(status)),
	)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.releaseLease(ctx, runID)
	}()
}

func (m *Manager) releaseLease(ctx context.Context, runID uuid.UUID) {
	m.mu.Lock()
	listID, ok := m.leases[runID]
	delete(m.leases, runID)
	m.mu.Unlock()
	if !ok || m.locker == nil {
		return
	}
	if err := m.locker.Release(ctx, listID, runID); err != nil {
		m.log.Warn("release list lease failed",
			zap.String("run_id", runID.String()),
			zap.String("list_id", listID.String()),
			zap.Error(err),
		)
	}
}

func (m *Manager) keepAlive() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.RLock()
			leases := make(map[uuid.UUID]uuid.UUID, len(m.leases))
			for run, list := range m.leases {
				leases[run] = list
			}
			m.mu.RUnlock()

			for run, list := range leases {
				ctx, cancel := context.WithTimeout(context.Background(), m.refresh)
				if err := m.locker.Refresh(ctx, list, run); err != nil {
					m.log.Warn("refresh list lease failed",
						zap.String("run_id", run.String()),
						zap.String("list_id", list.String()),
						zap.Error(err),
					)
				}
				cancel()
			}
		}
	}
}

func startedBefore(a, b domain.RunSnapshot) bool {
	switch {
	case a.StartedAt == nil && b.StartedAt == nil:
		return a.ID.String() < b.ID.String()
	case a.StartedAt == nil:
		return false
	case b.StartedAt == nil:
		return true
	}
	return a.StartedAt.Before(*b.StartedAt)
}
