package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/acme/power-dialer/internal/clock"
	"github.com/acme/power-dialer/internal/config"
	"github.com/acme/power-dialer/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var sweepStart = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type memRegistry struct {
	mu      sync.Mutex
	runs    []domain.RunSnapshot
	removed []uuid.UUID
}

func (r *memRegistry) List(context.Context) ([]domain.RunSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunSnapshot(nil), r.runs...), nil
}

func (r *memRegistry) Remove(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.runs {
		if s.ID == id {
			r.runs = append(r.runs[:i], r.runs[i+1:]...)
			r.removed = append(r.removed, id)
			return nil
		}
	}
	return errors.New("not found")
}

type memArchive struct {
	err      error
	archived []domain.RunSummary
}

func (a *memArchive) Archive(_ context.Context, s domain.RunSummary) error {
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, s)
	return nil
}

func finishedRun(status domain.RunStatus, finished time.Time) domain.RunSnapshot {
	started := finished.Add(-time.Hour)
	return domain.RunSnapshot{
		ID:          uuid.New(),
		ListID:      uuid.New(),
		Status:      status,
		Concurrency: 3,
		Batches:     12,
		Queue:       domain.QueueSnapshot{Depth: 4, Exhausted: 1},
		Warnings:    []string{"save failed"},
		StartedAt:   &started,
		FinishedAt:  &finished,
	}
}

func TestSweepArchivesExpiredRuns(t *testing.T) {
	clk := clock.NewManual(sweepStart)
	old := finishedRun(domain.RunStatusCompleted, sweepStart.Add(-20*time.Minute))
	recent := finishedRun(domain.RunStatusStopped, sweepStart.Add(-5*time.Minute))
	running := domain.RunSnapshot{ID: uuid.New(), Status: domain.RunStatusRunning}

	reg := &memRegistry{runs: []domain.RunSnapshot{old, recent, running}}
	arch := &memArchive{}
	j := New(reg, arch, config.JanitorConfig{Retention: 15 * time.Minute}, clk, nil)

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []uuid.UUID{old.ID}, reg.removed)

	require.Len(t, arch.archived, 1)
	got := arch.archived[0]
	assert.Equal(t, old.ID, got.RunID)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, 12, got.Batches)
	assert.Equal(t, 4, got.Remaining)
	assert.Equal(t, 1, got.Exhausted)
	assert.Equal(t, 1, got.Warnings)

	clk.Advance(10 * time.Minute)
	removed, err = j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Len(t, reg.runs, 1)
	assert.Equal(t, domain.RunStatusRunning, reg.runs[0].Status)
}

func TestSweepKeepsRunWhenArchiveFails(t *testing.T) {
	clk := clock.NewManual(sweepStart)
	run := finishedRun(domain.RunStatusCompleted, sweepStart.Add(-time.Hour))
	reg := &memRegistry{runs: []domain.RunSnapshot{run}}
	arch := &memArchive{err: errors.New("postgres down")}
	j := New(reg, arch, config.JanitorConfig{Retention: time.Minute}, clk, nil)

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Len(t, reg.runs, 1)

	arch.err = nil
	removed, err = j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestSweepWithoutArchive(t *testing.T) {
	run := finishedRun(domain.RunStatusStopped, sweepStart)
	reg := &memRegistry{runs: []domain.RunSnapshot{run}}
	j := New(reg, nil, config.JanitorConfig{}, clock.NewManual(sweepStart), nil)

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestRunStopsOnCancel(t *testing.T) {
	reg := &memRegistry{}
	j := New(reg, nil, config.JanitorConfig{Interval: time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
