package presence

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/power-dialer/pkg/logger"
)

// Registry tracks which runs are actively dialing. Clients poll it to suppress
// their default audio routing while any run is live.
type Registry struct {
	log *logger.Logger

	mu     sync.RWMutex
	active map[uuid.UUID]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{log: log.Named("presence"), active: make(map[uuid.UUID]struct{})}
}

// SetDialerActive records a run starting or stopping.
func (r *Registry) SetDialerActive(runID uuid.UUID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.active) > 0
	if active {
		r.active[runID] = struct{}{}
	} else {
		delete(r.active, runID)
	}
	if after := len(r.active) > 0; after != before {
		r.log.Info("dialer presence changed", zap.Bool("active", after), zap.String("run_id", runID.String()))
	}
}

// Active reports whether any run is dialing.
func (r *Registry) Active() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active) > 0
}

// Runs lists the active run ids in a stable order.
func (r *Registry) Runs() []uuid.UUID {
	r.mu.RLock()
	out := make([]uuid.UUID, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
