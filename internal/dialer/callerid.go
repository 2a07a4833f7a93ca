package dialer

import (
	"fmt"
	"math/rand"

	"github.com/acme/power-dialer/internal/domain"
	apperrors "github.com/acme/power-dialer/pkg/errors"
)

// CallerIDAllocator picks the outbound identity for each attempt.
type CallerIDAllocator struct {
	strategy domain.CallerIDStrategy
	pool     []string
	rng      *rand.Rand
}

// NewCallerIDAllocator validates the strategy and pool.
func NewCallerIDAllocator(strategy domain.CallerIDStrategy, pool []string, rng *rand.Rand) (*CallerIDAllocator, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown caller-id strategy %q", apperrors.ErrConfiguration, strategy)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: caller-id pool is empty", apperrors.ErrConfiguration)
	}
	for _, id := range pool {
		if id == "" {
			return nil, fmt.Errorf("%w: caller-id pool contains an empty identity", apperrors.ErrConfiguration)
		}
	}
	return &CallerIDAllocator{strategy: strategy, pool: append([]string(nil), pool...), rng: rng}, nil
}

// Assign returns the identity for an attempt placed on slot.
func (a *CallerIDAllocator) Assign(slot int) (string, error) {
	if len(a.pool) == 0 {
		return "", fmt.Errorf("%w: caller-id pool is empty", apperrors.ErrConfiguration)
	}
	switch a.strategy {
	case domain.CallerIDRoundRobin:
		if slot < 0 {
			slot = -slot
		}
		return a.pool[slot%len(a.pool)], nil
	case domain.CallerIDRandom:
		return a.pool[a.rng.Intn(len(a.pool))], nil
	default:
		return a.pool[0], nil
	}
}

// Strategy returns the configured rotation strategy.
func (a *CallerIDAllocator) Strategy() domain.CallerIDStrategy { return a.strategy }

// Pool returns a copy of the selected identities.
func (a *CallerIDAllocator) Pool() []string { return append([]string(nil), a.pool...) }
