package dialer

import (
	"fmt"

	apperrors "github.com/acme/power-dialer/pkg/errors"
)

// DispositionGate blocks batch formation while a connected or ended call is
// waiting for the operator's outcome. One gate means one operator.
type DispositionGate struct {
	set  bool
	slot int
}

// Set latches the gate for slot.
func (g *DispositionGate) Set(slot int) error {
	if g.set && g.slot != slot {
		return fmt.Errorf("%w: gate already held by line %d, cannot latch for line %d", apperrors.ErrInvariantViolation, g.slot, slot)
	}
	g.set, g.slot = true, slot
	return nil
}

// Clear releases the gate.
func (g *DispositionGate) Clear() {
	g.set, g.slot = false, 0
}

// IsSet reports whether new batches are blocked.
func (g *DispositionGate) IsSet() bool { return g.set }

// Holder returns the slot holding the gate.
func (g *DispositionGate) Holder() (int, bool) { return g.slot, g.set }
