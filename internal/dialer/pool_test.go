package dialer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/power-dialer/internal/domain"
	apperrors "github.com/acme/power-dialer/pkg/errors"
)

func occupancy(c domain.Contact) Occupancy {
	return Occupancy{Contact: c, Phone: c.DialNumber(), CallerID: "x", AttemptID: uuid.New(), Batch: 1, StartedAt: time.Now()}
}

func TestPoolBounds(t *testing.T) {
	for _, n := range []int{0, -1, MaxLines + 1} {
		_, err := NewLinePool(n)
		require.ErrorIs(t, err, apperrors.ErrConfiguration, "n=%d", n)
	}
	p, err := NewLinePool(MaxLines)
	require.NoError(t, err)
	assert.Equal(t, MaxLines, p.Size())
}

func TestPoolOccupyAndRelease(t *testing.T) {
	p, err := NewLinePool(3)
	require.NoError(t, err)
	a, b := newContact("a"), newContact("b")

	require.NoError(t, p.Occupy(1, occupancy(a)))
	assert.Equal(t, []int{0, 2}, p.Available())
	assert.Equal(t, 1, p.Occupied())

	line, err := p.Line(1)
	require.NoError(t, err)
	assert.Equal(t, domain.LineStatusDialing, line.Status)
	assert.Equal(t, a.ID, line.Contact.ID)

	err = p.Occupy(1, occupancy(b))
	require.ErrorIs(t, err, apperrors.ErrInvariantViolation, "line already busy")
	err = p.Occupy(2, occupancy(a))
	require.ErrorIs(t, err, apperrors.ErrInvariantViolation, "contact already on a line")

	found, ok := p.ByAttempt(line.AttemptID)
	require.True(t, ok)
	assert.Equal(t, 1, found.Slot)

	held, err := p.Release(1)
	require.NoError(t, err)
	assert.Equal(t, a.ID, held.Contact.ID)
	assert.Nil(t, line.Contact)
	assert.Equal(t, domain.LineStatusIdle, line.Status)

	_, err = p.Release(1)
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, ok = p.ByAttempt(held.AttemptID)
	assert.False(t, ok)

	_, err = p.Line(7)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPoolResize(t *testing.T) {
	p, err := NewLinePool(2)
	require.NoError(t, err)
	require.NoError(t, p.Occupy(1, occupancy(newContact("a"))))

	require.ErrorIs(t, p.Resize(1), apperrors.ErrInvalidState)
	require.NoError(t, p.Resize(4))
	assert.Equal(t, []int{0, 2, 3}, p.Available())

	_, err = p.Release(1)
	require.NoError(t, err)
	require.NoError(t, p.Resize(1))
	assert.Equal(t, 1, p.Size())
	require.ErrorIs(t, p.Resize(0), apperrors.ErrConfiguration)
}

func TestPoolReleaseAll(t *testing.T) {
	p, err := NewLinePool(3)
	require.NoError(t, err)
	require.NoError(t, p.Occupy(0, occupancy(newContact("a"))))
	require.NoError(t, p.Occupy(2, occupancy(newContact("b"))))

	held := p.ReleaseAll()
	assert.Len(t, held, 2)
	assert.Zero(t, p.Occupied())
	assert.Empty(t, p.ReleaseAll())
}

func TestLineSnapshotIsDetached(t *testing.T) {
	p, err := NewLinePool(1)
	require.NoError(t, err)
	require.NoError(t, p.Occupy(0, occupancy(newContact("a", "+15550100001"))))

	line, _ := p.Line(0)
	snap := line.Snapshot()
	snap.Contact.Phones[0] = "changed"
	assert.Equal(t, "+15550100001", line.Contact.Phones[0])
	assert.NotNil(t, snap.StartedAt)
	assert.Nil(t, snap.ConnectedAt)
}
