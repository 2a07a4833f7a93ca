package dialer

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/power-dialer/internal/domain"
)

func names(cs []domain.Contact) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

func queuedNames(s domain.QueueSnapshot) []string {
	out := make([]string, 0, len(s.Contacts))
	for _, q := range s.Contacts {
		out = append(out, q.Contact.Name)
	}
	return out
}

func newContact(name string, phones ...string) domain.Contact {
	if len(phones) == 0 {
		phones = []string{"+1 555 010 0000"}
	}
	return domain.Contact{ID: uuid.New(), Name: name, Phones: phones}
}

func TestQueuePrefersFreshContacts(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	earlier := now.Add(-2 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)

	a := newContact("a")
	a.LastAttemptedAt = &earlier
	b := newContact("b")
	c := newContact("c")
	c.LastAttemptedAt = &yesterday
	d := newContact("d")
	d.LastAttemptedAt = &earlier

	q := NewContactQueue([]domain.Contact{a, b, c, d}, func() time.Time { return now })

	if diff := cmp.Diff([]string{"b", "c", "a"}, names(q.Peek(3))); diff != "" {
		t.Fatalf("peek order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, q.Len(), "peek must not remove")

	assert.Equal(t, []string{"b", "c"}, names(q.Dequeue(2)))
	assert.Equal(t, []string{"a", "d"}, names(q.Dequeue(5)))
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Dequeue(1))
}

func TestQueueRequeueStampsAndSortsAfterFresh(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	q := NewContactQueue([]domain.Contact{newContact("a"), newContact("b"), newContact("c")}, func() time.Time { return now })

	got := q.Dequeue(1)
	require.Len(t, got, 1)
	updated := q.Requeue(got[0])

	assert.Equal(t, 1, updated.DialAttempts)
	require.NotNil(t, updated.LastAttemptedAt)
	assert.True(t, updated.LastAttemptedAt.Equal(now))
	assert.True(t, q.Contains(updated))

	snap := q.Snapshot(0)
	assert.Equal(t, []string{"b", "c", "a"}, queuedNames(snap))
	assert.Equal(t, 3, snap.Depth)
	assert.Equal(t, 2, snap.Fresh)
	assert.Equal(t, 1, snap.AttemptedToday)
	assert.True(t, snap.Contacts[2].AttemptedToday)
}

func TestQueuePartitionFollowsTheClock(t *testing.T) {
	now := time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)
	q := NewContactQueue([]domain.Contact{newContact("a"), newContact("b")}, func() time.Time { return now })

	a := q.Dequeue(1)[0]
	q.Requeue(a)
	assert.Equal(t, []string{"b", "a"}, names(q.Peek(2)))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, []string{"a", "b"}, names(q.Peek(2)), "a stamped yesterday is fresh again")
}

func TestQueueDeadLeadHint(t *testing.T) {
	now := time.Now()
	c := newContact("tired")
	c.DialAttempts = 6
	q := NewContactQueue([]domain.Contact{c, newContact("new")}, func() time.Time { return now })

	snap := q.Snapshot(5)
	assert.True(t, snap.Contacts[0].DeadLead)
	assert.False(t, snap.Contacts[1].DeadLead)

	assert.False(t, q.Snapshot(0).Contacts[0].DeadLead, "threshold 0 disables the hint")
}

func TestQueueCopiesInput(t *testing.T) {
	c := newContact("a", "+15550100001")
	input := []domain.Contact{c}
	q := NewContactQueue(input, time.Now)

	input[0].Phones[0] = "changed"
	assert.Equal(t, "+15550100001", q.Peek(1)[0].Phones[0])
}
