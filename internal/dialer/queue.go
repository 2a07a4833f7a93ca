package dialer

import (
	"time"

	"github.com/acme/power-dialer/internal/domain"
)

// ContactQueue is the backlog of contacts awaiting an attempt. Contacts not
// attempted on the current day are served before contacts already attempted
// today; order is preserved within each group. Group membership is evaluated
// on every read against the clock, so nothing is re-sorted when the day turns.
type ContactQueue struct {
	items []domain.Contact
	now   func() time.Time
}

// NewContactQueue builds a queue holding copies of contacts in the given order.
func NewContactQueue(contacts []domain.Contact, now func() time.Time) *ContactQueue {
	q := &ContactQueue{items: make([]domain.Contact, 0, len(contacts)), now: now}
	for _, c := range contacts {
		q.items = append(q.items, c.Clone())
	}
	return q
}

// Len returns the number of queued contacts.
func (q *ContactQueue) Len() int {
	return len(q.items)
}

// IsEmpty reports whether both partitions are empty.
func (q *ContactQueue) IsEmpty() bool {
	return len(q.items) == 0
}

// Peek returns up to k contacts in dequeue order without removing them.
func (q *ContactQueue) Peek(k int) []domain.Contact {
	idx := q.order(k)
	out := make([]domain.Contact, 0, len(idx))
	for _, i := range idx {
		out = append(out, q.items[i].Clone())
	}
	return out
}

// Dequeue removes and returns up to k contacts, fresh ones first.
func (q *ContactQueue) Dequeue(k int) []domain.Contact {
	idx := q.order(k)
	if len(idx) == 0 {
		return nil
	}

	taken := make(map[int]struct{}, len(idx))
	out := make([]domain.Contact, 0, len(idx))
	for _, i := range idx {
		taken[i] = struct{}{}
		out = append(out, q.items[i])
	}

	rest := q.items[:0:0]
	for i, c := range q.items {
		if _, ok := taken[i]; !ok {
			rest = append(rest, c)
		}
	}
	q.items = rest
	return out
}

// Requeue stamps the contact as attempted now, increments its attempt counter
// and appends it to the tail. The updated contact is returned.
func (q *ContactQueue) Requeue(c domain.Contact) domain.Contact {
	c = Attempted(c, q.now())
	q.items = append(q.items, c)
	return c.Clone()
}

// Contains reports whether a contact with the given id is queued.
func (q *ContactQueue) Contains(c domain.Contact) bool {
	for _, item := range q.items {
		if item.ID == c.ID {
			return true
		}
	}
	return false
}

// Snapshot lists the queue in dequeue order.
func (q *ContactQueue) Snapshot(deadLeadThreshold int) domain.QueueSnapshot {
	now := q.now()
	snap := domain.QueueSnapshot{Depth: len(q.items)}
	for _, i := range q.order(len(q.items)) {
		c := q.items[i]
		today := c.AttemptedOn(now)
		if today {
			snap.AttemptedToday++
		} else {
			snap.Fresh++
		}
		snap.Contacts = append(snap.Contacts, domain.QueuedContact{
			Contact:        c.Clone(),
			AttemptedToday: today,
			DeadLead:       deadLeadThreshold > 0 && c.DialAttempts >= deadLeadThreshold,
		})
	}
	return snap
}

// order returns indices of the first k contacts in dequeue order.
func (q *ContactQueue) order(k int) []int {
	if k <= 0 || len(q.items) == 0 {
		return nil
	}
	now := q.now()
	out := make([]int, 0, min(k, len(q.items)))
	for i, c := range q.items {
		if len(out) == k {
			return out
		}
		if !c.AttemptedOn(now) {
			out = append(out, i)
		}
	}
	for i, c := range q.items {
		if len(out) == k {
			return out
		}
		if c.AttemptedOn(now) {
			out = append(out, i)
		}
	}
	return out
}

// Attempted returns c with its counter incremented and attempted-at stamped.
func Attempted(c domain.Contact, at time.Time) domain.Contact {
	c.DialAttempts++
	stamp := at
	c.LastAttemptedAt = &stamp
	return c
}
