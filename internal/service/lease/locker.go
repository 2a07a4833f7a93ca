package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttl = tonumber(ARGV[2])
local current = redis.call('GET', key)
if not current then
  redis.call('SET', key, owner, 'PX', ttl)
  return 1
end
if current == owner then
  redis.call('PEXPIRE', key, ttl)
  return 1
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[2]))
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker hands out per-list leases so that one contact list is dialed by at
// most one run across all API instances.
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewLocker constructs a Redis backed list locker.
func NewLocker(client *redis.Client, prefix string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if prefix == "" {
		prefix = "dialer:list"
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl}
}

// TTL returns the lease lifetime.
func (l *Locker) TTL() time.Duration { return l.ttl }

// Acquire takes the lease for listID on behalf of owner. Re-acquiring an
// owned lease extends it.
func (l *Locker) Acquire(ctx context.Context, listID, owner uuid.UUID) (bool, error) {
	res, err := acquireScript.Run(ctx, l.client, []string{l.key(listID)}, owner.String(), l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lease acquire: %w", err)
	}
	return res == 1, nil
}

// Refresh extends a lease still held by owner.
func (l *Locker) Refresh(ctx context.Context, listID, owner uuid.UUID) error {
	res, err := refreshScript.Run(ctx, l.client, []string{l.key(listID)}, owner.String(), l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lease refresh: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("lease refresh: list %s no longer held by %s", listID, owner)
	}
	return nil
}

// Release drops the lease if owner still holds it.
func (l *Locker) Release(ctx context.Context, listID, owner uuid.UUID) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key(listID)}, owner.String()).Int(); err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

func (l *Locker) key(listID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:lease", l.prefix, listID.String())
}
