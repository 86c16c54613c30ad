package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces lease keys.
const DefaultRedisPrefix = "tickflow:lock:"

var (
	// Acquire or refresh; re-entrant for the same owner. Returns 1 on success.
	acquireScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	// Returns 1 if renewed, 0 otherwise.
	renewScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

if redis.call('GET', key) == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	// Returns 1 if released, 0 otherwise.
	releaseScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

if redis.call('GET', key) == owner then
	redis.call('DEL', key)
	return 1
end
return 0
`)
)

// RedisLocker is a Locker shared by every scheduler pointed at the same
// Redis instance.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker. prefix defaults to DefaultRedisPrefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (r *RedisLocker) key(k string) string {
	return r.prefix + k
}

func (r *RedisLocker) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errInvalidTTL
	}
	n, err := acquireScript.Run(ctx, r.client, []string{r.key(key)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisLocker) Renew(ctx context.Context, key, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errInvalidTTL
	}
	n, err := renewScript.Run(ctx, r.client, []string{r.key(key)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrNotHeld
	}
	return nil
}

func (r *RedisLocker) Release(ctx context.Context, key, owner string) error {
	// Missing or foreign leases are left alone.
	return releaseScript.Run(ctx, r.client, []string{r.key(key)}, owner).Err()
}
