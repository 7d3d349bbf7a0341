package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces the Redis keys this manager owns.
const keyPrefix = "agentbot:lock:"

// releaseScript performs a compare-and-delete: it deletes the key only
// if its current value still matches the caller's fencing token,
// atomically so a concurrent acquirer that has since claimed the key
// (because this holder's TTL lapsed) is never evicted by a late
// Release from the superseded holder.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisManager is the distributed Manager described by §4.4: a
// set-if-absent key with a TTL standing in for the leased critical
// section, and the fencing token as the key's value. It coordinates
// lock holders across every runtime process sharing the Redis
// instance, unlike MemoryManager and SQLiteManager which are
// single-host.
type RedisManager struct {
	client *redis.Client
}

// NewRedis creates a distributed Manager backed by the given Redis URL.
func NewRedis(url string) (*RedisManager, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisManager{client: redis.NewClient(opts)}, nil
}

func lockKey(key string) string {
	return keyPrefix + key
}

// TryAcquire implements Manager via SET key token NX PX ttl.
func (m *RedisManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lease{
		Key:     key,
		Token:   token,
		expires: time.Now().Add(ttl),
		release: m.release,
	}, nil
}

func (m *RedisManager) release(ctx context.Context, key, token string) error {
	n, err := m.client.Eval(ctx, releaseScript, []string{lockKey(key)}, token).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Close closes the underlying Redis client.
func (m *RedisManager) Close() error {
	return m.client.Close()
}
