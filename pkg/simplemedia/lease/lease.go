// Package lease lets exactly one scheduler across replicas act as the queue
// producer for a scan run.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Lease is held by at most one owner at a time.
type Lease interface {
	// Acquire takes the lease or extends it if already held. It reports false
	// when another owner holds it.
	Acquire(ctx context.Context) (bool, error)

	// Release gives the lease up if held.
	Release(ctx context.Context) error
}

// Noop always grants. It is the lease of a single-replica deployment.
type Noop struct{}

func (Noop) Acquire(context.Context) (bool, error) { return true, nil }

func (Noop) Release(context.Context) error { return nil }

// DefaultKey is the Redis key the scheduler lease lives under.
const DefaultKey = "simple-media:scheduler:lease"

const acquireScript = `
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
if not current then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0
`

const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// Redis is a lease stored as a single key with a TTL. The holder is
// identified by a random owner token so a replica never releases a lease
// that expired and was taken over by another.
type Redis struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewRedis creates a lease on key with the given ttl
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{
		client: client,
		key:    key,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *Redis) Acquire(ctx context.Context) (bool, error) {
	result, err := l.client.Eval(ctx, acquireScript, []string{l.key}, l.owner, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}

	granted, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result type from lease script")
	}
	return granted == 1, nil
}

func (l *Redis) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Owner returns the token identifying this holder
func (l *Redis) Owner() string {
	return l.owner
}
