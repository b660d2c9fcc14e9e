package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when the advisory lock is already held. Callers are
// expected to surface it as a retryable rejection, never to block.
var ErrLockHeld = errors.New("advisory lock held")

// releaseScript deletes the lock only when the token matches, so an expired
// lock re-acquired by another caller is never released by the first one.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Locker provides short-lived advisory locks with a bounded TTL. It serialises
// multi-field read-modify-write sequences (per-order delivery bookkeeping)
// that cannot be expressed as a single guarded update.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocker builds a Locker. TTL bounds how long a crashed holder can wedge an
// order; acquisition always fails fast.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

// OrderLockKey builds the lock key for a single order's mutation section.
func OrderLockKey(orderID int64) string {
	return fmt.Sprintf("order:%d:lock", orderID)
}

// Acquire attempts to take the lock once. On success it returns a release
// function that must be called in a defer regardless of outcome.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func() {
		// Release must survive request cancellation.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.client.Eval(ctx, releaseScript, []string{key}, token).Err()
	}
	return release, nil
}
