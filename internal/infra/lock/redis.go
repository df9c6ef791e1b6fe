package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/skinroutine/internal/domain/locking"
)

const defaultRetryInterval = 100 * time.Millisecond

// RedisLocker serializes reconciliation runs across instances.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker builds a locker holding keys for ttl and retrying for up to wait.
func NewRedisLocker(rdb redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, wait: wait}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string) (locking.Lock, error) {
	opts := &redislock.Options{}
	if l.wait > 0 {
		retries := int(l.wait / defaultRetryInterval)
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(defaultRetryInterval), retries)
	}

	lk, err := l.client.Obtain(ctx, key, l.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", locking.ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return &redisLock{lk: lk}, nil
}

type redisLock struct {
	lk *redislock.Lock
}

func (l *redisLock) Release(ctx context.Context) error {
	err := l.lk.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// expired under us; nothing left to release
		return nil
	}
	return err
}
