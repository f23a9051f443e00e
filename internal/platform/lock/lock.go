// Package lock provides named critical sections, either in-process or
// shared across processes through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotObtained is returned when a lock stays held by someone else.
	ErrNotObtained = errors.New("lock: not obtained")
	// ErrLost is returned by Refresh once the lease has expired.
	ErrLost = errors.New("lock: lease lost")
)

// Lock is a held critical section. Long holders call Refresh between steps
// to extend the lease.
type Lock interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker obtains named locks.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

// Redis backs locks with bsm/redislock.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
}

// NewRedis constructs a Redis-backed Locker. Obtain retries a few times at
// ttl/10 intervals before giving up.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{client: redislock.New(client), ttl: ttl, retries: 5}
}

// Obtain implements Locker.
func (r *Redis) Obtain(ctx context.Context, key string) (Lock, error) {
	l, err := r.client.Obtain(ctx, key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.ttl/10), r.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
	}
	return redisLock{l: l, ttl: r.ttl}, nil
}

type redisLock struct {
	l   *redislock.Lock
	ttl time.Duration
}

func (l redisLock) Refresh(ctx context.Context) error {
	err := l.l.Refresh(ctx, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrLost, l.l.Key())
	}
	return err
}

func (l redisLock) Release(ctx context.Context) error {
	err := l.l.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// Local serialises callers within one process.
type Local struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocal constructs an in-process Locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]chan struct{})}
}

// Obtain implements Locker. It blocks until the key is free or ctx ends.
func (l *Local) Obtain(ctx context.Context, key string) (Lock, error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			done := make(chan struct{})
			l.locks[key] = done
			l.mu.Unlock()
			return &localLock{owner: l, key: key, done: done}, nil
		}
		l.mu.Unlock()
		select {
		case <-held:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotObtained, key, ctx.Err())
		}
	}
}

type localLock struct {
	owner *Local
	key   string
	done  chan struct{}
	once  sync.Once
}

// Refresh is a no-op; local locks do not expire.
func (l *localLock) Refresh(context.Context) error { return nil }

func (l *localLock) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.locks, l.key)
		l.owner.mu.Unlock()
		close(l.done)
	})
	return nil
}
