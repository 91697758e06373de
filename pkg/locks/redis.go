package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const releaseTimeout = 2 * time.Second

// RedisStore is the subset of the redis client used for distributed locks.
type RedisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	LockKey(name string) string
}

// RedisLocker implements Locker with SET NX PX plus an owner token, so a
// holder whose TTL lapsed cannot release a successor's lock.
type RedisLocker struct {
	store          RedisStore
	ttl            time.Duration
	acquireTimeout time.Duration
	retryInterval  time.Duration
}

type RedisOptions struct {
	TTL            time.Duration
	AcquireTimeout time.Duration
	RetryInterval  time.Duration
}

func NewRedisLocker(store RedisStore, opts RedisOptions) (*RedisLocker, error) {
	if store == nil {
		return nil, fmt.Errorf("redis store required for locks")
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	return &RedisLocker{
		store:          store,
		ttl:            opts.TTL,
		acquireTimeout: opts.AcquireTimeout,
		retryInterval:  opts.RetryInterval,
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	waitCtx, cancel := withAcquireTimeout(ctx, l.acquireTimeout)
	defer cancel()

	owner := uuid.NewString()
	redisKey := l.store.LockKey(key)
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.store.SetNX(waitCtx, redisKey, owner, l.ttl)
		if err != nil && waitCtx.Err() == nil {
			return nil, timeoutError(key, fmt.Errorf("setnx: %w", err))
		}
		if ok {
			return l.releaser(redisKey, owner), nil
		}
		select {
		case <-waitCtx.Done():
			return nil, timeoutError(key, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (Unlock, bool, error) {
	owner := uuid.NewString()
	redisKey := l.store.LockKey(key)
	ok, err := l.store.SetNX(ctx, redisKey, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return l.releaser(redisKey, owner), true, nil
}

func (l *RedisLocker) releaser(redisKey, owner string) Unlock {
	return once(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if _, err := l.store.CompareAndDelete(ctx, redisKey, owner); err != nil {
			return fmt.Errorf("release lock %s: %w", redisKey, err)
		}
		return nil
	})
}
