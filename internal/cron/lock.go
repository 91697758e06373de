package cron

import (
	"context"
	"errors"
	"sync"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
)

// Lock coordinates exclusive cron runs across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// KeyedLock adapts a non-blocking keyed locker to Lock. A cycle that finds the
// key held skips instead of queueing behind the running instance.
type KeyedLock struct {
	locker locks.TryLocker
	key    string

	mu     sync.Mutex
	unlock locks.Unlock
}

func NewKeyedLock(locker locks.TryLocker, name string) (*KeyedLock, error) {
	if locker == nil {
		return nil, errors.New("locker required for cron lock")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	return &KeyedLock{locker: locker, key: locks.JobKey(name)}, nil
}

func (l *KeyedLock) Acquire(ctx context.Context) (bool, error) {
	unlock, ok, err := l.locker.TryLock(ctx, l.key)
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.unlock = unlock
	l.mu.Unlock()
	return true, nil
}

// Release frees the lock if this instance holds it.
func (l *KeyedLock) Release(context.Context) error {
	l.mu.Lock()
	unlock := l.unlock
	l.unlock = nil
	l.mu.Unlock()
	if unlock == nil {
		return nil
	}
	return unlock()
}
