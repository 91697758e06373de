package locks

import (
	"context"
	"sync"
	"time"
)

// Arena is an in-process lock table keyed by aggregate id. Entries exist only
// while a holder or waiter references them, so the table never grows with the
// number of orders ever seen.
type Arena struct {
	mu             sync.Mutex
	entries        map[string]*arenaEntry
	acquireTimeout time.Duration
}

type arenaEntry struct {
	sem  chan struct{}
	refs int
}

func NewArena(acquireTimeout time.Duration) *Arena {
	return &Arena{
		entries:        make(map[string]*arenaEntry),
		acquireTimeout: acquireTimeout,
	}
}

func (a *Arena) Lock(ctx context.Context, key string) (Unlock, error) {
	entry := a.ref(key)

	waitCtx, cancel := withAcquireTimeout(ctx, a.acquireTimeout)
	defer cancel()

	select {
	case entry.sem <- struct{}{}:
		return a.releaser(key, entry), nil
	case <-waitCtx.Done():
		a.unref(key, entry)
		return nil, timeoutError(key, waitCtx.Err())
	}
}

func (a *Arena) TryLock(_ context.Context, key string) (Unlock, bool, error) {
	entry := a.ref(key)
	select {
	case entry.sem <- struct{}{}:
		return a.releaser(key, entry), true, nil
	default:
		a.unref(key, entry)
		return nil, false, nil
	}
}

// Len reports how many keys are currently held or awaited.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *Arena) ref(key string) *arenaEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[key]
	if !ok {
		entry = &arenaEntry{sem: make(chan struct{}, 1)}
		a.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (a *Arena) unref(key string, entry *arenaEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(a.entries, key)
	}
}

func (a *Arena) releaser(key string, entry *arenaEntry) Unlock {
	var released sync.Once
	return func() error {
		released.Do(func() {
			<-entry.sem
			a.unref(key, entry)
		})
		return nil
	}
}
