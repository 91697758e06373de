package locks

import (
	"context"
	"time"
)

// WaitObserver receives how long a Lock call waited and whether it succeeded.
type WaitObserver interface {
	ObserveLockWait(waited time.Duration, acquired bool)
}

type instrumented struct {
	next     Locker
	observer WaitObserver
}

// Instrument reports acquisition latency of next to observer.
func Instrument(next Locker, observer WaitObserver) Locker {
	if observer == nil {
		return next
	}
	return &instrumented{next: next, observer: observer}
}

func (i *instrumented) Lock(ctx context.Context, key string) (Unlock, error) {
	start := time.Now()
	unlock, err := i.next.Lock(ctx, key)
	i.observer.ObserveLockWait(time.Since(start), err == nil)
	return unlock, err
}
