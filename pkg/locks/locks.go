// Package locks serializes mutations of a single aggregate (an order, a
// payout, a vendor's settlement) across request handlers and replicas.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func() error

// Locker acquires exclusive, keyed locks, waiting up to the implementation's
// acquire timeout.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// TryLocker acquires a keyed lock without waiting.
type TryLocker interface {
	TryLock(ctx context.Context, key string) (Unlock, bool, error)
}

func OrderKey(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

func PayoutKey(payoutID uuid.UUID) string {
	return "payout:" + payoutID.String()
}

func VendorSettlementKey(vendorID uuid.UUID) string {
	return "vendor-settlement:" + vendorID.String()
}

func JobKey(name string) string {
	return "job:" + name
}

// LockMany acquires every key in sorted order so two callers locking
// overlapping sets cannot deadlock. On failure, locks already taken are
// released before returning.
func LockMany(ctx context.Context, l Locker, keys []string) (Unlock, error) {
	sorted := dedupSorted(keys)
	held := make([]Unlock, 0, len(sorted))
	releaseAll := func() error {
		var err error
		for i := len(held) - 1; i >= 0; i-- {
			err = multierr.Append(err, held[i]())
		}
		return err
	}
	for _, key := range sorted {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			return nil, multierr.Append(err, releaseAll())
		}
		held = append(held, unlock)
	}
	return once(releaseAll), nil
}

func dedupSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func once(fn func() error) Unlock {
	done := false
	return func() error {
		if done {
			return nil
		}
		done = true
		return fn()
	}
}

func timeoutError(key string, cause error) error {
	if cause == nil || errors.Is(cause, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, fmt.Sprintf("timed out waiting for lock %s", key)).
			WithReason(pkgerrors.ReasonLockTimeout)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, fmt.Sprintf("lock %s not acquired", key)).
		WithReason(pkgerrors.ReasonLockTimeout)
}

func withAcquireTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
