package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kobeee/ai-postcard-admission/internal/lock"
	"github.com/kobeee/ai-postcard-admission/internal/metrics"
	"github.com/kobeee/ai-postcard-admission/internal/retry"
)

// ErrConcurrentUpdate is returned when a versioned write kept losing to other
// writers past the retry budget. Distinct from lock.ErrLockUnavailable so
// callers can tell which layer is congested.
var ErrConcurrentUpdate = errors.New("quota record contended past retry budget")

// Strategy serializes one read-validate-write cycle on a quota record.
// fn mutates the record in place and reports whether anything changed; when
// it returns false the cycle commits nothing. Picked once at startup.
type Strategy interface {
	Mutate(ctx context.Context, userID uuid.UUID, day string, maxDaily int, operation string, fn func(*Record) bool) error
}

// PessimisticStrategy holds the distributed lock for the whole cycle. The
// conditional write stays versioned anyway, so a mixed deployment running
// the optimistic strategy on other instances cannot lose updates.
type PessimisticStrategy struct {
	store  Store
	locker *lock.Locker
	policy retry.Policy
}

func NewPessimisticStrategy(store Store, locker *lock.Locker, updateRetries int) *PessimisticStrategy {
	return &PessimisticStrategy{
		store:  store,
		locker: locker,
		policy: casPolicy(updateRetries),
	}
}

func (s *PessimisticStrategy) Mutate(ctx context.Context, userID uuid.UUID, day string, maxDaily int, operation string, fn func(*Record) bool) error {
	h, err := s.locker.Acquire(ctx, userID, operation)
	if err != nil {
		return err
	}
	defer func() {
		released, err := s.locker.Release(context.WithoutCancel(ctx), h)
		if err != nil {
			slog.Warn("quota: releasing lock failed", "key", h.Key, "error", err)
		} else if !released {
			slog.Warn("quota: lock expired before release", "key", h.Key)
		}
	}()

	return mutateVersioned(ctx, s.store, s.policy, userID, day, maxDaily, fn)
}

// OptimisticStrategy runs a lock-free compare-and-swap retry loop.
type OptimisticStrategy struct {
	store  Store
	policy retry.Policy
}

func NewOptimisticStrategy(store Store, updateRetries int) *OptimisticStrategy {
	return &OptimisticStrategy{store: store, policy: casPolicy(updateRetries)}
}

func (s *OptimisticStrategy) Mutate(ctx context.Context, userID uuid.UUID, day string, maxDaily int, _ string, fn func(*Record) bool) error {
	return mutateVersioned(ctx, s.store, s.policy, userID, day, maxDaily, fn)
}

// mutateVersioned is the shared read-validate-write cycle: only a version
// conflict re-enters the loop, every other store error propagates as-is.
func mutateVersioned(ctx context.Context, store Store, policy retry.Policy, userID uuid.UUID, day string, maxDaily int, fn func(*Record) bool) error {
	err := policy.Do(ctx, func() error {
		rec, err := store.GetOrCreate(ctx, userID, day, maxDaily)
		if err != nil {
			return retry.Permanent{Err: err}
		}
		if !fn(&rec) {
			return nil
		}
		if err := store.UpdateVersioned(ctx, rec); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				metrics.QuotaConflictsTotal.Inc()
				return err
			}
			return retry.Permanent{Err: err}
		}
		return nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: user %s day %s", ErrConcurrentUpdate, userID, day)
	}
	return err
}

func casPolicy(updateRetries int) retry.Policy {
	if updateRetries < 1 {
		updateRetries = 1
	}
	return retry.Policy{MaxAttempts: updateRetries, BaseDelay: 10 * time.Millisecond}
}
