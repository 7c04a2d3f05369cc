// Package quota implements the per-user daily generation quota state machine.
//
// A user gets MaxDaily generations per calendar day (in the configured
// timezone) and holds at most one "current card" at a time. Consume takes a
// slot, Release frees the card without refunding the slot, and
// CompensateFailure is the only path that restores consumed quota: a failed
// generation must not count against the user's budget.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kobeee/ai-postcard-admission/internal/config"
)

type Service struct {
	store    Store
	strategy Strategy
	maxDaily int
	loc      *time.Location
}

func NewService(store Store, strategy Strategy, cfg config.QuotaConfig) (*Service, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading quota timezone: %w", err)
	}
	return &Service{
		store:    store,
		strategy: strategy,
		maxDaily: cfg.MaxDaily,
		loc:      loc,
	}, nil
}

// Today returns the current quota day key in the service timezone.
func (s *Service) Today() string {
	return time.Now().In(s.loc).Format("2006-01-02")
}

// Check returns the user's quota status for today, creating a zeroed record
// on first access. Read-only.
func (s *Service) Check(ctx context.Context, userID uuid.UUID) (Status, error) {
	rec, err := s.store.GetOrCreate(ctx, userID, s.Today(), s.maxDaily)
	if err != nil {
		return Status{}, err
	}
	return statusOf(rec), nil
}

// Consume takes today's generation slot for cardID, making it the user's
// current card (replacing a previously held one). Returns false without error
// when the daily quota is spent. Under N concurrent calls with capacity K,
// exactly min(N, K) return true; the held-card rule is enforced upstream at
// admission time, not here, so winners racing each other cannot deadlock on
// each other's cards.
func (s *Service) Consume(ctx context.Context, userID uuid.UUID, cardID uuid.UUID) (bool, error) {
	consumed := false
	err := s.strategy.Mutate(ctx, userID, s.Today(), s.maxDaily, "consume", func(rec *Record) bool {
		if rec.Remaining() == 0 {
			consumed = false
			return false
		}
		rec.GeneratedCount++
		rec.CurrentCardExists = true
		id := cardID
		rec.CurrentCardID = &id
		consumed = true
		return true
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}

// Release frees the user's current card so a new generation may start while
// quota remains. The consumed count is untouched: freeing the slot is not a
// refund. A missing or unmatched cardID is treated as an idempotent no-op
// (delete paths can race with compensation), so Release reports true either
// way.
func (s *Service) Release(ctx context.Context, userID uuid.UUID, cardID uuid.UUID) (bool, error) {
	err := s.strategy.Mutate(ctx, userID, s.Today(), s.maxDaily, "release", func(rec *Record) bool {
		if !rec.CurrentCardExists {
			return false
		}
		if rec.CurrentCardID != nil && *rec.CurrentCardID != cardID {
			return false
		}
		rec.CurrentCardExists = false
		rec.CurrentCardID = nil
		return true
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// CompensateFailure gives the slot back after a downstream generation job
// failed: the generated count drops by one (floored at zero) and the card
// fields clear. Like Release it does not validate cardID against the stored
// card.
func (s *Service) CompensateFailure(ctx context.Context, userID uuid.UUID, _ uuid.UUID) (bool, error) {
	err := s.strategy.Mutate(ctx, userID, s.Today(), s.maxDaily, "compensate", func(rec *Record) bool {
		changed := false
		if rec.GeneratedCount > 0 {
			rec.GeneratedCount--
			changed = true
		}
		if rec.CurrentCardExists {
			rec.CurrentCardExists = false
			rec.CurrentCardID = nil
			changed = true
		}
		return changed
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
