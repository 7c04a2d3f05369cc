package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kobeee/ai-postcard-admission/internal/config"
	"github.com/kobeee/ai-postcard-admission/internal/metrics"
)

const (
	inFlightKey = "brake:inflight"
	requestsKey = "brake:requests"
	errorsKey   = "brake:errors"

	// inFlightTTL bounds how long the shared in-flight counter survives
	// without traffic. A process that dies between RequestStarted and
	// RequestFinished leaks its increments; the sliding TTL lets an idle
	// system shed them instead of pinning the brake on forever.
	inFlightTTL = 2 * time.Minute
)

// Brake is the emergency circuit breaker: it watches global health counters
// (in-flight requests across all instances, rolling error rate) and, once a
// threshold is crossed, denies every request regardless of per-key limits.
type Brake struct {
	rdb redis.Cmdable
	cfg config.BrakeConfig
	seq atomic.Uint64
}

func NewBrake(rdb redis.Cmdable, cfg config.BrakeConfig) *Brake {
	return &Brake{rdb: rdb, cfg: cfg}
}

// RequestStarted bumps the shared in-flight counter and refreshes its TTL.
func (b *Brake) RequestStarted(ctx context.Context) {
	metrics.RequestsInFlight.Inc()
	pipe := b.rdb.Pipeline()
	pipe.Incr(ctx, inFlightKey)
	pipe.Expire(ctx, inFlightKey, inFlightTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("brake: incrementing in-flight counter failed", "error", err)
	}
}

// RequestFinished drops the in-flight counter and records the outcome in the
// rolling request/error windows.
func (b *Brake) RequestFinished(ctx context.Context, success bool) {
	metrics.RequestsInFlight.Dec()

	now := time.Now()
	member := fmt.Sprintf("%d:%d", now.UnixNano(), b.seq.Add(1))
	score := float64(now.UnixMilli())
	ttl := b.cfg.ErrorWindow + time.Second

	pipe := b.rdb.Pipeline()
	decr := pipe.Decr(ctx, inFlightKey)
	pipe.Expire(ctx, inFlightKey, inFlightTTL)
	pipe.ZAdd(ctx, requestsKey, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, requestsKey, ttl)
	if !success {
		pipe.ZAdd(ctx, errorsKey, redis.Z{Score: score, Member: member})
		pipe.Expire(ctx, errorsKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("brake: recording request outcome failed", "error", err)
		return
	}
	// A restart mid-request can leave the counter negative; clamp it.
	if decr.Val() < 0 {
		_ = b.rdb.Set(ctx, inFlightKey, 0, 0).Err()
	}
}

// Tripped reports whether the brake currently denies all traffic, and the
// retry-after to advertise. Counter-store failures fail open like the rest
// of the limiter.
func (b *Brake) Tripped(ctx context.Context) (bool, time.Duration) {
	inFlight, err := b.rdb.Get(ctx, inFlightKey).Int64()
	if err != nil && err != redis.Nil {
		slog.Warn("brake: reading in-flight counter failed, failing open", "error", err)
		return false, 0
	}
	if inFlight > int64(b.cfg.MaxInFlight) {
		slog.Warn("emergency brake tripped on concurrency",
			"in_flight", inFlight, "max", b.cfg.MaxInFlight)
		return true, b.cfg.RetryAfter
	}

	total, errs, err := b.rollingCounts(ctx)
	if err != nil {
		slog.Warn("brake: reading error-rate counters failed, failing open", "error", err)
		return false, 0
	}
	if total >= int64(b.cfg.MinSamples) && total > 0 {
		rate := float64(errs) / float64(total)
		if rate > b.cfg.MaxErrorRate {
			slog.Warn("emergency brake tripped on error rate",
				"rate", rate, "max", b.cfg.MaxErrorRate, "samples", total)
			return true, b.cfg.RetryAfter
		}
	}
	return false, 0
}

func (b *Brake) rollingCounts(ctx context.Context) (total, errs int64, err error) {
	windowStart := strconv.FormatFloat(
		float64(time.Now().Add(-b.cfg.ErrorWindow).UnixMilli()), 'f', 0, 64)

	pipe := b.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, requestsKey, "-inf", windowStart)
	pipe.ZRemRangeByScore(ctx, errorsKey, "-inf", windowStart)
	totalCmd := pipe.ZCard(ctx, requestsKey)
	errsCmd := pipe.ZCard(ctx, errorsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("pruning health windows: %w", err)
	}
	return totalCmd.Val(), errsCmd.Val(), nil
}
