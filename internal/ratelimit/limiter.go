// Package ratelimit implements Redis sliding-window rate limiting across the
// user, ip, endpoint and global dimensions, plus the system-wide emergency
// brake. When Redis is unreachable the limiter fails open: product
// availability is preferred over strict throttling.
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

// Dimension names one scope a request is counted under.
type Dimension string

const (
	DimensionUser     Dimension = "user"
	DimensionIP       Dimension = "ip"
	DimensionEndpoint Dimension = "endpoint"
	DimensionGlobal   Dimension = "global"
	// DimensionBrake marks a denial from the emergency brake rather than a
	// per-key window.
	DimensionBrake Dimension = "brake"
)

// Request identifies one incoming call. Empty UserID, IP or Endpoint skips
// that dimension; the global dimension always applies.
type Request struct {
	UserID   string
	IP       string
	Endpoint string
	Action   string
}

// Violation describes one dimension that denied the request.
type Violation struct {
	Dimension  Dimension     `json:"dimension"`
	Key        string        `json:"key"`
	Limit      int           `json:"limit"`
	Window     time.Duration `json:"window"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Result is a full rate-limit decision. BlockedBy lists every violated
// dimension, not just the first, so operators can see which scopes are hot.
type Result struct {
	Allowed    bool
	BlockedBy  []Violation
	RetryAfter time.Duration
}

// Limiter runs the sliding-window test on Redis sorted sets, one set per
// (dimension, key, action).
type Limiter struct {
	rdb   redis.Cmdable
	cfg   config.RateLimitConfig
	brake *Brake
	seq   atomic.Uint64
}

// NewLimiter creates a Limiter. brake may be nil when no emergency brake is
// wanted (tests mostly).
func NewLimiter(rdb redis.Cmdable, cfg config.RateLimitConfig, brake *Brake) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg, brake: brake}
}

func windowKey(dim Dimension, key, action string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", dim, key, action)
}

// Check evaluates every applicable dimension and ANDs the outcomes. The
// emergency brake runs first and denies everything with its own retry-after
// when tripped. Redis failures log a warning and allow the request.
func (l *Limiter) Check(ctx context.Context, req Request) Result {
	if l.brake != nil {
		if tripped, retryAfter := l.brake.Tripped(ctx); tripped {
			metrics.RateLimitDeniedTotal.WithLabelValues(string(DimensionBrake)).Inc()
			return Result{
				Allowed:    false,
				BlockedBy:  []Violation{{Dimension: DimensionBrake, RetryAfter: retryAfter}},
				RetryAfter: retryAfter,
			}
		}
	}

	type scope struct {
		dim Dimension
		key string
	}
	scopes := make([]scope, 0, 4)
	if req.UserID != "" {
		scopes = append(scopes, scope{DimensionUser, req.UserID})
	}
	if req.IP != "" {
		scopes = append(scopes, scope{DimensionIP, req.IP})
	}
	if req.Endpoint != "" {
		scopes = append(scopes, scope{DimensionEndpoint, req.Endpoint})
	}
	scopes = append(scopes, scope{DimensionGlobal, "all"})

	res := Result{Allowed: true}
	for _, sc := range scopes {
		rule, ok := l.cfg.RuleFor(string(sc.dim), req.Action)
		if !ok {
			continue
		}
		allowed, err := l.slide(ctx, windowKey(sc.dim, sc.key, req.Action), rule)
		if err != nil {
			slog.Warn("rate limiter: redis error, failing open",
				"dimension", sc.dim, "key", sc.key, "error", err)
			continue
		}
		if !allowed {
			metrics.RateLimitDeniedTotal.WithLabelValues(string(sc.dim)).Inc()
			v := Violation{
				Dimension:  sc.dim,
				Key:        sc.key,
				Limit:      rule.Limit,
				Window:     rule.Window,
				RetryAfter: rule.Window,
			}
			res.Allowed = false
			res.BlockedBy = append(res.BlockedBy, v)
			if v.RetryAfter > res.RetryAfter {
				res.RetryAfter = v.RetryAfter
			}
		}
	}
	return res
}

// slide prunes entries older than the window, tentatively records the current
// request and admits it iff the window had capacity before the add.
func (l *Limiter) slide(ctx context.Context, key string, rule config.Rule) (bool, error) {
	now := time.Now()
	windowStart := float64(now.Add(-rule.Window).UnixMilli())
	member := fmt.Sprintf("%d:%d", now.UnixNano(), l.seq.Add(1))

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(windowStart, 'f', 0, 64))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, rule.Window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("sliding window %s: %w", key, err)
	}

	return countCmd.Val() < int64(rule.Limit), nil
}
