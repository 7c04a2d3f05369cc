package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobeee/ai-postcard-admission/internal/config"
)

func limitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Defaults: map[string]config.Rule{
			"user":     {Limit: 5, Window: 60 * time.Second},
			"ip":       {Limit: 10, Window: 60 * time.Second},
			"endpoint": {Limit: 100, Window: 60 * time.Second},
			"global":   {Limit: 1000, Window: 60 * time.Second},
		},
		Actions: map[string]map[string]config.Rule{},
	}
}

func setupLimiter(t *testing.T, cfg config.RateLimitConfig) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, cfg, nil), mr
}

func TestCheck_SixthCallDenied(t *testing.T) {
	l, _ := setupLimiter(t, limitConfig())
	ctx := context.Background()
	req := Request{UserID: "user-1", IP: "1.2.3.4", Endpoint: "/generate", Action: "create"}

	for i := 0; i < 5; i++ {
		res := l.Check(ctx, req)
		assert.True(t, res.Allowed, "call %d should be allowed", i+1)
	}

	res := l.Check(ctx, req)
	require.False(t, res.Allowed)
	require.Len(t, res.BlockedBy, 1)
	assert.Equal(t, DimensionUser, res.BlockedBy[0].Dimension)
	assert.Equal(t, 60*time.Second, res.RetryAfter)
}

func TestCheck_WindowSlides(t *testing.T) {
	l, mr := setupLimiter(t, limitConfig())
	ctx := context.Background()
	req := Request{UserID: "user-1", Action: "create"}

	for i := 0; i < 5; i++ {
		l.Check(ctx, req)
	}
	require.False(t, l.Check(ctx, req).Allowed)

	// Past the window the user is admitted again. FastForward expires the
	// window key via its TTL.
	mr.FastForward(61 * time.Second)

	res := l.Check(ctx, req)
	assert.True(t, res.Allowed)
}

func TestCheck_AllDimensionsReported(t *testing.T) {
	cfg := limitConfig()
	cfg.Defaults["user"] = config.Rule{Limit: 1, Window: 60 * time.Second}
	cfg.Defaults["ip"] = config.Rule{Limit: 1, Window: 120 * time.Second}
	l, _ := setupLimiter(t, cfg)
	ctx := context.Background()
	req := Request{UserID: "user-1", IP: "1.2.3.4", Action: "create"}

	require.True(t, l.Check(ctx, req).Allowed)

	res := l.Check(ctx, req)
	require.False(t, res.Allowed)
	require.Len(t, res.BlockedBy, 2, "both violated dimensions must be listed")

	dims := map[Dimension]bool{}
	for _, v := range res.BlockedBy {
		dims[v.Dimension] = true
	}
	assert.True(t, dims[DimensionUser])
	assert.True(t, dims[DimensionIP])
	assert.Equal(t, 120*time.Second, res.RetryAfter, "retry-after is the longest violated window")
}

func TestCheck_DimensionsIndependent(t *testing.T) {
	cfg := limitConfig()
	cfg.Defaults["user"] = config.Rule{Limit: 1, Window: 60 * time.Second}
	l, _ := setupLimiter(t, cfg)
	ctx := context.Background()

	require.True(t, l.Check(ctx, Request{UserID: "user-1", Action: "create"}).Allowed)
	require.False(t, l.Check(ctx, Request{UserID: "user-1", Action: "create"}).Allowed)

	// Another user is unaffected.
	assert.True(t, l.Check(ctx, Request{UserID: "user-2", Action: "create"}).Allowed)
}

func TestCheck_ActionOverride(t *testing.T) {
	cfg := limitConfig()
	cfg.Actions = map[string]map[string]config.Rule{
		"create": {"user": {Limit: 2, Window: 60 * time.Second}},
	}
	l, _ := setupLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.True(t, l.Check(ctx, Request{UserID: "u", Action: "create"}).Allowed)
	}
	assert.False(t, l.Check(ctx, Request{UserID: "u", Action: "create"}).Allowed)

	// Other actions keep the dimension default of 5.
	for i := 0; i < 3; i++ {
		assert.True(t, l.Check(ctx, Request{UserID: "u", Action: "delete"}).Allowed)
	}
}

func TestCheck_GlobalDimension(t *testing.T) {
	cfg := limitConfig()
	cfg.Defaults["global"] = config.Rule{Limit: 3, Window: 60 * time.Second}
	l, _ := setupLimiter(t, cfg)
	ctx := context.Background()

	// Different users share the global window.
	for i := 0; i < 3; i++ {
		require.True(t, l.Check(ctx, Request{UserID: "u" + string(rune('a'+i)), Action: "create"}).Allowed)
	}
	res := l.Check(ctx, Request{UserID: "ux", Action: "create"})
	require.False(t, res.Allowed)
	assert.Equal(t, DimensionGlobal, res.BlockedBy[0].Dimension)
}

func TestCheck_FailsOpenWhenRedisDown(t *testing.T) {
	l, mr := setupLimiter(t, limitConfig())
	mr.Close()

	res := l.Check(context.Background(), Request{UserID: "u", Action: "create"})
	assert.True(t, res.Allowed, "limiter must fail open when the counter store is unreachable")
	assert.Empty(t, res.BlockedBy)
}
