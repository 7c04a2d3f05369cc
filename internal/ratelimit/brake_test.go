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

func brakeConfig() config.BrakeConfig {
	return config.BrakeConfig{
		MaxInFlight:  3,
		MaxErrorRate: 0.5,
		ErrorWindow:  time.Minute,
		MinSamples:   4,
		RetryAfter:   5 * time.Minute,
	}
}

func setupBrake(t *testing.T) (*Brake, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBrake(client, brakeConfig()), mr
}

func TestBrake_QuietSystemNotTripped(t *testing.T) {
	b, _ := setupBrake(t)
	tripped, _ := b.Tripped(context.Background())
	assert.False(t, tripped)
}

func TestBrake_TripsOnInFlight(t *testing.T) {
	b, _ := setupBrake(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		b.RequestStarted(ctx)
	}
	tripped, retryAfter := b.Tripped(ctx)
	require.True(t, tripped)
	assert.Equal(t, 5*time.Minute, retryAfter)

	// Requests draining releases the brake.
	for i := 0; i < 4; i++ {
		b.RequestFinished(ctx, true)
	}
	tripped, _ = b.Tripped(ctx)
	assert.False(t, tripped)
}

func TestBrake_TripsOnErrorRate(t *testing.T) {
	b, _ := setupBrake(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		b.RequestStarted(ctx)
		b.RequestFinished(ctx, i%2 == 0) // 3 of 6 fail -> rate 0.5, not above threshold
	}
	tripped, _ := b.Tripped(ctx)
	assert.False(t, tripped, "rate equal to the threshold must not trip")

	b.RequestStarted(ctx)
	b.RequestFinished(ctx, false) // 4 of 7 fail -> above 0.5
	tripped, retryAfter := b.Tripped(ctx)
	require.True(t, tripped)
	assert.Equal(t, 5*time.Minute, retryAfter)
}

func TestBrake_ErrorRateNeedsMinSamples(t *testing.T) {
	b, _ := setupBrake(t)
	ctx := context.Background()

	// 100% errors but below MinSamples.
	for i := 0; i < 3; i++ {
		b.RequestStarted(ctx)
		b.RequestFinished(ctx, false)
	}
	tripped, _ := b.Tripped(ctx)
	assert.False(t, tripped)
}

func TestBrake_StaleInFlightCountExpires(t *testing.T) {
	b, mr := setupBrake(t)
	ctx := context.Background()

	// Processes that die mid-request never call RequestFinished, leaving
	// orphaned increments past the threshold.
	for i := 0; i < 4; i++ {
		b.RequestStarted(ctx)
	}
	tripped, _ := b.Tripped(ctx)
	require.True(t, tripped)

	// Once the system goes idle the counter's TTL lapses and the brake
	// releases instead of denying traffic forever.
	mr.FastForward(inFlightTTL + time.Second)
	tripped, _ = b.Tripped(ctx)
	require.False(t, tripped)

	// Normal traffic afterwards keeps the counter balanced.
	b.RequestStarted(ctx)
	b.RequestFinished(ctx, true)
	tripped, _ = b.Tripped(ctx)
	assert.False(t, tripped)
}

func TestBrake_FailsOpenWhenRedisDown(t *testing.T) {
	b, mr := setupBrake(t)
	mr.Close()

	tripped, _ := b.Tripped(context.Background())
	assert.False(t, tripped)
}

func TestLimiter_BrakeDeniesEverything(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	brake := NewBrake(client, brakeConfig())
	l := NewLimiter(client, limitConfig(), brake)
	ctx := context.Background()

	require.True(t, l.Check(ctx, Request{UserID: "u", Action: "create"}).Allowed)

	for i := 0; i < 4; i++ {
		brake.RequestStarted(ctx)
	}

	res := l.Check(ctx, Request{UserID: "other", Action: "create"})
	require.False(t, res.Allowed)
	require.Len(t, res.BlockedBy, 1)
	assert.Equal(t, DimensionBrake, res.BlockedBy[0].Dimension)
	assert.Equal(t, 5*time.Minute, res.RetryAfter, "brake advertises the longer retry-after")
}
