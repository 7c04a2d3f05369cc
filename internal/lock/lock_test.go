package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobeee/ai-postcard-admission/internal/config"
)

func setupLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLocker(client, config.LockConfig{
		TTL:         30 * time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}), mr
}

func TestAcquireRelease_RoundTrip(t *testing.T) {
	l, _ := setupLocker(t)
	ctx := context.Background()
	user := uuid.New()

	h, err := l.Acquire(ctx, user, "consume")
	require.NoError(t, err)
	assert.NotEmpty(t, h.Token)

	ok, err := l.Release(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	// Released lock is acquirable again immediately.
	h2, err := l.Acquire(ctx, user, "consume")
	require.NoError(t, err)
	assert.NotEqual(t, h.Token, h2.Token)
}

func TestAcquire_ContendedReturnsUnavailable(t *testing.T) {
	l, _ := setupLocker(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := l.Acquire(ctx, user, "consume")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, user, "consume")
	assert.ErrorIs(t, err, ErrLockUnavailable)
}

func TestAcquire_IndependentKeys(t *testing.T) {
	l, _ := setupLocker(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := l.Acquire(ctx, user, "consume")
	require.NoError(t, err)

	// Different operation and different user are separate mutexes.
	_, err = l.Acquire(ctx, user, "release")
	require.NoError(t, err)
	_, err = l.Acquire(ctx, uuid.New(), "consume")
	require.NoError(t, err)
}

func TestRelease_WrongTokenLeavesLockAlone(t *testing.T) {
	l, mr := setupLocker(t)
	ctx := context.Background()
	user := uuid.New()

	h, err := l.Acquire(ctx, user, "consume")
	require.NoError(t, err)

	ok, err := l.Release(ctx, Handle{Key: h.Key, Token: "someone-else:1"})
	require.NoError(t, err)
	assert.False(t, ok)

	// The real holder's value is untouched.
	got, err := mr.Get(h.Key)
	require.NoError(t, err)
	assert.Equal(t, h.Token, got)
}

func TestRelease_AfterExpiryAndReacquire(t *testing.T) {
	l, mr := setupLocker(t)
	ctx := context.Background()
	user := uuid.New()

	h1, err := l.Acquire(ctx, user, "consume")
	require.NoError(t, err)

	// Simulate the first holder's TTL lapsing and a second holder taking over.
	mr.FastForward(31 * time.Second)
	h2, err := l.Acquire(ctx, user, "consume")
	require.NoError(t, err)

	// The stale holder's delayed release must not free the new lock.
	ok, err := l.Release(ctx, h1)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := mr.Get(h2.Key)
	require.NoError(t, err)
	assert.Equal(t, h2.Token, got)
}

func TestExtend_OwnerOnly(t *testing.T) {
	l, mr := setupLocker(t)
	ctx := context.Background()
	user := uuid.New()

	h, err := l.Acquire(ctx, user, "consume")
	require.NoError(t, err)

	ok, err := l.Extend(ctx, h, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(h.Key))

	ok, err = l.Extend(ctx, Handle{Key: h.Key, Token: "impostor:0"}, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(h.Key))
}

func TestAcquire_StoreDownFailsClosed(t *testing.T) {
	l, mr := setupLocker(t)
	mr.Close()

	_, err := l.Acquire(context.Background(), uuid.New(), "consume")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockUnavailable)
}
