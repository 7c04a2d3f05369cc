// Package lock implements a TTL-bounded distributed mutex on Redis.
//
// Keys look like "lock:{user}:{operation}" and hold an owner token
// "{instance_id}:{acquire_unix_nano}". Release and Extend compare the stored
// token inside a Lua script, so a holder whose lock expired and was taken
// over by someone else can never destroy the new holder's lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kobeee/ai-postcard-admission/internal/config"
	"github.com/kobeee/ai-postcard-admission/internal/metrics"
	"github.com/kobeee/ai-postcard-admission/internal/retry"
)

// ErrLockUnavailable is returned when the lock could not be acquired within
// the configured attempts. It means "busy, retry later", not failure.
var ErrLockUnavailable = errors.New("lock unavailable after retries")

var errLockHeld = errors.New("lock held by another owner")

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// extendScript resets the TTL only if the key still holds the caller's token.
var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Handle identifies one held lock. Zero value is not valid.
type Handle struct {
	Key   string
	Token string
}

// Locker acquires and releases per-(user, operation) mutexes.
type Locker struct {
	rdb        redis.Cmdable
	instanceID string
	ttl        time.Duration
	policy     retry.Policy
}

// NewLocker creates a Locker. Each process gets a random instance id so
// tokens from different processes can never collide.
func NewLocker(rdb redis.Cmdable, cfg config.LockConfig) *Locker {
	return &Locker{
		rdb:        rdb,
		instanceID: uuid.NewString(),
		ttl:        cfg.TTL,
		policy:     retry.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseBackoff},
	}
}

func lockKey(userID uuid.UUID, operation string) string {
	return fmt.Sprintf("lock:%s:%s", userID, operation)
}

// Acquire takes the mutex for (userID, operation), retrying with exponential
// backoff. Returns ErrLockUnavailable when every attempt found the lock held.
func (l *Locker) Acquire(ctx context.Context, userID uuid.UUID, operation string) (Handle, error) {
	key := lockKey(userID, operation)
	token := fmt.Sprintf("%s:%d", l.instanceID, time.Now().UnixNano())

	err := l.policy.Do(ctx, func() error {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return retry.Permanent{Err: fmt.Errorf("acquiring lock %s: %w", key, err)}
		}
		if !ok {
			metrics.LockRetriesTotal.Inc()
			return errLockHeld
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			metrics.LockFailuresTotal.Inc()
			slog.Debug("lock contended past retry budget", "key", key)
			return Handle{}, ErrLockUnavailable
		}
		return Handle{}, err
	}

	return Handle{Key: key, Token: token}, nil
}

// Release frees the lock if h still owns it. Returns false when the stored
// token did not match (expired and reacquired elsewhere); in that case the
// new holder's lock is left untouched.
func (l *Locker) Release(ctx context.Context, h Handle) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{h.Key}, h.Token).Int()
	if err != nil {
		return false, fmt.Errorf("releasing lock %s: %w", h.Key, err)
	}
	return n == 1, nil
}

// Extend pushes the expiry of a held lock out by ttl. Returns false when h no
// longer owns the lock.
func (l *Locker) Extend(ctx context.Context, h Handle, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, l.rdb, []string{h.Key}, h.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extending lock %s: %w", h.Key, err)
	}
	return n == 1, nil
}
