// Package retry provides the bounded exponential-backoff policy shared by
// lock acquisition and optimistic quota updates.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt failed with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Permanent wraps an error so Do stops retrying and returns it immediately.
type Permanent struct {
	Err error
}

func (p Permanent) Error() string { return p.Err.Error() }
func (p Permanent) Unwrap() error { return p.Err }

// Policy describes a bounded retry loop with exponential backoff:
// attempt n (0-based) sleeps BaseDelay * 2^n before the next try.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the backoff before attempt+1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay << attempt
}

// Do runs fn up to MaxAttempts times. fn returning nil ends the loop
// successfully. A Permanent error ends it immediately. Any other error is
// retried after the backoff; when attempts run out Do returns ErrExhausted
// wrapped around the last error. Context cancellation interrupts the sleep.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		last = err

		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(ErrExhausted, last)
}
