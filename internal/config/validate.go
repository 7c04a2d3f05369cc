package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Quota
	if c.Quota.MaxDaily < 1 {
		errs = append(errs, fmt.Sprintf("QUOTA_MAX_DAILY must be >= 1, got %d", c.Quota.MaxDaily))
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("QUOTA_TIMEZONE %q is not a valid IANA zone", c.Quota.Timezone))
	}
	switch c.Quota.Strategy {
	case "pessimistic", "optimistic":
	default:
		errs = append(errs, fmt.Sprintf("QUOTA_STRATEGY must be pessimistic or optimistic, got %q", c.Quota.Strategy))
	}
	if c.Quota.UpdateRetries < 1 {
		errs = append(errs, fmt.Sprintf("QUOTA_UPDATE_RETRIES must be >= 1, got %d", c.Quota.UpdateRetries))
	}

	// Lock
	if c.Lock.TTL < time.Second {
		errs = append(errs, fmt.Sprintf("LOCK_TTL must be >= 1s, got %s", c.Lock.TTL))
	}
	if c.Lock.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("LOCK_MAX_ATTEMPTS must be >= 1, got %d", c.Lock.MaxAttempts))
	}
	if c.Lock.BaseBackoff <= 0 {
		errs = append(errs, fmt.Sprintf("LOCK_BASE_BACKOFF must be > 0, got %s", c.Lock.BaseBackoff))
	}

	// Rate limits
	for dim, rule := range c.RateLimit.Defaults {
		if rule.Limit < 1 || rule.Window <= 0 {
			errs = append(errs, fmt.Sprintf("RATELIMIT default for %s must have limit >= 1 and window > 0", dim))
		}
	}
	for action, byDim := range c.RateLimit.Actions {
		for dim, rule := range byDim {
			if rule.Limit < 1 || rule.Window <= 0 {
				errs = append(errs, fmt.Sprintf("RATELIMIT override %s/%s must have limit >= 1 and window > 0", action, dim))
			}
		}
	}

	// Brake
	if c.Brake.MaxErrorRate <= 0 || c.Brake.MaxErrorRate > 1 {
		errs = append(errs, fmt.Sprintf("BRAKE_MAX_ERROR_RATE must be in (0, 1], got %g", c.Brake.MaxErrorRate))
	}
	if c.Brake.MaxInFlight < 1 {
		errs = append(errs, fmt.Sprintf("BRAKE_MAX_INFLIGHT must be >= 1, got %d", c.Brake.MaxInFlight))
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
