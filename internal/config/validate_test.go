package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postcard", Password: "secret", Name: "postcard"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Quota: QuotaConfig{
			MaxDaily:      2,
			Timezone:      "Asia/Shanghai",
			Strategy:      "pessimistic",
			UpdateRetries: 3,
		},
		Lock: LockConfig{TTL: 30 * time.Second, MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond},
		RateLimit: RateLimitConfig{
			Defaults: map[string]Rule{
				"user":   {Limit: 10, Window: time.Minute},
				"global": {Limit: 1000, Window: time.Minute},
			},
			Actions: map[string]map[string]Rule{},
		},
		Brake: BrakeConfig{
			MaxInFlight:  100,
			MaxErrorRate: 0.5,
			ErrorWindow:  time.Minute,
			MinSamples:   10,
			RetryAfter:   5 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_MissingDBPassword(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got %v", err)
	}
}

func TestValidate_BadStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.Strategy = "hopeful"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "QUOTA_STRATEGY") {
		t.Fatalf("expected QUOTA_STRATEGY error, got %v", err)
	}
}

func TestValidate_BadTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.Timezone = "Mars/Olympus"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "QUOTA_TIMEZONE") {
		t.Fatalf("expected QUOTA_TIMEZONE error, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	cfg.Lock.MaxAttempts = 0
	cfg.Brake.MaxErrorRate = 2
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"DB_PASSWORD", "LOCK_MAX_ATTEMPTS", "BRAKE_MAX_ERROR_RATE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in error, got %v", want, err)
		}
	}
}

func TestRuleFor_ActionOverride(t *testing.T) {
	cfg := RateLimitConfig{
		Defaults: map[string]Rule{"user": {Limit: 10, Window: time.Minute}},
		Actions: map[string]map[string]Rule{
			"create": {"user": {Limit: 5, Window: time.Minute}},
		},
	}

	r, ok := cfg.RuleFor("user", "create")
	if !ok || r.Limit != 5 {
		t.Fatalf("expected override limit 5, got %+v ok=%v", r, ok)
	}

	r, ok = cfg.RuleFor("user", "delete")
	if !ok || r.Limit != 10 {
		t.Fatalf("expected default limit 10, got %+v ok=%v", r, ok)
	}

	_, ok = cfg.RuleFor("nosuch", "create")
	if ok {
		t.Fatal("expected no rule for unknown dimension")
	}
}
