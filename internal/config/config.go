package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Quota     QuotaConfig
	Lock      LockConfig
	RateLimit RateLimitConfig
	Brake     BrakeConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// CORSOrigins is the allowed browser origins, comma-separated in
	// SERVER_CORS_ORIGINS. Empty falls back to the local dev frontend.
	CORSOrigins []string
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QuotaConfig controls the per-user daily generation quota.
type QuotaConfig struct {
	MaxDaily int
	// Timezone is the IANA zone that decides when "today" rolls over.
	Timezone string
	// Strategy selects how concurrent quota mutations are serialized:
	// "pessimistic" (distributed lock) or "optimistic" (CAS retry loop).
	Strategy      string
	UpdateRetries int
}

// LockConfig controls the Redis distributed lock.
type LockConfig struct {
	TTL         time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

// Rule is a (limit, window) pair for one rate-limit dimension.
type Rule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds sliding-window limits per dimension with optional
// per-action overrides. Dimension names: user, ip, endpoint, global.
type RateLimitConfig struct {
	Defaults map[string]Rule
	// Actions maps action -> dimension -> rule, overriding Defaults.
	Actions map[string]map[string]Rule
}

// RuleFor resolves the rule for a dimension and action, falling back to the
// dimension default. ok is false when neither is configured.
func (c RateLimitConfig) RuleFor(dimension, action string) (Rule, bool) {
	if byDim, found := c.Actions[action]; found {
		if r, found := byDim[dimension]; found {
			return r, true
		}
	}
	r, found := c.Defaults[dimension]
	return r, found
}

// BrakeConfig holds the emergency-brake thresholds.
type BrakeConfig struct {
	MaxInFlight  int
	MaxErrorRate float64
	ErrorWindow  time.Duration
	MinSamples   int
	RetryAfter   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        k.String("server.host"),
			Port:        k.Int("server.port"),
			CORSOrigins: splitCSV(k.String("server.cors.origins")),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		Quota: QuotaConfig{
			MaxDaily:      k.Int("quota.max.daily"),
			Timezone:      k.String("quota.timezone"),
			Strategy:      k.String("quota.strategy"),
			UpdateRetries: k.Int("quota.update.retries"),
		},
		Lock: LockConfig{
			MaxAttempts: k.Int("lock.max.attempts"),
		},
		Brake: BrakeConfig{
			MaxInFlight:  k.Int("brake.max.inflight"),
			MaxErrorRate: k.Float64("brake.max.error.rate"),
			MinSamples:   k.Int("brake.min.samples"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "postcard"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "postcard"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Quota.MaxDaily == 0 {
		cfg.Quota.MaxDaily = 2
	}
	if cfg.Quota.Timezone == "" {
		cfg.Quota.Timezone = "Asia/Shanghai"
	}
	if cfg.Quota.Strategy == "" {
		cfg.Quota.Strategy = "pessimistic"
	}
	if cfg.Quota.UpdateRetries == 0 {
		cfg.Quota.UpdateRetries = 3
	}
	if cfg.Lock.MaxAttempts == 0 {
		cfg.Lock.MaxAttempts = 3
	}
	if cfg.Brake.MaxInFlight == 0 {
		cfg.Brake.MaxInFlight = 100
	}
	if cfg.Brake.MaxErrorRate == 0 {
		cfg.Brake.MaxErrorRate = 0.5
	}
	if cfg.Brake.MinSamples == 0 {
		cfg.Brake.MinSamples = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	cfg.Lock.TTL, err = duration(k, "lock.ttl", "30s")
	if err != nil {
		return nil, err
	}
	cfg.Lock.BaseBackoff, err = duration(k, "lock.base.backoff", "100ms")
	if err != nil {
		return nil, err
	}
	cfg.Brake.ErrorWindow, err = duration(k, "brake.error.window", "1m")
	if err != nil {
		return nil, err
	}
	cfg.Brake.RetryAfter, err = duration(k, "brake.retry.after", "5m")
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit, err = loadRateLimits(k); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadRateLimits builds the dimension defaults and per-action overrides.
//
// Env layout:
//
//	RATELIMIT_USER_LIMIT=10              RATELIMIT_USER_WINDOW=1m
//	RATELIMIT_ACTION_CREATE_USER_LIMIT=5 RATELIMIT_ACTION_CREATE_USER_WINDOW=1m
func loadRateLimits(k *koanf.Koanf) (RateLimitConfig, error) {
	cfg := RateLimitConfig{
		Defaults: map[string]Rule{
			"user":     {Limit: 10, Window: time.Minute},
			"ip":       {Limit: 30, Window: time.Minute},
			"endpoint": {Limit: 300, Window: time.Minute},
			"global":   {Limit: 1000, Window: time.Minute},
		},
		Actions: map[string]map[string]Rule{},
	}

	for dim, rule := range cfg.Defaults {
		if v := k.Int("ratelimit." + dim + ".limit"); v > 0 {
			rule.Limit = v
		}
		w, err := duration(k, "ratelimit."+dim+".window", rule.Window.String())
		if err != nil {
			return cfg, err
		}
		rule.Window = w
		cfg.Defaults[dim] = rule
	}

	for _, action := range k.MapKeys("ratelimit.action") {
		for _, dim := range k.MapKeys("ratelimit.action." + action) {
			prefix := fmt.Sprintf("ratelimit.action.%s.%s", action, dim)
			rule := cfg.Defaults[dim]
			if v := k.Int(prefix + ".limit"); v > 0 {
				rule.Limit = v
			}
			w, err := duration(k, prefix+".window", rule.Window.String())
			if err != nil {
				return cfg, err
			}
			rule.Window = w
			if cfg.Actions[action] == nil {
				cfg.Actions[action] = map[string]Rule{}
			}
			cfg.Actions[action][dim] = rule
		}
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func duration(k *koanf.Koanf, key, fallback string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}
