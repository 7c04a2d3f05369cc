package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/kobeee/ai-postcard-admission/internal/admission"
	"github.com/kobeee/ai-postcard-admission/internal/api"
	"github.com/kobeee/ai-postcard-admission/internal/config"
	"github.com/kobeee/ai-postcard-admission/internal/database"
	"github.com/kobeee/ai-postcard-admission/internal/lock"
	"github.com/kobeee/ai-postcard-admission/internal/middleware"
	"github.com/kobeee/ai-postcard-admission/internal/quota"
	"github.com/kobeee/ai-postcard-admission/internal/ratelimit"
	iredis "github.com/kobeee/ai-postcard-admission/internal/redis"
	"github.com/kobeee/ai-postcard-admission/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("validating config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Quota state machine: lock-based or CAS-based mutation, picked once here.
	store := quota.NewPostgresStore(pool)
	var strategy quota.Strategy
	switch cfg.Quota.Strategy {
	case "optimistic":
		strategy = quota.NewOptimisticStrategy(store, cfg.Quota.UpdateRetries)
	default:
		locker := lock.NewLocker(redisClient, cfg.Lock)
		strategy = quota.NewPessimisticStrategy(store, locker, cfg.Quota.UpdateRetries)
	}
	quotaSvc, err := quota.NewService(store, strategy, cfg.Quota)
	if err != nil {
		slog.Error("building quota service", "error", err)
		os.Exit(1)
	}

	// Rate limiter with emergency brake
	brake := ratelimit.NewBrake(redisClient, cfg.Brake)
	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit, brake)

	admissionSvc := admission.NewService(quotaSvc, limiter)
	handler := admission.NewHandler(admissionSvc)

	router := api.NewRouter(pool, redisClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimiter:        middleware.RateLimit(limiter, "api"),
		HealthCounters:     middleware.HealthCounters(brake),
	}, api.HandlerSet{
		GetQuota:     handler.GetQuota,
		ConsumeQuota: handler.Consume,
		ReleaseCard:  handler.Release,
		QuotaFailure: handler.Failure,
		Admit:        handler.Admit,
	})

	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
