//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kobeee/ai-postcard-admission/internal/admission"
	"github.com/kobeee/ai-postcard-admission/internal/api"
	"github.com/kobeee/ai-postcard-admission/internal/config"
	"github.com/kobeee/ai-postcard-admission/internal/lock"
	"github.com/kobeee/ai-postcard-admission/internal/middleware"
	"github.com/kobeee/ai-postcard-admission/internal/quota"
	"github.com/kobeee/ai-postcard-admission/internal/ratelimit"
)

type TestEnv struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Server   *httptest.Server
	QuotaSvc *quota.Service
	Svc      *admission.Service
	Brake    *ratelimit.Brake
}

var testEnv *TestEnv

// SetupTestEnv starts Postgres and Redis containers once per test binary and
// wires the full admission stack against them.
func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "admission_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/admission_test?sslmode=disable", pgHost, pgPort.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}
	m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting pgx pool: %v", err)
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisHost + ":" + redisPort.Port()})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Fatalf("pinging redis: %v", err)
	}

	store := quota.NewPostgresStore(pool)
	locker := lock.NewLocker(redisClient, config.LockConfig{
		TTL:         30 * time.Second,
		MaxAttempts: 10,
		BaseBackoff: 5 * time.Millisecond,
	})
	quotaSvc, err := quota.NewService(store,
		quota.NewPessimisticStrategy(store, locker, 5),
		config.QuotaConfig{MaxDaily: 2, Timezone: "UTC", UpdateRetries: 5})
	if err != nil {
		t.Fatalf("building quota service: %v", err)
	}

	brake := ratelimit.NewBrake(redisClient, config.BrakeConfig{
		MaxInFlight:  50,
		MaxErrorRate: 0.9,
		ErrorWindow:  time.Minute,
		MinSamples:   20,
		RetryAfter:   5 * time.Minute,
	})
	limiter := ratelimit.NewLimiter(redisClient, config.RateLimitConfig{
		Defaults: map[string]config.Rule{
			"user":     {Limit: 100, Window: 60 * time.Second},
			"ip":       {Limit: 1000, Window: 60 * time.Second},
			"endpoint": {Limit: 1000, Window: 60 * time.Second},
			"global":   {Limit: 10000, Window: 60 * time.Second},
		},
		Actions: map[string]map[string]config.Rule{
			"create": {"user": {Limit: 5, Window: 60 * time.Second}},
		},
	}, brake)

	svc := admission.NewService(quotaSvc, limiter)
	handler := admission.NewHandler(svc)

	router := api.NewRouter(pool, redisClient, api.RouterConfig{
		RateLimiter:    middleware.RateLimit(limiter, "api"),
		HealthCounters: middleware.HealthCounters(brake),
	}, api.HandlerSet{
		GetQuota:     handler.GetQuota,
		ConsumeQuota: handler.Consume,
		ReleaseCard:  handler.Release,
		QuotaFailure: handler.Failure,
		Admit:        handler.Admit,
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		pool.Close()
		redisClient.Close()
		// Containers die with this test's cleanup, so later tests must
		// build a fresh environment.
		testEnv = nil
	})

	testEnv = &TestEnv{
		Pool:     pool,
		Redis:    redisClient,
		Server:   server,
		QuotaSvc: quotaSvc,
		Svc:      svc,
		Brake:    brake,
	}
	return testEnv
}
