// Command server starts the sprite-generation orchestrator's HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/spriteforge/orchestrator/internal/adapter/httpserver"
	"github.com/spriteforge/orchestrator/internal/adapter/observability"
	"github.com/spriteforge/orchestrator/internal/adapter/repo/postgres"
	"github.com/spriteforge/orchestrator/internal/app"
	"github.com/spriteforge/orchestrator/internal/config"
	"github.com/spriteforge/orchestrator/internal/domain"
	"github.com/spriteforge/orchestrator/internal/healthcheck"
	"github.com/spriteforge/orchestrator/internal/kvstore"
	coreobs "github.com/spriteforge/orchestrator/internal/observability"
	"github.com/spriteforge/orchestrator/internal/queue/asynqueue"
	"github.com/spriteforge/orchestrator/internal/remoteclient"
	"github.com/spriteforge/orchestrator/internal/retrymanager"
	"github.com/spriteforge/orchestrator/internal/service/ratelimiter"
	"github.com/spriteforge/orchestrator/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /admin/prometheus
	// exposes HTTP and job instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	dlqRepo := postgres.NewDLQRepo(pool)

	cleanup := postgres.NewDLQCleanupService(dlqRepo, cfg.DLQMaxAge, cfg.DLQCleanupInterval)
	go cleanup.RunPeriodic(ctx)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr(), Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("redis client close failed", slog.Any("error", err))
		}
	}()
	store := kvstore.New(rdb)

	queue := asynqueue.New(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.QueueName)
	defer func() {
		if err := queue.Close(); err != nil {
			slog.Error("queue client close failed", slog.Any("error", err))
		}
	}()

	admission := usecase.NewAdmissionController(store, queue, jobRepo, usecase.AdmissionConfig{
		MaxPerUser:            cfg.MaxJobsPerUser,
		SystemLimit:           cfg.SystemQueueLimit,
		WarningThreshold:      cfg.WarningThreshold,
		CacheTTL:              time.Duration(cfg.CacheTTLDays) * 24 * time.Hour,
		DedupWindow:           cfg.DedupWindow,
		Concurrency:           cfg.QueueConcurrency,
		BaselinePerJobSeconds: cfg.BaselinePerJobSeconds,
	})

	retryCfg := domain.RetryConfig{
		MaxRetries:  cfg.RetryMaxRetries,
		BaseDelayMs: cfg.RetryBaseDelayMs,
		Multiplier:  cfg.RetryMultiplier,
	}
	retry := retrymanager.New(queue, jobRepo, dlqRepo, retryCfg, cfg.DLQCooldown, store)

	remoteLimiter := ratelimiter.NewTokenBucket(cfg.RateLimitRequestsPerMinute, cfg.RateLimitEnabled, pool, "remote-client")
	remote, err := remoteclient.New(cfg.RemoteBaseURL, cfg.RemoteHTTPTimeout, remoteLimiter, cfg.RemoteAPIKey, cfg.RemoteAPIKey2)
	if err != nil {
		slog.Error("remote client init failed", slog.Any("error", err))
		os.Exit(1)
	}

	checker := healthcheck.New(
		store.Ping,
		func(rctx context.Context) error {
			_, perr := remote.GetBalance(rctx)
			return perr
		},
		func(rctx context.Context) (int, error) {
			waiting, _, _, derr := queue.Depth(rctx)
			return waiting, derr
		},
		cfg.WarningThreshold,
		cfg.SystemQueueLimit,
	)

	metrics := coreobs.NewJobMetrics()

	srv := httpserver.NewServer(cfg, admission, jobRepo, retry, checker, metrics)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
