// Command worker processes sprite-generation jobs pulled off the durable
// queue: submit to the remote generation service, poll to completion,
// enforce per-job timeouts, and hand failures to the Retry Manager.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/spriteforge/orchestrator/internal/adapter/observability"
	"github.com/spriteforge/orchestrator/internal/adapter/repo/postgres"
	"github.com/spriteforge/orchestrator/internal/config"
	"github.com/spriteforge/orchestrator/internal/domain"
	"github.com/spriteforge/orchestrator/internal/kvstore"
	"github.com/spriteforge/orchestrator/internal/pollingengine"
	"github.com/spriteforge/orchestrator/internal/queue/asynqueue"
	"github.com/spriteforge/orchestrator/internal/remoteclient"
	"github.com/spriteforge/orchestrator/internal/retrymanager"
	"github.com/spriteforge/orchestrator/internal/service/ratelimiter"
	"github.com/spriteforge/orchestrator/internal/sweeper"
	"github.com/spriteforge/orchestrator/internal/timeoutenforcer"
	"github.com/spriteforge/orchestrator/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	dlqRepo := postgres.NewDLQRepo(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr(), Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("redis client close failed", slog.Any("error", err))
		}
	}()
	store := kvstore.New(rdb)

	remoteLimiter := ratelimiter.NewTokenBucket(cfg.RateLimitRequestsPerMinute, cfg.RateLimitEnabled, pool, "remote-client")
	remote, err := remoteclient.New(cfg.RemoteBaseURL, cfg.RemoteHTTPTimeout, remoteLimiter, cfg.RemoteAPIKey, cfg.RemoteAPIKey2)
	if err != nil {
		slog.Error("remote client init failed", slog.Any("error", err))
		os.Exit(1)
	}

	poller := pollingengine.New(remote, pollingengine.Config{
		FloorRetryAfterS:   1,
		CeilingRetryAfterS: 3600,
		MaxAttempts:        60,
	})

	enforcer := timeoutenforcer.New(timeoutenforcer.Config{
		DefaultTimeoutMs:    int64(cfg.TimeoutDefaultMs),
		AllowPerJobOverride: cfg.TimeoutEnablePerJobOverride,
	})

	queue := asynqueue.New(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.QueueName)
	defer func() {
		if err := queue.Close(); err != nil {
			slog.Error("queue client close failed", slog.Any("error", err))
		}
	}()

	retryCfg := domain.RetryConfig{
		MaxRetries:  cfg.RetryMaxRetries,
		BaseDelayMs: cfg.RetryBaseDelayMs,
		Multiplier:  cfg.RetryMultiplier,
	}
	retry := retrymanager.New(queue, jobRepo, dlqRepo, retryCfg, cfg.DLQCooldown, store)

	w := worker.New(jobRepo, remote, poller, enforcer, retry, store)
	asynqSrv, mux := worker.NewServer(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.QueueConcurrency, cfg.QueueName, w)

	sw := sweeper.New(jobRepo, retry, cfg.SweeperMaxProcessingAge, cfg.SweeperInterval)
	go sw.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("asynq worker server starting")
		errCh <- asynqSrv.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			slog.Error("asynq server error", slog.Any("error", err))
		}
	}

	asynqSrv.Shutdown()
	slog.Info("worker stopped")
}
