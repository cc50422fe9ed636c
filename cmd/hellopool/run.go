package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/hellopool/internal/config"
	"github.com/vnykmshr/hellopool/internal/server"
	"github.com/vnykmshr/hellopool/pkg/metrics"
	"github.com/vnykmshr/hellopool/pkg/ratelimit/bucket"
	"github.com/vnykmshr/hellopool/pkg/ratelimit/distributed"
	"github.com/vnykmshr/hellopool/pkg/scheduling/workerpool"
)

// run wires the components described by cfg and blocks until ctx is done
// or one of them fails.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var (
		promRegistry *prometheus.Registry
		registry     *metrics.Registry
	)
	if cfg.Metrics.Enabled {
		promRegistry = prometheus.NewRegistry()
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = metrics.NewRegistry(promRegistry)
	}

	pool, err := workerpool.NewWithRegistry(workerpool.Config{
		WorkerCount:   cfg.Pool.Workers,
		QueueSize:     cfg.Pool.QueueSize,
		TaskTimeout:   cfg.Pool.TaskTimeout,
		FailurePolicy: cfg.Pool.Policy(),
		Name:          cfg.Server.Name,
		Logger:        logger,
	}, registry)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	admitter, cleanup, err := buildAdmitter(ctx, cfg, registry, logger)
	if err != nil {
		_ = pool.Close()
		return err
	}
	defer cleanup()

	srv, err := server.New(pool, server.Config{
		Addr:          cfg.Server.Addr,
		Name:          cfg.Server.Name,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		StatsSchedule: cfg.Server.StatsSchedule,
		Admitter:      admitter,
		Metrics:       registry,
		Logger:        logger,
	})
	if err != nil {
		_ = pool.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if promRegistry != nil {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics, promRegistry, logger)
		})
	}
	return g.Wait()
}

// buildAdmitter returns the admission control selected by cfg.Admission and
// a cleanup func releasing anything it opened.
func buildAdmitter(ctx context.Context, cfg config.Config, registry *metrics.Registry, logger *slog.Logger) (server.Admitter, func(), error) {
	noop := func() {}

	mode := strings.ToLower(cfg.Admission.Mode)
	if mode == config.AdmissionOff {
		return nil, noop, nil
	}

	local, err := bucket.NewWithRegistry(bucket.Config{
		Rate:          bucket.Limit(cfg.Admission.Rate),
		Burst:         cfg.Admission.Burst,
		InitialTokens: -1,
	}, cfg.Server.Name, registry)
	if err != nil {
		return nil, noop, fmt.Errorf("create local limiter: %w", err)
	}
	if mode == config.AdmissionLocal {
		return server.LocalAdmitter(local), noop, nil
	}

	strategy, err := distributed.ParseStrategy(cfg.Admission.Strategy)
	if err != nil {
		return nil, noop, err
	}

	timeout := cfg.Redis.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,

		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, noop, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	limiter, err := distributed.NewLimiter(strategy, distributed.Config{
		Redis:           rdb,
		Key:             cfg.Admission.Key,
		Limit:           cfg.Admission.Limit,
		Window:          cfg.Admission.Window,
		RedisTimeout:    timeout,
		FallbackToLocal: true,
		LocalLimiter:    local,
		Logger:          logger,
	})
	if err != nil {
		_ = rdb.Close()
		return nil, noop, fmt.Errorf("create distributed limiter: %w", err)
	}

	cleanup := func() {
		if err := limiter.Close(); err != nil {
			logger.Warn("deregistering from distributed limiter", slog.Any("error", err))
		}
		_ = rdb.Close()
	}
	return server.DistributedAdmitter(limiter), cleanup, nil
}

// serveMetrics exposes reg over HTTP until ctx is done.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", slog.String("addr", cfg.Addr), slog.String("path", cfg.Path))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
