// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Yvictor/pj"
	"github.com/Yvictor/pj/pkg/breaker"
	"github.com/Yvictor/pj/pkg/health"
	"github.com/Yvictor/pj/pkg/idmanager"
	"github.com/Yvictor/pj/pkg/metrics"
	"github.com/Yvictor/pj/pkg/ratelimit"
	"github.com/Yvictor/pj/pkg/server/tcp"
)

const envPrefix = "PJ_"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := pj.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	mappings, err := cfg.Mappings()
	if err != nil {
		logger.Error("invalid proxy mapping", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(mappings) == 0 {
		logger.Error("no proxy mappings configured, set PJ_PROXY or PJ_PROXIES")
		os.Exit(1)
	}

	var resetInterval time.Duration
	if cfg.IDResetInterval != "" {
		resetInterval, err = idmanager.ParseDuration(cfg.IDResetInterval)
		if err != nil {
			logger.Error("invalid PJ_ID_RESET_INTERVAL", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	var resetThreshold uint64
	if cfg.IDResetCount != "" {
		resetThreshold, err = idmanager.ParseCount(cfg.IDResetCount)
		if err != nil {
			logger.Error("invalid PJ_ID_RESET_COUNT", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	m := metrics.New("pj")

	// One ID manager for the whole process, shared by every mapping.
	ids := idmanager.New(resetInterval, resetThreshold, logger)
	ids.OnReset(func(trigger string) {
		m.IDResets.WithLabelValues(trigger).Inc()
	})

	healthChecker := health.NewChecker(10 * time.Second)
	healthChecker.Register("goroutines", func(ctx context.Context) error {
		m.GoroutinesActive.Set(float64(runtime.NumGoroutine()))
		return nil
	})
	healthChecker.Register("memory", func(ctx context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.MemoryAllocated.WithLabelValues("heap").Set(float64(stats.HeapAlloc))
		m.MemoryAllocated.WithLabelValues("sys").Set(float64(stats.Sys))
		return nil
	})
	for _, mp := range mappings {
		healthChecker.Register("backend "+mp.ProxyAddr, health.BackendCheck(mp.ProxyAddr, cfg.DialTimeout))
	}

	if cfg.MetricsPort > 0 {
		go startMetricsServer(cfg.MetricsPort, logger)
	}
	if cfg.HealthPort > 0 {
		go startHealthServer(cfg.HealthPort, healthChecker, logger)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitCapacity > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill, 0)
		defer limiter.Close()
	}

	for _, mp := range mappings {
		cb := breaker.New(breaker.Config{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		})
		backend := mp.ProxyAddr
		cb.OnStateChange(func(from, to breaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("backend", backend),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			m.CircuitBreakerState.WithLabelValues(backend).Set(float64(to))
			if to == breaker.StateOpen {
				m.CircuitBreakerTrips.WithLabelValues(backend).Inc()
			}
		})

		srv := tcp.New(tcp.Config{
			Address:         mp.ListenAddr,
			TargetAddress:   mp.ProxyAddr,
			DialTimeout:     cfg.DialTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          logger,
			Metrics:         m,
			Limiter:         limiter,
			Breaker:         cb,
		}, ids)

		g.Go(func() error {
			return srv.Listen(ctx)
		})
		logger.Info("proxy configured",
			slog.String("listen", mp.ListenAddr),
			slog.String("backend", mp.ProxyAddr))
	}

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("pj terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("pj stopped")
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// startMetricsServer starts the Prometheus metrics HTTP server.
func startMetricsServer(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server", slog.String("address", addr))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", slog.String("error", err.Error()))
	}
}

// startHealthServer starts the health check HTTP server.
func startHealthServer(port int, checker *health.Checker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting health server", slog.String("address", addr))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("health server error", slog.String("error", err.Error()))
	}
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
