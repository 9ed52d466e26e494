package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mrmushfiq/ai-gateway/internal/gateway"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/events"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/ai-gateway/internal/shared/config"
	"github.com/mrmushfiq/ai-gateway/internal/shared/database"
	"github.com/mrmushfiq/ai-gateway/internal/shared/logger"
	"github.com/mrmushfiq/ai-gateway/internal/shared/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	log.Info("starting AI gateway", "port", cfg.Port, "env", cfg.Env)

	if err := run(cfg, log); err != nil {
		log.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := events.NewMetrics(reg)
	if err != nil {
		return err
	}

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithObserver(metrics),
	}

	// Redis is optional: shared cache and rate limiting
	var limiter handlers.RateLimiter
	if cfg.RedisURL != "" {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		log.Info("connected to redis")

		opts = append(opts, gateway.WithCacheBackend(cache.NewRedis(redisClient, cache.DefaultRedisPrefix)))
		limiter = redisClient
	}

	// Database is optional: event audit log
	if cfg.DatabaseURL != "" {
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		log.Info("connected to postgres")

		audit := events.NewAsync(db, 4096, log)
		defer audit.Close()
		if err := events.RegisterAsync(reg, audit); err != nil {
			return err
		}
		opts = append(opts, gateway.WithObserver(audit))

		retention, err := database.NewRetention(db, cfg.PurgeSchedule, cfg.EventRetention, log)
		if err != nil {
			return err
		}
		if err := retention.Start(ctx); err != nil {
			return err
		}
		defer retention.Stop()
	}

	gw, err := gateway.New(cfg.Gateway, opts...)
	if err != nil {
		return err
	}
	gw.Start()
	defer gw.Close()

	if cfg.ConfigFile != "" {
		watcher, err := config.Watch(ctx, cfg.ConfigFile, gw, log, config.DefaultDebounce)
		if err != nil {
			return err
		}
		defer watcher.Close()
		log.Info("watching config file", "path", cfg.ConfigFile)
	}

	handler := handlers.NewHandler(gw, log)
	middleware := handlers.NewMiddleware(limiter, cfg.RateLimitPerMinute, log)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	if cfg.TrustProxyHeaders {
		// Only behind a proxy that overwrites X-Forwarded-For; otherwise
		// clients could pick their own rate limit key.
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORSMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitMiddleware)
		handler.Routes(r)
	})

	// HTTP server. No write timeout: streamed answers can run long.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		return err
	}

	log.Info("shutting down gracefully")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	return nil
}
