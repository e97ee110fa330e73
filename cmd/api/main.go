package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/api"
	"github.com/leozw/tenant-tasks/internal/config"
	"github.com/leozw/tenant-tasks/internal/db"
	"github.com/leozw/tenant-tasks/internal/logger"
	"github.com/leozw/tenant-tasks/internal/metrics"
	"github.com/leozw/tenant-tasks/internal/scheduler"
	"github.com/leozw/tenant-tasks/internal/storage/redis"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	zapLogger, err := logger.New(cfg.Log, cfg.IsProduction())
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer zapLogger.Sync()

	registry, err := tenant.NewRegistry(cfg.Tenants)
	if err != nil {
		zapLogger.Fatal("Invalid tenant configuration", zap.Error(err))
	}

	// Database
	conn, err := db.NewConnection(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to open database pool", zap.Error(err))
	}
	pool := db.NewPool(conn, cfg.Database, zapLogger)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Database.WatchIdle {
		watcher := db.WatchIdleConnections(db.DSN(cfg.Database), pool)
		defer watcher.Close()
	}

	// Redis
	var cache *redis.Client
	if cfg.Redis.URL != "" {
		cache = redis.NewClient(cfg.Redis.URL, cfg.Redis.StatsTTL)
		defer cache.Close()
		if err := cache.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis unreachable, statistics will not be cached", zap.Error(err))
		}
	}

	// Metrics
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics)
		collector.RegisterPool(pool)
		go collector.StartRemoteWrite(ctx, zapLogger.Named("remote_write"))
	}

	server := api.NewServer(cfg, pool, registry, cache, collector, zapLogger)

	sched := scheduler.NewScheduler(pool, server.Executor, registry, cache, cfg, zapLogger)
	go sched.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	zapLogger.Info("API server started",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Environment),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
		zap.Strings("tenants", registry.IDs()),
	)

	// The listener is up before the first connect so liveness answers while
	// the database is unreachable. The scheduler keeps retrying afterwards.
	go func() {
		if !<-pool.ConnectInBackground(ctx, cfg.Database.MaxRetries) {
			zapLogger.Warn("Running without a database connection",
				zap.Int("attempts", cfg.Database.MaxRetries),
			)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}
