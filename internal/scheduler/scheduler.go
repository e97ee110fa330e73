// Package scheduler keeps the pool's connectivity belief current between
// requests and refreshes cached per-tenant task statistics.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/config"
	"github.com/leozw/tenant-tasks/internal/db"
	"github.com/leozw/tenant-tasks/internal/storage/redis"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

type Scheduler struct {
	pool     *db.Pool
	executor *db.Executor
	registry *tenant.Registry
	cache    *redis.Client
	logger   *zap.Logger

	interval    time.Duration
	maxRetries  int
	workerCount int
	queueSize   int

	workers []*Worker
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler. With a nil cache only the connectivity
// probe runs.
func NewScheduler(pool *db.Pool, executor *db.Executor, registry *tenant.Registry, cache *redis.Client, cfg *config.Config, logger *zap.Logger) *Scheduler {
	interval := cfg.Database.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	retries := cfg.Database.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	return &Scheduler{
		pool:        pool,
		executor:    executor,
		registry:    registry,
		cache:       cache,
		logger:      logger.Named("scheduler"),
		interval:    interval,
		maxRetries:  retries,
		workerCount: max(cfg.Scheduler.WorkerCount, 1),
		queueSize:   max(cfg.Scheduler.QueueSize, 1),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler",
		zap.Duration("interval", s.interval),
		zap.Int("worker_count", s.workerCount),
	)

	workQueue := make(chan string, s.queueSize)
	if s.cache != nil {
		s.workers = make([]*Worker, s.workerCount)
		for i := 0; i < s.workerCount; i++ {
			worker := NewWorker(i, workQueue, s.executor, s.cache, s.logger)
			s.workers[i] = worker
			s.wg.Add(1)
			go func(w *Worker) {
				defer s.wg.Done()
				w.Start(ctx)
			}(worker)
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping scheduler")
			close(workQueue)
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx, workQueue)
		}
	}
}

// tick probes the database, reconnecting with backoff when the last known
// state is not Connected, and queues a statistics refresh per tenant once the
// database answers.
func (s *Scheduler) tick(ctx context.Context, workQueue chan<- string) {
	var healthy bool
	if s.pool.IsConnected() {
		healthy = s.pool.CheckHealth(ctx)
	} else {
		healthy = s.pool.ConnectWithRetry(ctx, s.maxRetries)
	}

	if !healthy {
		s.logger.Warn("Database unreachable, skipping statistics refresh",
			zap.Int("retries", s.pool.Retries()),
		)
		return
	}
	if s.cache == nil {
		return
	}

	for _, tenantID := range s.registry.IDs() {
		select {
		case workQueue <- tenantID:
			s.logger.Debug("Scheduled statistics refresh", zap.String("tenant_id", tenantID))
		default:
			s.logger.Warn("Work queue full, dropping statistics refresh", zap.String("tenant_id", tenantID))
		}
	}
}
