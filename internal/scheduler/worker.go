package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/db"
	"github.com/leozw/tenant-tasks/internal/storage/postgres"
	"github.com/leozw/tenant-tasks/internal/storage/redis"
)

// refreshTimeout bounds one tenant's statistics query.
const refreshTimeout = 10 * time.Second

type Worker struct {
	id        int
	workQueue <-chan string
	executor  *db.Executor
	cache     *redis.Client
	logger    *zap.Logger
}

func NewWorker(id int, workQueue <-chan string, executor *db.Executor, cache *redis.Client, logger *zap.Logger) *Worker {
	return &Worker{
		id:        id,
		workQueue: workQueue,
		executor:  executor,
		cache:     cache,
		logger:    logger.With(zap.Int("worker_id", id)),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker stopped")
			return
		case tenantID, ok := <-w.workQueue:
			if !ok {
				return
			}
			if err := w.refreshStats(ctx, tenantID); err != nil {
				w.logger.Warn("Failed to refresh task statistics",
					zap.String("tenant_id", tenantID),
					zap.Error(err),
				)
			}
		}
	}
}

func (w *Worker) refreshStats(ctx context.Context, tenantID string) error {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	scope, err := w.executor.Bind(tenantID)
	if err != nil {
		return err
	}

	gen, err := w.cache.TaskStatsGeneration(ctx, tenantID)
	if err != nil {
		return err
	}

	start := time.Now()
	stats, err := postgres.NewTaskRepository(scope).Statistics(ctx)
	if err != nil {
		return err
	}
	stored, err := w.cache.CacheTaskStats(ctx, tenantID, gen, stats)
	if err != nil {
		return err
	}

	w.logger.Debug("Refreshed task statistics",
		zap.String("tenant_id", tenantID),
		zap.Int("total", stats.Total),
		zap.Bool("stored", stored),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
