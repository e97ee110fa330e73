package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/api/middleware"
	"github.com/leozw/tenant-tasks/internal/config"
	"github.com/leozw/tenant-tasks/internal/db"
	"github.com/leozw/tenant-tasks/internal/metrics"
	"github.com/leozw/tenant-tasks/internal/storage/redis"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

type Handler struct {
	pool     *db.Pool
	registry *tenant.Registry
	cache    *redis.Client
	metrics  *metrics.Collector
	logger   *zap.Logger

	probeTimeout     time.Duration
	readinessTimeout time.Duration
	startedAt        time.Time
}

// NewHandler wires the HTTP handlers. cache and metrics are optional.
func NewHandler(pool *db.Pool, registry *tenant.Registry, cache *redis.Client, metrics *metrics.Collector, cfg config.DatabaseConfig, logger *zap.Logger) *Handler {
	probe := cfg.ProbeTimeout
	if probe <= 0 {
		probe = 3 * time.Second
	}
	readiness := cfg.ReadinessTimeout
	if readiness <= 0 {
		readiness = 18 * time.Second
	}

	return &Handler{
		pool:             pool,
		registry:         registry,
		cache:            cache,
		metrics:          metrics,
		logger:           logger,
		probeTimeout:     probe,
		readinessTimeout: readiness,
		startedAt:        time.Now(),
	}
}

func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Task Management API",
		"version": "1.0.0",
		"endpoints": gin.H{
			"health":  "/health",
			"metrics": "/metrics",
			"auth":    "/api/auth",
			"tasks":   "/api/tasks",
			"tenant":  "/api/tenant",
		},
	})
}

func (h *Handler) NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
}

// dbError maps storage failures to a response. Pool exhaustion is reported
// as unavailable so clients can retry.
func (h *Handler) dbError(c *gin.Context, err error, message string) {
	h.logger.Error(message,
		zap.String("tenant_id", c.GetString(middleware.KeyTenantID)),
		zap.Error(err),
	)
	_ = c.Error(err)

	if errors.Is(err, db.ErrPoolExhaustedOrTimeout) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}
