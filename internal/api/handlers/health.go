package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/db"
)

// readinessRetries is the number of reconnect attempts /health/ready makes
// when the pool is believed to be down.
const readinessRetries = 3

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Health always answers 200 so an orchestrator never restarts the process
// just because the database is unreachable.
func (h *Handler) Health(c *gin.Context) {
	err := db.Probe(c.Request.Context(), h.pool, h.probeTimeout)
	h.recordHealth("health", err == nil)

	body := gin.H{
		"timestamp": timestamp(),
		"uptime":    time.Since(h.startedAt).Seconds(),
	}
	if err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		body["status"] = "degraded"
		body["database"] = "disconnected"
		body["warning"] = err.Error()
	} else {
		body["status"] = "healthy"
		body["database"] = "connected"
	}

	c.JSON(http.StatusOK, body)
}

func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": timestamp(),
	})
}

func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.readinessTimeout)
	defer cancel()

	err := h.checkReady(ctx)
	h.recordHealth("ready", err == nil)

	if err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		message := err.Error()
		if errors.Is(err, errDatabaseNotReady) {
			message = "Database not ready"
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not ready",
			"timestamp": timestamp(),
			"error":     message,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": timestamp(),
	})
}

var errDatabaseNotReady = errors.New("database not ready")

func (h *Handler) checkReady(ctx context.Context) error {
	if !h.pool.IsConnected() {
		h.logger.Info("Pool not connected, attempting to reconnect")
		if !h.pool.ConnectWithRetry(ctx, readinessRetries) {
			return h.readinessErr(ctx, errDatabaseNotReady)
		}
	}

	if err := db.Probe(ctx, h.pool, h.probeTimeout); err != nil {
		return h.readinessErr(ctx, err)
	}
	return nil
}

// readinessErr reports the overall deadline in preference to whatever step
// it happened to interrupt.
func (h *Handler) readinessErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("readiness check timeout after %dms", h.readinessTimeout.Milliseconds())
	}
	return err
}

func (h *Handler) recordHealth(endpoint string, healthy bool) {
	if h.metrics != nil {
		h.metrics.RecordHealthCheck(endpoint, healthy)
	}
}
