package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/api/middleware"
	"github.com/leozw/tenant-tasks/internal/core"
	"github.com/leozw/tenant-tasks/internal/storage/postgres"
	"github.com/leozw/tenant-tasks/internal/storage/redis"
)

type ListTasksQuery struct {
	Status   string `form:"status" binding:"omitempty,oneof=pending in_progress completed"`
	Assignee string `form:"assignee"`
}

type CreateTaskRequest struct {
	Title       string            `json:"title" binding:"required,min=1,max=255"`
	Description string            `json:"description"`
	Status      core.TaskStatus   `json:"status" binding:"omitempty,oneof=pending in_progress completed"`
	Priority    core.TaskPriority `json:"priority" binding:"omitempty,oneof=low medium high"`
	Assignee    string            `json:"assignee" binding:"max=255"`
	DueDate     *time.Time        `json:"due_date"`
}

type UpdateTaskRequest struct {
	Title       *string            `json:"title" binding:"omitempty,min=1,max=255"`
	Description *string            `json:"description"`
	Status      *core.TaskStatus   `json:"status" binding:"omitempty,oneof=pending in_progress completed"`
	Priority    *core.TaskPriority `json:"priority" binding:"omitempty,oneof=low medium high"`
	Assignee    *string            `json:"assignee" binding:"omitempty,max=255"`
	DueDate     *time.Time         `json:"due_date"`
}

// taskRepo returns a repository bound to the caller's tenant schema.
func (h *Handler) taskRepo(c *gin.Context) (*postgres.TaskRepository, bool) {
	scope, ok := middleware.TenantScope(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Tenant context required"})
		return nil, false
	}
	return postgres.NewTaskRepository(scope), true
}

func taskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) ListTasks(c *gin.Context) {
	var query ListTasksQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	repo, ok := h.taskRepo(c)
	if !ok {
		return
	}

	tasks, err := repo.FindAll(c.Request.Context(), core.TaskFilter{Status: query.Status, Assignee: query.Assignee})
	if err != nil {
		h.dbError(c, err, "Failed to fetch tasks")
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *Handler) GetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	repo, ok := h.taskRepo(c)
	if !ok {
		return
	}

	task, err := repo.FindByID(c.Request.Context(), id)
	if errors.Is(err, postgres.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		h.dbError(c, err, "Failed to fetch task")
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (h *Handler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	repo, ok := h.taskRepo(c)
	if !ok {
		return
	}

	task := &core.Task{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		DueDate:     req.DueDate,
		CreatedBy:   c.GetString(middleware.KeyUserID),
	}
	if err := repo.Create(c.Request.Context(), task); err != nil {
		h.dbError(c, err, "Failed to create task")
		return
	}
	h.invalidateStats(c)

	c.JSON(http.StatusCreated, gin.H{"task": task})
}

func (h *Handler) UpdateTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	repo, ok := h.taskRepo(c)
	if !ok {
		return
	}

	task, err := repo.Update(c.Request.Context(), id, core.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		DueDate:     req.DueDate,
	})
	if errors.Is(err, postgres.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		h.dbError(c, err, "Failed to update task")
		return
	}
	h.invalidateStats(c)

	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (h *Handler) DeleteTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	repo, ok := h.taskRepo(c)
	if !ok {
		return
	}

	task, err := repo.Delete(c.Request.Context(), id)
	if errors.Is(err, postgres.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		h.dbError(c, err, "Failed to delete task")
		return
	}
	h.invalidateStats(c)

	c.JSON(http.StatusOK, gin.H{
		"message": "Task deleted successfully",
		"task":    task,
	})
}

func (h *Handler) GetTaskStatistics(c *gin.Context) {
	tenantID := c.GetString(middleware.KeyTenantID)
	ctx := c.Request.Context()

	var gen int64
	if h.cache != nil {
		stats, err := h.cache.GetCachedTaskStats(ctx, tenantID)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"statistics": stats})
			return
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			h.logger.Warn("Failed to read cached statistics", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		if gen, err = h.cache.TaskStatsGeneration(ctx, tenantID); err != nil {
			h.logger.Warn("Failed to read statistics generation", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	repo, ok := h.taskRepo(c)
	if !ok {
		return
	}

	stats, err := repo.Statistics(ctx)
	if err != nil {
		h.dbError(c, err, "Failed to fetch statistics")
		return
	}

	if h.cache != nil {
		if _, err := h.cache.CacheTaskStats(ctx, tenantID, gen, stats); err != nil {
			h.logger.Warn("Failed to cache statistics", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

func (h *Handler) invalidateStats(c *gin.Context) {
	if h.cache == nil {
		return
	}
	tenantID := c.GetString(middleware.KeyTenantID)
	if err := h.cache.InvalidateTaskStats(c.Request.Context(), tenantID); err != nil {
		h.logger.Warn("Failed to invalidate cached statistics", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}
