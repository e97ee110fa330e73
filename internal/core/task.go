package core

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Task lives in the tasks table of its tenant's schema; it carries no tenant
// column because the schema is the boundary.
type Task struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	Title       string       `json:"title" db:"title"`
	Description string       `json:"description" db:"description"`
	Status      TaskStatus   `json:"status" db:"status"`
	Priority    TaskPriority `json:"priority" db:"priority"`
	Assignee    string       `json:"assignee" db:"assignee"`
	DueDate     *time.Time   `json:"due_date" db:"due_date"`
	CreatedBy   string       `json:"created_by" db:"created_by"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

type TaskFilter struct {
	Status   string
	Assignee string
}

// TaskUpdate holds the fields of a partial update; nil means unchanged.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	Priority    *TaskPriority
	Assignee    *string
	DueDate     *time.Time
}

type TaskStatistics struct {
	Total      int `json:"total" db:"total"`
	Pending    int `json:"pending" db:"pending"`
	InProgress int `json:"in_progress" db:"in_progress"`
	Completed  int `json:"completed" db:"completed"`
	Overdue    int `json:"overdue" db:"overdue"`
}
