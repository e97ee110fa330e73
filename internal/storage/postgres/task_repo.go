package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leozw/tenant-tasks/internal/core"
	"github.com/leozw/tenant-tasks/internal/db"
)

var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `id, title, description, status, priority, assignee,
               due_date, created_by, created_at, updated_at`

// TaskRepository reads and writes the tasks table of whichever schema its
// Querier is bound to. Queries never name a schema.
type TaskRepository struct {
	q db.Querier
}

func NewTaskRepository(q db.Querier) *TaskRepository {
	return &TaskRepository{q: q}
}

func (r *TaskRepository) FindAll(ctx context.Context, filter core.TaskFilter) ([]*core.Task, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Assignee != "" {
		args = append(args, filter.Assignee)
		conditions = append(conditions, "assignee = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	tasks := []*core.Task{}
	if err := r.q.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.Task, error) {
	var task core.Task
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	err := r.q.GetContext(ctx, &task, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) Create(ctx context.Context, task *core.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = core.TaskPending
	}
	if task.Priority == "" {
		task.Priority = core.PriorityMedium
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	query := `
        INSERT INTO tasks (
            id, title, description, status, priority, assignee,
            due_date, created_by, created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
        )`

	_, err := r.q.ExecContext(ctx, query,
		task.ID, task.Title, task.Description, task.Status, task.Priority,
		task.Assignee, task.DueDate, task.CreatedBy, task.CreatedAt, task.UpdatedAt,
	)
	return err
}

func (r *TaskRepository) Update(ctx context.Context, id uuid.UUID, update core.TaskUpdate) (*core.Task, error) {
	var task core.Task
	query := `
        UPDATE tasks SET
            title = COALESCE($2, title),
            description = COALESCE($3, description),
            status = COALESCE($4, status),
            priority = COALESCE($5, priority),
            assignee = COALESCE($6, assignee),
            due_date = COALESCE($7, due_date),
            updated_at = $8
        WHERE id = $1
        RETURNING ` + taskColumns

	err := r.q.GetContext(ctx, &task, query,
		id, update.Title, update.Description, nullable(update.Status), nullable(update.Priority),
		update.Assignee, update.DueDate, time.Now().UTC(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) (*core.Task, error) {
	var task core.Task
	query := `DELETE FROM tasks WHERE id = $1 RETURNING ` + taskColumns

	err := r.q.GetContext(ctx, &task, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) Statistics(ctx context.Context) (*core.TaskStatistics, error) {
	var stats core.TaskStatistics
	query := `
        SELECT
            COUNT(*) AS total,
            COUNT(*) FILTER (WHERE status = 'pending') AS pending,
            COUNT(*) FILTER (WHERE status = 'in_progress') AS in_progress,
            COUNT(*) FILTER (WHERE status = 'completed') AS completed,
            COUNT(*) FILTER (WHERE status <> 'completed' AND due_date < NOW()) AS overdue
        FROM tasks`

	if err := r.q.GetContext(ctx, &stats, query); err != nil {
		return nil, err
	}
	return &stats, nil
}

// nullable turns a nil *T of a string kind into an untyped nil bind value.
func nullable[T ~string](v *T) any {
	if v == nil {
		return nil
	}
	return string(*v)
}
