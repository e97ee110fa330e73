package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/config"
	"github.com/leozw/tenant-tasks/internal/core"
	"github.com/leozw/tenant-tasks/internal/db"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

var taskRowColumns = []string{
	"id", "title", "description", "status", "priority", "assignee",
	"due_date", "created_by", "created_at", "updated_at",
}

func newTestRepo(t *testing.T) (*TaskRepository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	registry, err := tenant.NewRegistry(map[string]config.TenantConfig{"acme": {Name: "Acme"}})
	require.NoError(t, err)

	pool := db.NewPool(sqlx.NewDb(mockDB, "postgres"), config.DatabaseConfig{ConnectTimeout: time.Second}, zap.NewNop())
	scope, err := db.NewExecutor(pool, registry).Bind("acme")
	require.NoError(t, err)

	return NewTaskRepository(scope), mock
}

func expectAcmeSchema(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("SET search_path TO tenant_acme")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func taskRow(id uuid.UUID, title string, status core.TaskStatus) []driver.Value {
	now := time.Now()
	return []driver.Value{id.String(), title, "", string(status), "medium", "bob", nil, "u-1", now, now}
}

func TestFindAllAppliesFilters(t *testing.T) {
	repo, mock := newTestRepo(t)
	id := uuid.New()

	expectAcmeSchema(mock)
	mock.ExpectQuery(`FROM tasks WHERE status = \$1 AND assignee = \$2 ORDER BY created_at DESC`).
		WithArgs("pending", "bob").
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(taskRow(id, "Write docs", core.TaskPending)...))

	tasks, err := repo.FindAll(context.Background(), core.TaskFilter{Status: "pending", Assignee: "bob"})

	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.Equal(t, core.TaskPending, tasks[0].Status)
	assert.Nil(t, tasks[0].DueDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAllWithoutFilters(t *testing.T) {
	repo, mock := newTestRepo(t)

	expectAcmeSchema(mock)
	mock.ExpectQuery(`FROM tasks ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	tasks, err := repo.FindAll(context.Background(), core.TaskFilter{})

	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	id := uuid.New()

	expectAcmeSchema(mock)
	mock.ExpectQuery(`FROM tasks WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	_, err := repo.FindByID(context.Background(), id)

	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFillsDefaults(t *testing.T) {
	repo, mock := newTestRepo(t)

	expectAcmeSchema(mock)
	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(sqlmock.AnyArg(), "Ship it", "", "pending", "medium", "", nil, "u-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	task := &core.Task{Title: "Ship it", CreatedBy: "u-1"}
	require.NoError(t, repo.Create(context.Background(), task))

	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, core.TaskPending, task.Status)
	assert.Equal(t, core.PriorityMedium, task.Priority)
	assert.False(t, task.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePartial(t *testing.T) {
	repo, mock := newTestRepo(t)
	id := uuid.New()
	status := core.TaskCompleted

	expectAcmeSchema(mock)
	mock.ExpectQuery(`UPDATE tasks SET`).
		WithArgs(id.String(), nil, nil, "completed", nil, nil, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(taskRow(id, "Write docs", core.TaskCompleted)...))

	task, err := repo.Update(context.Background(), id, core.TaskUpdate{Status: &status})

	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, task.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReturnsRemovedTask(t *testing.T) {
	repo, mock := newTestRepo(t)
	id := uuid.New()

	expectAcmeSchema(mock)
	mock.ExpectQuery(`DELETE FROM tasks WHERE id = \$1 RETURNING`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(taskRow(id, "Old", core.TaskPending)...))
	expectAcmeSchema(mock)
	mock.ExpectQuery(`DELETE FROM tasks`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	task, err := repo.Delete(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Old", task.Title)

	_, err = repo.Delete(context.Background(), id)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatistics(t *testing.T) {
	repo, mock := newTestRepo(t)

	expectAcmeSchema(mock)
	mock.ExpectQuery(`COUNT\(\*\) AS total`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "in_progress", "completed", "overdue"}).
			AddRow(6, 2, 1, 3, 1))

	stats, err := repo.Statistics(context.Background())

	require.NoError(t, err)
	assert.Equal(t, &core.TaskStatistics{Total: 6, Pending: 2, InProgress: 1, Completed: 3, Overdue: 1}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryPropagatesDatabaseErrors(t *testing.T) {
	repo, mock := newTestRepo(t)

	expectAcmeSchema(mock)
	mock.ExpectQuery(`FROM tasks`).WillReturnError(errors.New("connection reset by peer"))

	_, err := repo.FindAll(context.Background(), core.TaskFilter{})
	assert.EqualError(t, err, "connection reset by peer")
}
