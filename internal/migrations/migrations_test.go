package migrations

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/config"
	"github.com/leozw/tenant-tasks/internal/db"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

func newTestRunner(t *testing.T) (*Runner, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	registry, err := tenant.NewRegistry(map[string]config.TenantConfig{"acme": {Name: "Acme"}})
	require.NoError(t, err)

	cfg := config.DatabaseConfig{ConnectTimeout: time.Second, MigrationsWorkers: 2}
	pool := db.NewPool(sqlx.NewDb(mockDB, "postgres"), cfg, zap.NewNop())
	return NewRunner(pool, registry, cfg, zap.NewNop()), mock
}

func TestSourceLoadsEmbeddedMigrations(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	up, _, err := src.ReadUp(version)
	require.NoError(t, err)
	defer up.Close()

	body, err := io.ReadAll(up)
	require.NoError(t, err)
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS tasks")
	assert.NotContains(t, string(body), "tenant_", "migrations must not name a schema")

	down, _, err := src.ReadDown(version)
	require.NoError(t, err)
	down.Close()
}

func TestNewRunnerDefaults(t *testing.T) {
	r := NewRunner(nil, nil, config.DatabaseConfig{}, zap.NewNop())

	assert.Equal(t, "schema_migrations", r.table)
	assert.Equal(t, 1, r.workers)
}

func TestUpRejectsUnknownTenantWithoutQuerying(t *testing.T) {
	r, mock := newTestRunner(t)

	err := r.Up(context.Background(), "acme; DROP SCHEMA public")

	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpStopsWhenSchemaCreationFails(t *testing.T) {
	r, mock := newTestRunner(t)

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS tenant_acme").
		WillReturnError(errors.New("permission denied for database"))

	err := r.Up(context.Background(), "acme")

	assert.ErrorContains(t, err, "failed to create schema tenant_acme")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAllPropagatesFailure(t *testing.T) {
	r, mock := newTestRunner(t)

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS tenant_acme").
		WillReturnError(errors.New("permission denied for database"))

	err := r.MigrateAll(context.Background())

	assert.ErrorContains(t, err, "permission denied")
}
