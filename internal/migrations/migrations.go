// Package migrations provisions tenant schemas and applies the embedded
// task-table migrations inside each of them.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leozw/tenant-tasks/internal/config"
	"github.com/leozw/tenant-tasks/internal/db"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

//go:embed sql/*.sql
var files embed.FS

// Source returns the embedded migration files as a migrate source driver.
func Source() (source.Driver, error) {
	return iofs.New(files, "sql")
}

type Runner struct {
	pool     *db.Pool
	registry *tenant.Registry
	table    string
	workers  int
	logger   *zap.Logger
}

func NewRunner(pool *db.Pool, registry *tenant.Registry, cfg config.DatabaseConfig, logger *zap.Logger) *Runner {
	workers := cfg.MigrationsWorkers
	if workers <= 0 {
		workers = 1
	}
	table := cfg.MigrationsTable
	if table == "" {
		table = postgres.DefaultMigrationsTable
	}

	return &Runner{
		pool:     pool,
		registry: registry,
		table:    table,
		workers:  workers,
		logger:   logger.Named("migrations"),
	}
}

// withMigrate creates the tenant schema if needed and hands fn a migrator
// whose version table lives inside that schema.
func (r *Runner) withMigrate(ctx context.Context, tenantID string, fn func(m *migrate.Migrate) error) error {
	if !r.registry.IsValid(tenantID) {
		return fmt.Errorf("%w: %s", tenant.ErrInvalidTenant, tenantID)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Release(conn)

	// Registry-validated identifier, same rule as the query executor.
	schema := tenant.SchemaName(tenantID)
	if _, err := conn.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	if _, err := conn.ExecContext(ctx, "SET search_path TO "+schema); err != nil {
		return fmt.Errorf("set search_path for tenant %s: %w", tenantID, err)
	}

	driver, err := postgres.WithConnection(ctx, conn.Conn, &postgres.Config{
		SchemaName:      schema,
		MigrationsTable: r.table,
	})
	if err != nil {
		return fmt.Errorf("failed to open migration driver for %s: %w", schema, err)
	}

	src, err := Source()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	return fn(m)
}

// Up applies every pending migration to the tenant's schema.
func (r *Runner) Up(ctx context.Context, tenantID string) error {
	return r.withMigrate(ctx, tenantID, func(m *migrate.Migrate) error {
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			r.logger.Debug("Schema up to date", zap.String("tenant_id", tenantID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate up for tenant %s: %w", tenantID, err)
		}

		version, _, _ := m.Version()
		r.logger.Info("Schema migrated",
			zap.String("tenant_id", tenantID),
			zap.Uint("version", version),
		)
		return nil
	})
}

// Down rolls back every migration in the tenant's schema. The schema itself
// is left in place.
func (r *Runner) Down(ctx context.Context, tenantID string) error {
	return r.withMigrate(ctx, tenantID, func(m *migrate.Migrate) error {
		err := m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down for tenant %s: %w", tenantID, err)
		}
		r.logger.Info("Schema rolled back", zap.String("tenant_id", tenantID))
		return nil
	})
}

func (r *Runner) Version(ctx context.Context, tenantID string) (version uint, dirty bool, err error) {
	err = r.withMigrate(ctx, tenantID, func(m *migrate.Migrate) error {
		var verr error
		version, dirty, verr = m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		return verr
	})
	return version, dirty, err
}

// MigrateAll runs Up for every registered tenant, a bounded number at a time.
// The first failure cancels migrations that have not started yet.
func (r *Runner) MigrateAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, id := range r.registry.IDs() {
		id := id
		g.Go(func() error {
			return r.Up(gctx, id)
		})
	}

	return g.Wait()
}
