package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/config"
	"github.com/leozw/tenant-tasks/internal/db"
	"github.com/leozw/tenant-tasks/internal/logger"
	"github.com/leozw/tenant-tasks/internal/migrations"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

var tenantFlag string

type session struct {
	runner   *migrations.Runner
	registry *tenant.Registry
	pool     *db.Pool
	logger   *zap.Logger
}

func setup(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	zapLogger, err := logger.New(cfg.Log, cfg.IsProduction())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	registry, err := tenant.NewRegistry(cfg.Tenants)
	if err != nil {
		return nil, err
	}

	conn, err := db.NewConnection(cfg.Database)
	if err != nil {
		return nil, err
	}
	pool := db.NewPool(conn, cfg.Database, zapLogger)

	if !pool.ConnectWithRetry(ctx, cfg.Database.MaxRetries) {
		_ = pool.Close()
		return nil, fmt.Errorf("database unreachable after %d attempts", cfg.Database.MaxRetries)
	}

	return &session{
		runner:   migrations.NewRunner(pool, registry, cfg.Database, zapLogger),
		registry: registry,
		pool:     pool,
		logger:   zapLogger,
	}, nil
}

// tenants returns the --tenant value, or every registered tenant.
func (s *session) tenants() []string {
	if tenantFlag != "" {
		return []string{tenantFlag}
	}
	return s.registry.IDs()
}

func (s *session) close() {
	_ = s.pool.Close()
	_ = s.logger.Sync()
}

func withSession(fn func(ctx context.Context, s *session, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := setup(ctx)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(ctx, s, cmd)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Provision tenant schemas and apply task migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&tenantFlag, "tenant", "t", "", "limit to one tenant (default: all registered tenants)")

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Create missing schemas and apply pending migrations",
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command) error {
			if tenantFlag == "" {
				return s.runner.MigrateAll(ctx)
			}
			return s.runner.Up(ctx, tenantFlag)
		}),
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration for one tenant",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if tenantFlag == "" {
				return errors.New("down requires --tenant")
			}
			return nil
		},
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command) error {
			return s.runner.Down(ctx, tenantFlag)
		}),
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version per tenant",
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command) error {
			for _, id := range s.tenants() {
				version, dirty, err := s.runner.Version(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tversion=%d dirty=%t\n", id, tenant.SchemaName(id), version, dirty)
			}
			return nil
		}),
	}

	rootCmd.AddCommand(upCmd, downCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
