package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leozw/tenant-tasks/internal/auth"
	"github.com/leozw/tenant-tasks/internal/config"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

// token issues access tokens for operators and local testing, since the API
// has no login flow of its own.
func main() {
	var (
		tenantID string
		userID   string
		email    string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:          "token",
		Short:        "Issue a signed access token for a tenant user",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			registry, err := tenant.NewRegistry(cfg.Tenants)
			if err != nil {
				return err
			}
			if !registry.IsValid(tenantID) {
				return fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, tenantID)
			}

			expiresIn := cfg.Auth.ExpiresIn
			if ttl > 0 {
				expiresIn = ttl
			}

			token, err := auth.NewIssuer(cfg.Auth.JWTSecret, expiresIn).Generate(auth.User{
				ID:       userID,
				Email:    email,
				TenantID: tenantID,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the userId claim (required)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: JWT_EXPIRES_IN)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
