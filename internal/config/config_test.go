package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs Load from an empty directory so a developer's .env or
// config.yaml cannot leak into the test.
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, env := range envBindings {
		t.Setenv(env, "")
		require.NoError(t, os.Unsetenv(env))
	}
	t.Setenv("CONFIG_FILE", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 2, cfg.Database.PoolMin)
	assert.Equal(t, 10, cfg.Database.PoolMax)
	assert.Equal(t, 30*time.Second, cfg.Database.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Database.ConnectTimeout)
	assert.True(t, cfg.Database.SSL)
	assert.False(t, cfg.Database.SSLVerify)
	assert.Equal(t, 3*time.Second, cfg.Database.ProbeTimeout)
	assert.Equal(t, 18*time.Second, cfg.Database.ReadinessTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.ExpiresIn)
	assert.Equal(t, "X-Scope-OrgID", cfg.Metrics.TenantHeader)

	require.Contains(t, cfg.Tenants, "acme")
	require.Contains(t, cfg.Tenants, "globex")
	assert.Equal(t, 10, cfg.Tenants["acme"].ResourceLimits.Pods)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_POOL_MAX", "25")
	t.Setenv("DB_SSL", "false")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRES_IN", "2h")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "12.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 25, cfg.Database.PoolMax)
	assert.False(t, cfg.Database.SSL)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.ExpiresIn)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 12.5, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadTenantsFromFile(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tenants:
  initech:
    name: Initech
    namespace: tenant-initech
    resource_limits:
      cpu: "1"
      memory: 2Gi
      storage: 10Gi
      pods: 3
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Tenants, 1)
	initech := cfg.Tenants["initech"]
	assert.Equal(t, "Initech", initech.Name)
	assert.Equal(t, "2Gi", initech.ResourceLimits.Memory)
	assert.Equal(t, 3, initech.ResourceLimits.Pods)
}
