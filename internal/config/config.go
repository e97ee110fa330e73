package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
	Tenants   map[string]TenantConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

// DatabaseConfig is passed through to the connection pool unchanged.
type DatabaseConfig struct {
	URL               string
	Host              string
	Port              int
	Name              string
	User              string
	Password          string
	PoolMin           int
	PoolMax           int
	IdleTimeout       time.Duration
	ConnectTimeout    time.Duration
	SSL               bool
	SSLVerify         bool
	HealthInterval    time.Duration
	MaxRetries        int
	ProbeTimeout      time.Duration
	ReadinessTimeout  time.Duration
	WatchIdle         bool
	MigrationsTable   string
	MigrationsWorkers int
}

type AuthConfig struct {
	JWTSecret string
	ExpiresIn time.Duration
}

type RedisConfig struct {
	URL      string
	StatsTTL time.Duration
}

type MetricsConfig struct {
	Enabled        bool
	RemoteWriteURL string
	TenantHeader   string
	BatchSize      int
	FlushInterval  time.Duration
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// SchedulerConfig drives the background connectivity probe and the workers
// that refresh cached task statistics.
type SchedulerConfig struct {
	WorkerCount int
	QueueSize   int
}

type TenantConfig struct {
	Name           string         `mapstructure:"name"`
	Namespace      string         `mapstructure:"namespace"`
	ResourceLimits ResourceLimits `mapstructure:"resource_limits"`
}

type ResourceLimits struct {
	CPU     string
	Memory  string
	Storage string
	Pods    int
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// envBindings maps config keys to the variable names operators already use.
var envBindings = map[string]string{
	"server.port":                 "PORT",
	"server.environment":          "APP_ENV",
	"database.url":                "DATABASE_URL",
	"database.host":               "DB_HOST",
	"database.port":               "DB_PORT",
	"database.name":               "DB_NAME",
	"database.user":               "DB_USER",
	"database.password":           "DB_PASSWORD",
	"database.poolmin":            "DB_POOL_MIN",
	"database.poolmax":            "DB_POOL_MAX",
	"database.idletimeout":        "DB_IDLE_TIMEOUT",
	"database.connecttimeout":     "DB_CONNECT_TIMEOUT",
	"database.ssl":                "DB_SSL",
	"database.sslverify":          "DB_SSL_VERIFY",
	"database.watchidle":          "DB_WATCH_IDLE",
	"database.healthinterval":     "DB_HEALTH_INTERVAL",
	"database.maxretries":         "DB_MAX_RETRIES",
	"auth.jwtsecret":              "JWT_SECRET",
	"auth.expiresin":              "JWT_EXPIRES_IN",
	"redis.url":                   "REDIS_URL",
	"metrics.enabled":             "METRICS_ENABLED",
	"metrics.remotewriteurl":      "METRICS_REMOTE_WRITE_URL",
	"log.level":                   "LOG_LEVEL",
	"log.file":                    "LOG_FILE",
	"ratelimit.requestspersecond": "RATE_LIMIT_RPS",
	"ratelimit.burst":             "RATE_LIMIT_BURST",
	"scheduler.workercount":       "SCHEDULER_WORKERS",
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if len(cfg.Tenants) == 0 {
		cfg.Tenants = defaultTenants()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.environment", "development")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "taskdb")
	v.SetDefault("database.user", "taskuser")
	v.SetDefault("database.password", "changeme")
	v.SetDefault("database.poolmin", 2)
	v.SetDefault("database.poolmax", 10)
	v.SetDefault("database.idletimeout", "30s")
	v.SetDefault("database.connecttimeout", "15s")
	v.SetDefault("database.ssl", true)
	v.SetDefault("database.sslverify", false)
	v.SetDefault("database.healthinterval", "30s")
	v.SetDefault("database.maxretries", 3)
	v.SetDefault("database.probetimeout", "3s")
	v.SetDefault("database.readinesstimeout", "18s")
	v.SetDefault("database.watchidle", true)
	v.SetDefault("database.migrationstable", "schema_migrations")
	v.SetDefault("database.migrationsworkers", 4)

	v.SetDefault("auth.jwtsecret", "dev-jwt-secret-key")
	v.SetDefault("auth.expiresin", "24h")

	v.SetDefault("redis.statsttl", "1m")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.tenantheader", "X-Scope-OrgID")
	v.SetDefault("metrics.batchsize", 1000)
	v.SetDefault("metrics.flushinterval", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.maxsizemb", 100)
	v.SetDefault("log.maxbackups", 5)
	v.SetDefault("log.maxagedays", 14)

	v.SetDefault("ratelimit.requestspersecond", 0)
	v.SetDefault("ratelimit.burst", 20)

	v.SetDefault("scheduler.workercount", 2)
	v.SetDefault("scheduler.queuesize", 100)
}

func defaultTenants() map[string]TenantConfig {
	return map[string]TenantConfig{
		"acme": {
			Name:      "Acme Corporation",
			Namespace: "tenant-acme",
			ResourceLimits: ResourceLimits{
				CPU: "4", Memory: "8Gi", Storage: "50Gi", Pods: 10,
			},
		},
		"globex": {
			Name:      "Globex Industries",
			Namespace: "tenant-globex",
			ResourceLimits: ResourceLimits{
				CPU: "2", Memory: "4Gi", Storage: "20Gi", Pods: 5,
			},
		},
	}
}
