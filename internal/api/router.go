package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/leozw/tenant-tasks/internal/api/handlers"
	"github.com/leozw/tenant-tasks/internal/api/middleware"
	"github.com/leozw/tenant-tasks/internal/auth"
	"github.com/leozw/tenant-tasks/internal/config"
	"github.com/leozw/tenant-tasks/internal/db"
	"github.com/leozw/tenant-tasks/internal/metrics"
	"github.com/leozw/tenant-tasks/internal/storage/redis"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

type Server struct {
	Config   *config.Config
	Router   *gin.Engine
	Pool     *db.Pool
	Executor *db.Executor
	Registry *tenant.Registry
	Issuer   *auth.Issuer
	Cache    *redis.Client
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// NewServer builds the router. cache and collector may be nil.
func NewServer(cfg *config.Config, pool *db.Pool, registry *tenant.Registry, cache *redis.Client, collector *metrics.Collector, logger *zap.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	executor := db.NewExecutor(pool, registry)
	if collector != nil {
		executor.OnQuery(collector.RecordTenantQuery)
	}

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger.Named("http")))
	if collector != nil {
		router.Use(middleware.Metrics(collector))
	}

	server := &Server{
		Config:   cfg,
		Router:   router,
		Pool:     pool,
		Executor: executor,
		Registry: registry,
		Issuer:   auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.ExpiresIn),
		Cache:    cache,
		Metrics:  collector,
		Logger:   logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	h := handlers.NewHandler(s.Pool, s.Registry, s.Cache, s.Metrics, s.Config.Database, s.Logger.Named("handlers"))

	s.Router.GET("/", h.Index)
	s.Router.NoRoute(h.NotFound)

	health := s.Router.Group("/health")
	{
		health.GET("", h.Health)
		health.GET("/live", h.Live)
		health.GET("/ready", h.Ready)
	}

	if s.Config.Metrics.Enabled && s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	// Everything under /api runs against the caller's tenant schema.
	api := s.Router.Group("/api")
	api.Use(middleware.AuthRequired(s.Issuer, s.Registry))
	api.Use(middleware.TenantIsolation(s.Executor))
	api.Use(middleware.RateLimit(middleware.NewTenantLimiter(s.Config.RateLimit)))

	api.GET("/auth/me", h.Me)
	api.GET("/tenant/info", h.TenantInfo)

	tasks := api.Group("/tasks")
	{
		tasks.GET("", h.ListTasks)
		tasks.GET("/statistics", h.GetTaskStatistics)
		tasks.GET("/:id", h.GetTask)
		tasks.POST("", h.CreateTask)
		tasks.PUT("/:id", h.UpdateTask)
		tasks.DELETE("/:id", h.DeleteTask)
	}
}

// Handler returns the router wrapped in a permissive CORS layer.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(s.Router)
}
