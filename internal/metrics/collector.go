package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leozw/tenant-tasks/internal/config"
)

// PoolSource is what the collector needs from the connection pool.
type PoolSource interface {
	Stats() sql.DBStats
	IsConnected() bool
}

type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	tenantQueriesTotal  *prometheus.CounterVec
	healthChecksTotal   *prometheus.CounterVec
}

func NewCollector(cfg config.MetricsConfig) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		config:   &cfg,
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"tenant_id", "method", "route", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tasks_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),

		tenantQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_tenant_queries_total",
				Help: "Tenant-scoped queries by outcome",
			},
			[]string{"tenant_id", "outcome"},
		),

		healthChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_db_health_checks_total",
				Help: "Database probes issued by health endpoints",
			},
			[]string{"endpoint", "result"},
		),
	}
}

// RegisterPool exposes the pool's connection counts and connectivity state.
func (c *Collector) RegisterPool(pool PoolSource) {
	factory := promauto.With(c.registry)

	gauge := func(name, help string, value func(sql.DBStats) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return value(pool.Stats())
		})
	}
	gauge("tasks_db_pool_open_connections", "Open connections in the pool",
		func(s sql.DBStats) float64 { return float64(s.OpenConnections) })
	gauge("tasks_db_pool_in_use_connections", "Connections currently checked out",
		func(s sql.DBStats) float64 { return float64(s.InUse) })
	gauge("tasks_db_pool_idle_connections", "Idle connections in the pool",
		func(s sql.DBStats) float64 { return float64(s.Idle) })
	gauge("tasks_db_pool_wait_count", "Total acquisitions that had to wait",
		func(s sql.DBStats) float64 { return float64(s.WaitCount) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tasks_db_connected",
		Help: "Whether the last health check reached the database (1) or not (0)",
	}, func() float64 {
		if pool.IsConnected() {
			return 1
		}
		return 0
	})
}

func (c *Collector) RecordRequest(tenantID, method, route string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(tenantID, method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) RecordTenantQuery(tenantID string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.tenantQueriesTotal.WithLabelValues(tenantID, outcome).Inc()
}

func (c *Collector) RecordHealthCheck(endpoint string, healthy bool) {
	result := "ok"
	if !healthy {
		result = "failed"
	}
	c.healthChecksTotal.WithLabelValues(endpoint, result).Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
