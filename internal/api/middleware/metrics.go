package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leozw/tenant-tasks/internal/metrics"
)

// Metrics records every request against its route template so that ids in
// paths do not explode label cardinality.
func Metrics(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.RecordRequest(c.GetString(KeyTenantID), c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
