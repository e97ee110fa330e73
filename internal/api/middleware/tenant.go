package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/tenant-tasks/internal/db"
)

const keyScope = "tenant_scope"

// TenantIsolation binds a querier pinned to the authenticated tenant's schema.
// It must run after AuthRequired.
func TenantIsolation(executor *db.Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetString(KeyTenantID)
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Tenant context required"})
			return
		}

		scope, err := executor.Bind(tenantID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid tenant"})
			return
		}

		c.Set(keyScope, scope)
		c.Next()
	}
}

func TenantScope(c *gin.Context) (*db.Scope, bool) {
	v, ok := c.Get(keyScope)
	if !ok {
		return nil, false
	}
	scope, ok := v.(*db.Scope)
	return scope, ok
}
