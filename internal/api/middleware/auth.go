package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leozw/tenant-tasks/internal/auth"
	"github.com/leozw/tenant-tasks/internal/tenant"
)

// Context keys set by AuthRequired and read by handlers.
const (
	KeyTenantID  = "tenant_id"
	KeyUserID    = "user_id"
	KeyUserEmail = "user_email"
	KeyClaims    = "claims"
)

// AuthRequired verifies the bearer token and rejects tenants the registry
// does not know.
func AuthRequired(issuer *auth.Issuer, registry *tenant.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Access token required"})
			return
		}

		claims, err := issuer.Parse(tokenString)
		if errors.Is(err, auth.ErrTokenExpired) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid token"})
			return
		}

		if !registry.IsValid(claims.TenantID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid tenant"})
			return
		}

		c.Set(KeyTenantID, claims.TenantID)
		c.Set(KeyUserID, claims.UserID)
		c.Set(KeyUserEmail, claims.Email)
		c.Set(KeyClaims, claims)

		c.Next()
	}
}

// bearerToken accepts only the Bearer scheme; "Basic x" yields no token.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Claims returns the verified claims stored by AuthRequired.
func Claims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(KeyClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
