package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/tenant-tasks/internal/api/middleware"
)

// Me echoes the identity carried by the verified token. There is no user
// store behind it.
func (h *Handler) Me(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Access token required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":       claims.UserID,
			"email":    claims.Email,
			"tenantId": claims.TenantID,
		},
	})
}
