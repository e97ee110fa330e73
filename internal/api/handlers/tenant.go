package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/tenant-tasks/internal/api/middleware"
)

func (h *Handler) TenantInfo(c *gin.Context) {
	cfg, err := h.registry.Get(c.GetString(middleware.KeyTenantID))
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid tenant"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": cfg})
}
