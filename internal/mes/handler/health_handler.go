package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 存活、就绪与版本
type HealthHandler struct {
	db      *gorm.DB
	version string
}

// Live GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// Ready GET /health/ready，数据库可用才算就绪
func (h *HealthHandler) Ready(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(503, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"status": "ok"})
}

// Version GET /version
func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(200, gin.H{"service": "nimo-mes", "version": h.version})
}
