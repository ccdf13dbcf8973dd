package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/glance/config"
	"github.com/use-agent/glance/models"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when every worker is busy.
func Health(svc RunService, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := svc.Stats()

		status := "healthy"
		if stats.Concurrency > 0 && stats.ActiveTasks >= stats.Concurrency {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:      status,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			Engine:      svc.Engine(),
			RunnerStats: stats,
			Version:     config.Version,
		})
	}
}
