package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/exoxegroup/eng-ai/internal/repo"
)

var startedAt = time.Now()

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Health
// @Produce     json
// @Success     200  {object}  map[string]any
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startedAt).Seconds(),
	})
}

// HealthDetailed godoc
// @ID          healthDetailed
// @Summary     Readiness probe
// @Description Pings the session store; returns 503 when it is unreachable.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  map[string]any
// @Failure     503  {object}  map[string]any
// @Router      /health/detailed [get]
func (h *Handlers) HealthDetailed(c *gin.Context) {
	now := time.Now().UTC()
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "timestamp": now, "error": "no database configured"})
		return
	}
	if err := repo.Ping(c.Request.Context(), h.DB); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"timestamp": now,
			"error":     "database connection failed",
			"details":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": now,
		"uptime":    time.Since(startedAt).Seconds(),
		"database":  gin.H{"status": "connected", "dialect": h.DB.Dialector.Name()},
	})
}
