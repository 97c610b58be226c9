package handlers

import (
	"net/http"
	"time"

	"github.com/frostdev-ops/pma-alerting/pkg/version"
	"github.com/gin-gonic/gin"
)

// Health reports liveness plus the state of each registered dependency.
// Any failing dependency turns the response into a 503.
func (h *Handlers) Health(c *gin.Context) {
	health := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "pma-alerting",
		"version":   version.Get().Version,
	}
	status := http.StatusOK

	if h.health != nil {
		report := h.health.Check(c.Request.Context())
		health["status"] = report.Status
		health["components"] = report.Components
		if report.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
	}
	if h.wsHub != nil {
		health["websocket_clients"] = h.wsHub.GetClientCount()
	}

	c.JSON(status, health)
}
