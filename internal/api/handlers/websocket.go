package handlers

import (
	"github.com/frostdev-ops/pma-alerting/internal/websocket"
	"github.com/frostdev-ops/pma-alerting/pkg/utils"
	"github.com/gin-gonic/gin"
)

// WebSocketHandler upgrades the connection and joins the alert feed
func (h *Handlers) WebSocketHandler() gin.HandlerFunc {
	return websocket.HandleWebSocketGin(h.wsHub)
}

// GetWebSocketStats returns live feed statistics
func (h *Handlers) GetWebSocketStats(c *gin.Context) {
	utils.SendSuccess(c, h.wsHub.GetStats())
}
