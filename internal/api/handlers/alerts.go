package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-alerting/internal/api/middleware"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/pkg/utils"
	"github.com/gin-gonic/gin"
)

// GetActiveAlerts lists open alerts, most severe first
func (h *Handlers) GetActiveAlerts(c *gin.Context) {
	alerts, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, alerts, gin.H{"count": len(alerts)})
}

// GetAlert returns one alert instance
func (h *Handlers) GetAlert(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	instance, err := h.service.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, instance)
}

type actorRequest struct {
	By         string `json:"by"`
	Resolution string `json:"resolution"`
}

// actor prefers the authenticated user over the body's "by"
func actor(c *gin.Context, req actorRequest) string {
	fallback := req.By
	if fallback == "" {
		fallback = "api"
	}
	return middleware.CurrentUser(c, fallback)
}

// optionalBody decodes a JSON body when one was sent
func optionalBody(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, v)
}

// AcknowledgeAlert stops escalation for an alert. Repeating it succeeds.
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !optionalBody(c, &req) {
		return
	}
	instance, err := h.service.Acknowledge(c.Request.Context(), id, actor(c, req))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, instance)
}

// ResolveAlert closes an alert. Repeating it succeeds.
func (h *Handlers) ResolveAlert(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !optionalBody(c, &req) {
		return
	}
	instance, err := h.service.Resolve(c.Request.Context(), id, actor(c, req), req.Resolution)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, instance)
}

// GetAlertDeliveries returns every delivery attempt for one alert
func (h *Handlers) GetAlertDeliveries(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	deliveries, err := h.service.InstanceDeliveries(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, deliveries, gin.H{"count": len(deliveries)})
}

// GetDeliveries lists deliveries, optionally filtered by ?status=
func (h *Handlers) GetDeliveries(c *gin.Context) {
	status := models.DeliveryStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		utils.SendError(c, http.StatusBadRequest, "Invalid status")
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	deliveries, err := h.service.ListDeliveries(c.Request.Context(), status, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, deliveries, gin.H{"count": len(deliveries), "status": status})
}
