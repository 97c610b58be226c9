package handlers

import (
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/pkg/utils"
	"github.com/gin-gonic/gin"
)

// Notification channels

func (h *Handlers) GetChannels(c *gin.Context) {
	channels, err := h.service.ListChannels(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, channels, gin.H{"count": len(channels)})
}

func (h *Handlers) CreateChannel(c *gin.Context) {
	var channel models.NotificationChannel
	if !bindJSON(c, &channel) {
		return
	}
	created, err := h.service.CreateChannel(c.Request.Context(), &channel)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendCreated(c, created)
}

func (h *Handlers) UpdateChannel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var channel models.NotificationChannel
	if !bindJSON(c, &channel) {
		return
	}
	updated, err := h.service.UpdateChannel(c.Request.Context(), id, &channel)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, updated)
}

// Escalation policies

func (h *Handlers) GetPolicies(c *gin.Context) {
	policies, err := h.service.ListPolicies(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, policies, gin.H{"count": len(policies)})
}

func (h *Handlers) CreatePolicy(c *gin.Context) {
	var policy models.EscalationPolicy
	if !bindJSON(c, &policy) {
		return
	}
	created, err := h.service.CreatePolicy(c.Request.Context(), &policy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendCreated(c, created)
}

func (h *Handlers) UpdatePolicy(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var policy models.EscalationPolicy
	if !bindJSON(c, &policy) {
		return
	}
	updated, err := h.service.UpdatePolicy(c.Request.Context(), id, &policy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, updated)
}

// Suppression rules

func (h *Handlers) GetSuppressions(c *gin.Context) {
	rules, err := h.service.ListSuppressions(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, rules, gin.H{"count": len(rules)})
}

func (h *Handlers) CreateSuppression(c *gin.Context) {
	var sr models.SuppressionRule
	if !bindJSON(c, &sr) {
		return
	}
	created, err := h.service.CreateSuppression(c.Request.Context(), &sr)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendCreated(c, created)
}

func (h *Handlers) UpdateSuppression(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var sr models.SuppressionRule
	if !bindJSON(c, &sr) {
		return
	}
	updated, err := h.service.UpdateSuppression(c.Request.Context(), id, &sr)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, updated)
}
