package handlers

import (
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/pkg/utils"
	"github.com/gin-gonic/gin"
)

// ruleRequest is an alert rule plus its channel bindings. Enabled defaults
// to true on create.
type ruleRequest struct {
	models.AlertRule
	Enabled  *bool                       `json:"enabled"`
	Channels []models.RuleChannelBinding `json:"channels"`
}

func (r *ruleRequest) rule(defaultEnabled bool) *models.AlertRule {
	rule := r.AlertRule
	rule.Enabled = defaultEnabled
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}
	return &rule
}

// GetRules lists every rule
func (h *Handlers) GetRules(c *gin.Context) {
	rules, err := h.service.ListRules(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, rules, gin.H{"count": len(rules)})
}

// GetRule returns one rule with its channel bindings
func (h *Handlers) GetRule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rule, err := h.service.GetRule(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	bindings, err := h.service.ListRuleChannels(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"rule": rule, "channels": bindings})
}

// CreateRule validates and stores a rule with optional channel bindings
func (h *Handlers) CreateRule(c *gin.Context) {
	var req ruleRequest
	if !bindJSON(c, &req) {
		return
	}
	rule, err := h.service.CreateRule(c.Request.Context(), req.rule(true), req.Channels)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendCreated(c, rule)
}

// UpdateRule replaces a rule's definition. Bindings are changed through
// PUT /rules/:id/channels.
func (h *Handlers) UpdateRule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ruleRequest
	if !bindJSON(c, &req) {
		return
	}
	current, err := h.service.GetRule(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rule, err := h.service.UpdateRule(c.Request.Context(), id, req.rule(current.Enabled))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, rule)
}

// EnableRule turns evaluation on
func (h *Handlers) EnableRule(c *gin.Context) {
	h.setRuleEnabled(c, true)
}

// DisableRule turns evaluation off
func (h *Handlers) DisableRule(c *gin.Context) {
	h.setRuleEnabled(c, false)
}

func (h *Handlers) setRuleEnabled(c *gin.Context, enabled bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rule, err := h.service.SetRuleEnabled(c.Request.Context(), id, enabled)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, rule)
}

// DeleteRule removes a rule and its history
func (h *Handlers) DeleteRule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteRule(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{"id": id, "deleted": true})
}

// SetRuleChannels replaces the rule's channel bindings
func (h *Handlers) SetRuleChannels(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Channels []models.RuleChannelBinding `json:"channels"`
	}
	if !bindJSON(c, &req) {
		return
	}
	bindings, err := h.service.SetRuleChannels(c.Request.Context(), id, req.Channels)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, bindings)
}

// GetRuleEvaluations returns evaluation history, newest first
func (h *Handlers) GetRuleEvaluations(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	since, ok := querySince(c, time.Now())
	if !ok {
		return
	}
	evaluations, err := h.service.ListEvaluations(c.Request.Context(), id, since, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccessWithMeta(c, evaluations, gin.H{"count": len(evaluations)})
}

// GetRuleStats returns breach and false-positive rates used for tuning
func (h *Handlers) GetRuleStats(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	since, ok := querySince(c, time.Now())
	if !ok {
		return
	}
	stats, err := h.service.RuleStats(c.Request.Context(), id, since)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, stats)
}
