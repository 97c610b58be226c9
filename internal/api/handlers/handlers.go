package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting/internal/websocket"
	apperrors "github.com/frostdev-ops/pma-alerting/pkg/errors"
	"github.com/frostdev-ops/pma-alerting/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxListLimit = 1000

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	service *alerting.Service
	wsHub   *websocket.Hub
	health  *metrics.HealthChecker
	log     *logrus.Logger
}

// NewHandlers creates a new handlers instance. wsHub and health may be nil.
func NewHandlers(service *alerting.Service, wsHub *websocket.Hub, health *metrics.HealthChecker, logger *logrus.Logger) *Handlers {
	return &Handlers{
		service: service,
		wsHub:   wsHub,
		health:  health,
		log:     logger,
	}
}

// respondError maps application errors to their status. Anything else is
// logged and reported as a 500 without details.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code < http.StatusInternalServerError {
		var details interface{}
		if appErr.Details != "" {
			details = appErr.Details
		}
		utils.SendErrorWithDetails(c, appErr.Code, appErr.Message, details)
		return
	}

	h.log.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
	}).Error("Request failed")
	c.Error(err)
	utils.SendError(c, http.StatusInternalServerError, "Internal server error")
}

// pathID parses a positive integer path parameter
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		utils.SendError(c, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// queryLimit reads ?limit=, clamped to maxListLimit
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		utils.SendError(c, http.StatusBadRequest, "Invalid limit")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

// querySince reads ?since= as an RFC3339 time or as a lookback duration
// such as 24h. Missing means the beginning of history.
func querySince(c *gin.Context, now time.Time) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), true
	}
	utils.SendError(c, http.StatusBadRequest, "Invalid since, expected RFC3339 time or duration")
	return time.Time{}, false
}

// bindJSON decodes the body, answering 400 on malformed input
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		utils.SendErrorWithDetails(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	return true
}
