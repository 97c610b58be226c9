package api

import (
	"github.com/frostdev-ops/pma-alerting/internal/api/handlers"
	"github.com/frostdev-ops/pma-alerting/internal/api/middleware"
	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting/internal/websocket"
	"github.com/frostdev-ops/pma-alerting/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies are the components the HTTP surface exposes
type Dependencies struct {
	Service   *alerting.Service
	Hub       *websocket.Hub
	Collector *metrics.PrometheusCollector
	Health    *metrics.HealthChecker
	Logger    *logrus.Logger
}

// NewRouter creates and configures the main HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(utils.SendRouteNotFound)
	router.NoMethod(utils.SendMethodNotAllowed)

	// Global middleware
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ErrorHandlingMiddleware(deps.Logger))
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	router.Use(middleware.CORSMiddleware(cfg.Server.CORSOrigins))
	if deps.Collector != nil {
		router.Use(middleware.MetricsMiddleware(deps.Collector))
	}

	h := handlers.NewHandlers(deps.Service, deps.Hub, deps.Health, deps.Logger)

	// Public routes
	router.GET("/health", h.Health)
	if deps.Collector != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Collector.Registry(), promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}

	if deps.Hub != nil {
		// Browsers cannot set headers on the upgrade, so the feed sits
		// beside the API rather than behind its auth
		router.GET("/ws", h.WebSocketHandler())
		api.GET("/websocket/stats", h.GetWebSocketStats)
	}

	rules := api.Group("/rules")
	{
		rules.GET("", h.GetRules)
		rules.POST("", h.CreateRule)
		rules.GET("/:id", h.GetRule)
		rules.PUT("/:id", h.UpdateRule)
		rules.DELETE("/:id", h.DeleteRule)
		rules.POST("/:id/enable", h.EnableRule)
		rules.POST("/:id/disable", h.DisableRule)
		rules.PUT("/:id/channels", h.SetRuleChannels)
		rules.GET("/:id/evaluations", h.GetRuleEvaluations)
		rules.GET("/:id/stats", h.GetRuleStats)
	}

	alerts := api.Group("/alerts")
	{
		alerts.GET("/active", h.GetActiveAlerts)
		alerts.GET("/:id", h.GetAlert)
		alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
		alerts.POST("/:id/resolve", h.ResolveAlert)
		alerts.GET("/:id/deliveries", h.GetAlertDeliveries)
	}

	api.GET("/deliveries", h.GetDeliveries)

	channels := api.Group("/channels")
	{
		channels.GET("", h.GetChannels)
		channels.POST("", h.CreateChannel)
		channels.PUT("/:id", h.UpdateChannel)
	}

	policies := api.Group("/escalation-policies")
	{
		policies.GET("", h.GetPolicies)
		policies.POST("", h.CreatePolicy)
		policies.PUT("/:id", h.UpdatePolicy)
	}

	suppressions := api.Group("/suppression-rules")
	{
		suppressions.GET("", h.GetSuppressions)
		suppressions.POST("", h.CreateSuppression)
		suppressions.PUT("/:id", h.UpdateSuppression)
	}

	return router
}
