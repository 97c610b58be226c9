package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector holds the engine's Prometheus instruments. A nil
// *PrometheusCollector is valid and records nothing.
type PrometheusCollector struct {
	registry *prometheus.Registry

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket Metrics
	websocketConnections prometheus.Gauge

	// Evaluation Metrics
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram

	// Alert Metrics
	alertTransitions *prometheus.CounterVec
	alertsOpen       prometheus.Gauge
	escalationsTotal *prometheus.CounterVec

	// Delivery Metrics
	deliveriesTotal *prometheus.CounterVec
	sendDuration    *prometheus.HistogramVec
}

// NewPrometheusCollector registers all instruments on a fresh registry
// prefixed with prefix
func NewPrometheusCollector(prefix string) *PrometheusCollector {
	if prefix == "" {
		prefix = "pma_alerting"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	collector := &PrometheusCollector{registry: registry}

	collector.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	collector.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	collector.websocketConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_websocket_connections",
			Help: "Number of connected alert feed clients",
		},
	)

	collector.evaluationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_evaluations_total",
			Help: "Rule evaluations by outcome",
		},
		[]string{"outcome"},
	)

	collector.evaluationDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "_evaluation_duration_seconds",
			Help:    "Rule evaluation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
	)

	collector.alertTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_alert_transitions_total",
			Help: "Alert instance lifecycle transitions by event",
		},
		[]string{"event"},
	)

	collector.alertsOpen = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_alerts_open",
			Help: "Number of non-resolved alert instances",
		},
	)

	collector.escalationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_escalations_total",
			Help: "Escalation steps fired by level",
		},
		[]string{"level"},
	)

	collector.deliveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_deliveries_total",
			Help: "Notification delivery attempts by channel type and resulting status",
		},
		[]string{"channel_type", "status"},
	)

	collector.sendDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_delivery_send_duration_seconds",
			Help:    "Channel send duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel_type"},
	)

	return collector
}

// Registry returns the registry backing the /metrics endpoint
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordHTTPRequest records HTTP request metrics
func (c *PrometheusCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWebSocketConnection tracks feed clients; action is "connect" or "disconnect"
func (c *PrometheusCollector) RecordWebSocketConnection(action string) {
	if c == nil {
		return
	}
	switch action {
	case "connect":
		c.websocketConnections.Inc()
	case "disconnect":
		c.websocketConnections.Dec()
	}
}

// RecordEvaluation records one rule evaluation
func (c *PrometheusCollector) RecordEvaluation(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.evaluationsTotal.WithLabelValues(outcome).Inc()
	c.evaluationDuration.Observe(duration.Seconds())
}

// RecordTransition records an alert lifecycle event
func (c *PrometheusCollector) RecordTransition(event string) {
	if c == nil {
		return
	}
	c.alertTransitions.WithLabelValues(event).Inc()
}

// SetOpenAlerts sets the number of open alert instances
func (c *PrometheusCollector) SetOpenAlerts(n int) {
	if c == nil {
		return
	}
	c.alertsOpen.Set(float64(n))
}

// RecordEscalation records an escalation step reaching level
func (c *PrometheusCollector) RecordEscalation(level int) {
	if c == nil {
		return
	}
	c.escalationsTotal.WithLabelValues(strconv.Itoa(level)).Inc()
}

// RecordDelivery records the outcome of one send attempt
func (c *PrometheusCollector) RecordDelivery(channelType, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.deliveriesTotal.WithLabelValues(channelType, status).Inc()
	c.sendDuration.WithLabelValues(channelType).Observe(duration.Seconds())
}
