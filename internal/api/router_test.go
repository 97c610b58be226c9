package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/api/middleware"
	"github.com/frostdev-ops/pma-alerting/internal/clock"
	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting/internal/database/databasetest"
	"github.com/frostdev-ops/pma-alerting/internal/metricstore"
	"github.com/frostdev-ops/pma-alerting/internal/websocket"
	"github.com/frostdev-ops/pma-alerting/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-for-router"

type testServer struct {
	router  *gin.Engine
	engine  *alerting.Engine
	clock   *clock.Manual
	metrics *metricstore.MemoryStore
	health  *metrics.HealthChecker
	token   string
}

func newTestServer(t *testing.T, authEnabled bool) *testServer {
	t.Helper()
	log := logger.NewDiscard()
	store := databasetest.NewStore(t)
	clk := clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	samples := metricstore.NewMemoryStore()
	collector := metrics.NewPrometheusCollector("test_alerting")
	hub := websocket.NewHub(log, collector)

	engine := alerting.NewEngine(alerting.Options{
		Store:     store,
		Metrics:   samples,
		Publisher: hub,
		Collector: collector,
		Clock:     clk,
		Logger:    log,
		Config:    config.AlertingConfig{EvaluationTimeout: "5s", MaxConcurrentEvals: 2},
	})

	health := metrics.NewHealthChecker()
	health.Register("database", func(ctx context.Context) error { return store.DB().PingContext(ctx) })

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "production", CORSOrigins: []string{"*"}},
		Auth:   config.AuthConfig{Enabled: authEnabled, JWTSecret: testSecret},
	}
	router := NewRouter(cfg, Dependencies{
		Service:   engine.Service(),
		Hub:       hub,
		Collector: collector,
		Health:    health,
		Logger:    log,
	})

	token, err := middleware.IssueToken(testSecret, "alice", time.Hour)
	require.NoError(t, err)
	return &testServer{router: router, engine: engine, clock: clk, metrics: samples, health: health, token: token}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details interface{}     `json:"details"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func validRule(channelID int64) map[string]interface{} {
	rule := map[string]interface{}{
		"name":                         "disk-usage",
		"metric_type":                  "storage_used_bytes",
		"scope":                        "volume:data",
		"aggregation":                  "max",
		"comparison_mode":              "absolute",
		"window_seconds":               60,
		"operator":                     ">",
		"threshold":                    100,
		"min_duration_seconds":         1,
		"evaluation_frequency_seconds": 60,
		"severity":                     "high",
	}
	if channelID > 0 {
		rule["channels"] = []map[string]interface{}{{"channel_id": channelID}}
	}
	return rule
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, false)

	w, _ := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health["components"], "database")

	s.do(t, http.MethodGet, "/api/v1/rules", nil)
	w, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_alerting_http_requests_total")
}

func TestHealthReportsFailingDependency(t *testing.T) {
	s := newTestServer(t, false)
	s.health.Register("metric_store", func(context.Context) error { return assert.AnError })

	w, _ := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/v1/rules", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	// Health stays public
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRuleEndpoints(t *testing.T) {
	s := newTestServer(t, true)

	w, env := s.do(t, http.MethodPost, "/api/v1/channels", map[string]interface{}{
		"name": "ops-log", "type": "log", "enabled": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var channel struct {
		ID int64 `json:"id"`
	}
	decode(t, env, &channel)

	w, env = s.do(t, http.MethodPost, "/api/v1/rules", validRule(channel.ID))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rule struct {
		ID      int64 `json:"id"`
		Enabled bool  `json:"enabled"`
	}
	decode(t, env, &rule)
	assert.True(t, rule.Enabled)

	w, env = s.do(t, http.MethodGet, "/api/v1/rules/"+itoa(rule.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Channels []struct {
			ChannelID int64 `json:"channel_id"`
		} `json:"channels"`
	}
	decode(t, env, &detail)
	require.Len(t, detail.Channels, 1)
	assert.Equal(t, channel.ID, detail.Channels[0].ChannelID)

	w, env = s.do(t, http.MethodPost, "/api/v1/rules/"+itoa(rule.ID)+"/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env, &rule)
	assert.False(t, rule.Enabled)

	w, _ = s.do(t, http.MethodPut, "/api/v1/rules/"+itoa(rule.ID)+"/channels", map[string]interface{}{
		"channels": []map[string]interface{}{{"channel_id": 999}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/rules/"+itoa(rule.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/v1/rules/"+itoa(rule.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuleValidationErrors(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"bad id", http.MethodGet, "/api/v1/rules/abc", nil, http.StatusBadRequest},
		{"unknown rule", http.MethodGet, "/api/v1/rules/42", nil, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/v1/rules", "not an object", http.StatusBadRequest},
		{"invalid rule", http.MethodPost, "/api/v1/rules", map[string]interface{}{"name": "x"}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/deliveries?limit=-3", nil, http.StatusBadRequest},
		{"bad status", http.MethodGet, "/api/v1/deliveries?status=lost", nil, http.StatusBadRequest},
		{"unknown alert", http.MethodPost, "/api/v1/alerts/7/acknowledge", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.False(t, env.Success)
		})
	}

	_, env := s.do(t, http.MethodPost, "/api/v1/rules", map[string]interface{}{"name": "x"})
	assert.Contains(t, env.Details, "metric_type is required")
}

func TestAlertLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t, true)

	w, env := s.do(t, http.MethodPost, "/api/v1/rules", validRule(0))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rule struct {
		ID int64 `json:"id"`
	}
	decode(t, env, &rule)

	ctx := context.Background()
	evaluator := s.engine.Evaluator()
	for i := 0; i < 2; i++ {
		s.metrics.Add("storage_used_bytes", "volume:data", 150, s.clock.Now())
		_, err := evaluator.EvaluateRule(ctx, rule.ID)
		require.NoError(t, err)
		s.clock.Advance(time.Minute)
	}

	w, env = s.do(t, http.MethodGet, "/api/v1/alerts/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []struct {
		ID       int64  `json:"id"`
		RuleName string `json:"rule_name"`
		Severity string `json:"severity"`
	}
	decode(t, env, &active)
	require.Len(t, active, 1)
	assert.Equal(t, "disk-usage", active[0].RuleName)
	id := itoa(active[0].ID)

	w, env = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", map[string]string{"by": "ignored"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var instance struct {
		State          string `json:"state"`
		AcknowledgedBy string `json:"acknowledged_by"`
		ResolvedBy     string `json:"resolved_by"`
		Resolution     string `json:"resolution"`
	}
	decode(t, env, &instance)
	assert.Equal(t, "acknowledged", instance.State)
	assert.Equal(t, "alice", instance.AcknowledgedBy)

	// Idempotent
	w, _ = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", map[string]string{"resolution": "volume expanded"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env, &instance)
	assert.Equal(t, "resolved", instance.State)
	assert.Equal(t, "volume expanded", instance.Resolution)

	w, env = s.do(t, http.MethodGet, "/api/v1/alerts/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env, &active)
	assert.Empty(t, active)

	w, env = s.do(t, http.MethodGet, "/api/v1/rules/"+itoa(rule.ID)+"/evaluations?limit=10&since=2026-03-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var evaluations []map[string]interface{}
	decode(t, env, &evaluations)
	assert.Len(t, evaluations, 2)

	w, env = s.do(t, http.MethodGet, "/api/v1/rules/"+itoa(rule.ID)+"/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Total     int `json:"total"`
		Triggered int `json:"triggered"`
	}
	decode(t, env, &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Triggered)

	w, _ = s.do(t, http.MethodGet, "/api/v1/alerts/"+id+"/deliveries", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
