package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointSuggestions(t *testing.T) {
	tests := []struct {
		name string
		path string
		want []string
	}{
		{"singular resource", "/api/v1/rule/3", []string{"/api/v1/rules", "/api/v1/suppression-rules"}},
		{"alerts", "/api/v1/alert", []string{"/api/v1/alerts/active"}},
		{"policies", "/api/v1/escalation", []string{"/api/v1/escalation-policies"}},
		{"nothing similar", "/api/v1/xyz", nil},
		{"short segments ignored", "/a/b", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointSuggestions(tt.path))
		})
	}
}

func TestSendRouteNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.NoRoute(SendRouteNotFound)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/channel?x=1", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.Equal(t, "/api/v1/channel", body.Request.Path)
	assert.Equal(t, "x=1", body.Request.Query)
	assert.Equal(t, map[string]interface{}{
		"suggestions": []interface{}{"/api/v1/channels"},
	}, body.Details)
}
