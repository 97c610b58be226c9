package utils

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Meta      interface{} `json:"meta,omitempty"`
}

// ErrorResponse represents an error response with request context
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Code      int         `json:"code"`
	Timestamp string      `json:"timestamp"`
	Request   RequestInfo `json:"request"`
	Details   interface{} `json:"details,omitempty"`
}

// RequestInfo provides context about the failed request
type RequestInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendCreated sends a 201 response for newly created resources
func SendCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendError sends an error response
func SendError(c *gin.Context, statusCode int, message string) {
	SendErrorWithDetails(c, statusCode, message, nil)
}

// SendErrorWithDetails sends an error response carrying extra details
func SendErrorWithDetails(c *gin.Context, statusCode int, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
		Details: details,
	})
}

// SendSuccessWithMeta sends a successful response with metadata
func SendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Top-level resources offered as suggestions for unknown endpoints
var knownEndpoints = []string{
	"/health",
	"/metrics",
	"/ws",
	"/api/v1/rules",
	"/api/v1/alerts/active",
	"/api/v1/deliveries",
	"/api/v1/channels",
	"/api/v1/escalation-policies",
	"/api/v1/suppression-rules",
}

// SendRouteNotFound answers unmatched routes, suggesting endpoints that
// share a path segment with the request
func SendRouteNotFound(c *gin.Context) {
	var details interface{}
	if suggestions := endpointSuggestions(c.Request.URL.Path); len(suggestions) > 0 {
		details = map[string]interface{}{"suggestions": suggestions}
	}
	SendErrorWithDetails(c, http.StatusNotFound, "Endpoint not found", details)
}

// SendMethodNotAllowed answers a known route requested with the wrong method
func SendMethodNotAllowed(c *gin.Context) {
	SendError(c, http.StatusMethodNotAllowed, "Method not allowed for this endpoint")
}

func endpointSuggestions(path string) []string {
	var suggestions []string
	for _, segment := range strings.Split(strings.ToLower(path), "/") {
		if segment == "" || segment == "api" || segment == "v1" {
			continue
		}
		// "rule" matches "/api/v1/rules" and "/api/v1/suppression-rules"
		segment = strings.TrimSuffix(segment, "s")
		if len(segment) < 3 {
			continue
		}
		for _, endpoint := range knownEndpoints {
			if strings.Contains(endpoint, segment) && !contains(suggestions, endpoint) {
				suggestions = append(suggestions, endpoint)
			}
		}
	}
	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return suggestions
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
