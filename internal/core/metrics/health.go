package metrics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "unhealthy"
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     string                  `json:"status"`
	Timestamp  time.Time               `json:"timestamp"`
	Duration   time.Duration           `json:"duration"`
	Components map[string]HealthStatus `json:"components"`
}

const checkTimeout = 5 * time.Second

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// HealthChecker runs registered dependency checks
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthChecker creates a checker with no registered checks
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]HealthCheck)}
}

// Register adds or replaces a named check
func (h *HealthChecker) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered check. The report is unhealthy when any
// component fails.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	start := time.Now()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	report := HealthReport{
		Status:     "healthy",
		Timestamp:  start.UTC(),
		Components: make(map[string]HealthStatus, len(names)),
	}
	for _, name := range names {
		h.mu.RLock()
		check := h.checks[name]
		h.mu.RUnlock()

		checkStart := time.Now()
		status := HealthStatus{Status: "healthy", Timestamp: checkStart.UTC()}
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			status.Status = "unhealthy"
			status.Message = err.Error()
			report.Status = "unhealthy"
		}
		status.Duration = time.Since(checkStart)
		report.Components[name] = status
	}

	report.Duration = time.Since(start)
	return report
}
