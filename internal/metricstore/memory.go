package metricstore

import (
	"context"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
)

type seriesKey struct {
	metric string
	scope  string
}

type point struct {
	at    time.Time
	value float64
}

// MemoryStore is an in-process Store used by tests and dry runs
type MemoryStore struct {
	mu     sync.RWMutex
	series map[seriesKey][]point
	err    error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[seriesKey][]point)}
}

// Add appends a sample
func (m *MemoryStore) Add(metricType, scope string, value float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seriesKey{metric: metricType, scope: scope}
	m.series[key] = append(m.series[key], point{at: at, value: value})
}

// SetError makes every subsequent Query fail with err until cleared with nil
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Query implements Store
func (m *MemoryStore) Query(ctx context.Context, metricType, scope string, start, end time.Time, agg models.Aggregation) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}

	var values []float64
	for key, points := range m.series {
		if key.metric != metricType || (scope != "" && key.scope != scope) {
			continue
		}
		for _, p := range points {
			if p.at.After(start) && !p.at.After(end) {
				values = append(values, p.value)
			}
		}
	}
	return Aggregate(values, agg)
}
