// Package metricstore reads aggregated values from the time-series table the
// alert rules are evaluated against.
package metricstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
)

// ErrNoData is returned when a window contains no samples to aggregate
var ErrNoData = errors.New("no samples in window")

// Store answers aggregate queries over a half-open window (start, end].
// An empty scope aggregates across every scope of the metric.
type Store interface {
	Query(ctx context.Context, metricType, scope string, start, end time.Time, agg models.Aggregation) (float64, error)
}

// Aggregate folds values with agg. Count of an empty slice is 0; every other
// aggregation of an empty slice is ErrNoData.
func Aggregate(values []float64, agg models.Aggregation) (float64, error) {
	if agg == models.AggregationCount {
		return float64(len(values)), nil
	}
	if len(values) == 0 {
		return 0, ErrNoData
	}

	switch agg {
	case models.AggregationAvg, models.AggregationSum:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		if agg == models.AggregationAvg {
			return sum / float64(len(values)), nil
		}
		return sum, nil
	case models.AggregationMax:
		m := math.Inf(-1)
		for _, v := range values {
			m = math.Max(m, v)
		}
		return m, nil
	case models.AggregationMin:
		m := math.Inf(1)
		for _, v := range values {
			m = math.Min(m, v)
		}
		return m, nil
	default:
		return 0, fmt.Errorf("unsupported aggregation %q", agg)
	}
}
