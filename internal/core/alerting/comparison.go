package alerting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/metricstore"
)

// ErrZeroBaseline is returned when a relative comparison has a prior value of 0
var ErrZeroBaseline = errors.New("reference window aggregate is zero")

// Window is a half-open time range (Start, End]
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowPlan lists the windows a comparison mode needs
type WindowPlan struct {
	Current Window
	Prior   *Window
	Buckets []Window
}

// WindowValues are the aggregates fetched for a WindowPlan. Missing bucket
// values are nil.
type WindowValues struct {
	Current float64
	Prior   float64
	Buckets []*float64
}

// PlanWindows returns the windows the rule's comparison mode reads at now
func PlanWindows(rule *models.AlertRule, now time.Time) (WindowPlan, error) {
	window := rule.Window()
	current := Window{Start: now.Add(-window), End: now}
	plan := WindowPlan{Current: current}

	switch rule.ComparisonMode {
	case models.ComparisonAbsolute:
	case models.ComparisonPercentageChange:
		plan.Prior = &Window{Start: current.Start.Add(-window), End: current.Start}
	case models.ComparisonPeriodOverPeriod:
		var shift func(time.Time) time.Time
		switch rule.ComparisonPeriod {
		case models.PeriodWeek:
			shift = func(t time.Time) time.Time { return t.AddDate(0, 0, -7) }
		case models.PeriodMonth:
			shift = func(t time.Time) time.Time { return t.AddDate(0, -1, 0) }
		default:
			return WindowPlan{}, fmt.Errorf("unsupported comparison period %q", rule.ComparisonPeriod)
		}
		plan.Prior = &Window{Start: shift(current.Start), End: shift(current.End)}
	case models.ComparisonMovingAverage:
		n := rule.MovingAverageBuckets
		if n <= 0 {
			n = 1
		}
		step := window / time.Duration(n)
		if step <= 0 {
			return WindowPlan{}, fmt.Errorf("window %s too short for %d buckets", window, n)
		}
		plan.Buckets = make([]Window, n)
		for i := 0; i < n; i++ {
			start := current.Start.Add(time.Duration(i) * step)
			end := start.Add(step)
			if i == n-1 {
				end = current.End
			}
			plan.Buckets[i] = Window{Start: start, End: end}
		}
	default:
		return WindowPlan{}, fmt.Errorf("unsupported comparison mode %q", rule.ComparisonMode)
	}
	return plan, nil
}

// Compute reduces fetched window values to the scalar compared against the
// threshold. Each mode is a pure function of its inputs.
func Compute(mode models.ComparisonMode, values WindowValues) (float64, error) {
	switch mode {
	case models.ComparisonAbsolute:
		return values.Current, nil
	case models.ComparisonPercentageChange, models.ComparisonPeriodOverPeriod:
		return percentDelta(values.Current, values.Prior)
	case models.ComparisonMovingAverage:
		return movingAverage(values.Buckets)
	default:
		return 0, fmt.Errorf("unsupported comparison mode %q", mode)
	}
}

func percentDelta(current, prior float64) (float64, error) {
	if prior == 0 {
		return 0, ErrZeroBaseline
	}
	return (current - prior) / math.Abs(prior) * 100, nil
}

func movingAverage(buckets []*float64) (float64, error) {
	sum, n := 0.0, 0
	for _, v := range buckets {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return 0, metricstore.ErrNoData
	}
	return sum / float64(n), nil
}

// FetchWindows queries the metric store for every window in plan using the
// rule's single aggregation. Buckets without samples are left nil.
func FetchWindows(ctx context.Context, store metricstore.Store, rule *models.AlertRule, plan WindowPlan) (WindowValues, error) {
	var values WindowValues
	query := func(w Window) (float64, error) {
		return store.Query(ctx, rule.MetricType, rule.Scope, w.Start, w.End, rule.Aggregation)
	}

	if len(plan.Buckets) > 0 {
		values.Buckets = make([]*float64, len(plan.Buckets))
		for i, w := range plan.Buckets {
			v, err := query(w)
			if errors.Is(err, metricstore.ErrNoData) {
				continue
			}
			if err != nil {
				return WindowValues{}, fmt.Errorf("bucket %d: %w", i, err)
			}
			values.Buckets[i] = &v
		}
		return values, nil
	}

	current, err := query(plan.Current)
	if err != nil {
		return WindowValues{}, fmt.Errorf("current window: %w", err)
	}
	values.Current = current

	if plan.Prior != nil {
		prior, err := query(*plan.Prior)
		if err != nil {
			return WindowValues{}, fmt.Errorf("reference window: %w", err)
		}
		values.Prior = prior
	}
	return values, nil
}

// Compare applies op to value and threshold
func Compare(op models.Operator, value, threshold float64) (bool, error) {
	switch op {
	case models.OpGreater:
		return value > threshold, nil
	case models.OpLess:
		return value < threshold, nil
	case models.OpGreaterEqual:
		return value >= threshold, nil
	case models.OpLessEqual:
		return value <= threshold, nil
	case models.OpEqual:
		return value == threshold, nil
	case models.OpNotEqual:
		return value != threshold, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}
