package alerting

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	apperrors "github.com/frostdev-ops/pma-alerting/pkg/errors"
)

const defaultMovingAverageBuckets = 5

func invalid(msg string) error {
	return apperrors.WithDetails(apperrors.ErrBadRequest, msg)
}

// NormalizeRule fills defaults that the schema requires
func NormalizeRule(rule *models.AlertRule) {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.MovingAverageBuckets == 0 {
		rule.MovingAverageBuckets = defaultMovingAverageBuckets
	}
}

// ValidateRule checks a rule definition. Relative comparison modes use one
// aggregation for both windows, so a differing prior_aggregation is rejected.
func ValidateRule(rule *models.AlertRule) error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if rule.Name == "" {
		add("name is required")
	}
	if strings.TrimSpace(rule.MetricType) == "" {
		add("metric_type is required")
	}
	if !rule.Aggregation.Valid() {
		add("aggregation %q must be one of avg, max, min, sum, count", rule.Aggregation)
	}
	if rule.PriorAggregation != "" && rule.PriorAggregation != rule.Aggregation {
		add("prior_aggregation %q must match aggregation %q", rule.PriorAggregation, rule.Aggregation)
	}

	switch rule.ComparisonMode {
	case models.ComparisonAbsolute, models.ComparisonPercentageChange:
	case models.ComparisonPeriodOverPeriod:
		if rule.ComparisonPeriod != models.PeriodWeek && rule.ComparisonPeriod != models.PeriodMonth {
			add("comparison_period %q must be week or month", rule.ComparisonPeriod)
		}
	case models.ComparisonMovingAverage:
		if rule.MovingAverageBuckets < 1 || int64(rule.MovingAverageBuckets) > rule.WindowSeconds {
			add("moving_average_buckets must be between 1 and window_seconds")
		}
	default:
		add("comparison_mode %q is not supported", rule.ComparisonMode)
	}

	if rule.WindowSeconds < 1 {
		add("window_seconds must be at least 1")
	}
	if _, err := Compare(rule.Operator, 0, 0); err != nil {
		add("operator %q must be one of >, <, >=, <=, =, !=", rule.Operator)
	}
	if math.IsNaN(rule.Threshold) || math.IsInf(rule.Threshold, 0) {
		add("threshold must be a finite number")
	}
	if rule.MinDurationSeconds < 1 {
		add("min_duration_seconds must be at least 1")
	}
	if rule.EvaluationFrequencySeconds < 1 {
		add("evaluation_frequency_seconds must be at least 1")
	}
	if !rule.Severity.Valid() {
		add("severity %q must be one of low, medium, high, critical", rule.Severity)
	}
	if rule.CooldownSeconds < 0 {
		add("cooldown_seconds must not be negative")
	}
	if rule.MaxAlertsPerDay < 0 {
		add("max_alerts_per_day must not be negative")
	}
	if rule.Timezone != "" {
		if _, err := time.LoadLocation(rule.Timezone); err != nil {
			add("timezone %q is not a valid location", rule.Timezone)
		}
	}

	if len(problems) > 0 {
		return invalid(strings.Join(problems, "; "))
	}
	return nil
}

// ValidatePolicy checks an escalation policy definition
func ValidatePolicy(policy *models.EscalationPolicy) error {
	if strings.TrimSpace(policy.Name) == "" {
		return invalid("name is required")
	}
	if len(policy.Steps) == 0 {
		return invalid("at least one escalation step is required")
	}
	for i, step := range policy.Steps {
		if step.DelaySeconds < 0 {
			return invalid(fmt.Sprintf("step %d: delay_seconds must not be negative", i+1))
		}
		if len(step.ChannelIDs) == 0 {
			return invalid(fmt.Sprintf("step %d: at least one channel is required", i+1))
		}
	}
	for _, s := range policy.Severities {
		if !models.Severity(s).Valid() {
			return invalid(fmt.Sprintf("unknown severity %q", s))
		}
	}
	return nil
}
