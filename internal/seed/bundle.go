// Package seed imports alerting configuration from YAML bundles.
package seed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"gopkg.in/yaml.v3"
)

// Bundle is the on-disk form of channels, escalation policies, rules and
// suppression rules. Entities reference each other by name and durations
// are written as Go duration strings ("90s", "5m", "24h").
type Bundle struct {
	Channels     []ChannelSpec     `yaml:"channels"`
	Policies     []PolicySpec      `yaml:"escalation_policies"`
	Rules        []RuleSpec        `yaml:"rules"`
	Suppressions []SuppressionSpec `yaml:"suppression_rules"`
}

type ChannelSpec struct {
	Name             string                 `yaml:"name"`
	Type             string                 `yaml:"type"`
	Enabled          *bool                  `yaml:"enabled"`
	Config           map[string]interface{} `yaml:"config"`
	RateLimitPerHour int                    `yaml:"rate_limit_per_hour"`
	MaxRetries       int                    `yaml:"max_retries"`
	RetryDelay       string                 `yaml:"retry_delay"`
	Timeout          string                 `yaml:"timeout"`
	SubjectTemplate  string                 `yaml:"subject_template"`
	BodyTemplate     string                 `yaml:"body_template"`
}

type PolicySpec struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Enabled     *bool      `yaml:"enabled"`
	Severities  []string   `yaml:"severities"`
	AlertTypes  []string   `yaml:"alert_types"`
	Steps       []StepSpec `yaml:"steps"`
}

type StepSpec struct {
	Delay    string   `yaml:"delay"`
	Channels []string `yaml:"channels"`
}

type RuleSpec struct {
	Name             string        `yaml:"name"`
	Description      string        `yaml:"description"`
	MetricType       string        `yaml:"metric_type"`
	Scope            string        `yaml:"scope"`
	Aggregation      string        `yaml:"aggregation"`
	ComparisonMode   string        `yaml:"comparison_mode"`
	ComparisonPeriod string        `yaml:"comparison_period"`
	Window           string        `yaml:"window"`
	Buckets          int           `yaml:"moving_average_buckets"`
	Operator         string        `yaml:"operator"`
	Threshold        float64       `yaml:"threshold"`
	MinDuration      string        `yaml:"min_duration"`
	Frequency        string        `yaml:"evaluation_frequency"`
	Severity         string        `yaml:"severity"`
	Enabled          *bool         `yaml:"enabled"`
	Cooldown         string        `yaml:"cooldown"`
	MaxAlertsPerDay  int           `yaml:"max_alerts_per_day"`
	Timezone         string        `yaml:"timezone"`
	EscalationPolicy string        `yaml:"escalation_policy"`
	Channels         []BindingSpec `yaml:"channels"`
}

type BindingSpec struct {
	Channel    string   `yaml:"channel"`
	Severities []string `yaml:"severities"`
}

type SuppressionSpec struct {
	Name       string     `yaml:"name"`
	Enabled    *bool      `yaml:"enabled"`
	Rules      []string   `yaml:"rules"`
	AlertTypes []string   `yaml:"alert_types"`
	Severities []string   `yaml:"severities"`
	DaysOfWeek []string   `yaml:"days_of_week"`
	StartTime  string     `yaml:"start_time"`
	EndTime    string     `yaml:"end_time"`
	Timezone   string     `yaml:"timezone"`
	StartsAt   *time.Time `yaml:"starts_at"`
	EndsAt     *time.Time `yaml:"ends_at"`
	Comment    string     `yaml:"comment"`
}

// Load reads and parses a bundle file
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML bundle. Unknown keys are rejected so that typos do
// not silently drop settings.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	return &b, nil
}

func enabled(v *bool) bool {
	return v == nil || *v
}

// seconds converts an optional duration string to whole seconds
func seconds(field, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}
	return int64(d / time.Second), nil
}

func (s ChannelSpec) model() (*models.NotificationChannel, error) {
	retryDelay, err := seconds("retry_delay", s.RetryDelay)
	if err != nil {
		return nil, err
	}
	timeout, err := seconds("timeout", s.Timeout)
	if err != nil {
		return nil, err
	}
	return &models.NotificationChannel{
		Name:              s.Name,
		Type:              models.ChannelType(s.Type),
		Config:            models.JSONMap(s.Config),
		Enabled:           enabled(s.Enabled),
		RateLimitPerHour:  s.RateLimitPerHour,
		MaxRetries:        s.MaxRetries,
		RetryDelaySeconds: retryDelay,
		TimeoutSeconds:    timeout,
		SubjectTemplate:   s.SubjectTemplate,
		BodyTemplate:      s.BodyTemplate,
	}, nil
}

func (s RuleSpec) model() (*models.AlertRule, error) {
	rule := &models.AlertRule{
		Name:                 s.Name,
		Description:          s.Description,
		MetricType:           s.MetricType,
		Scope:                s.Scope,
		Aggregation:          models.Aggregation(s.Aggregation),
		ComparisonMode:       models.ComparisonMode(s.ComparisonMode),
		ComparisonPeriod:     models.ComparisonPeriod(s.ComparisonPeriod),
		MovingAverageBuckets: s.Buckets,
		Operator:             models.Operator(s.Operator),
		Threshold:            s.Threshold,
		Severity:             models.Severity(s.Severity),
		Enabled:              enabled(s.Enabled),
		MaxAlertsPerDay:      s.MaxAlertsPerDay,
		Timezone:             s.Timezone,
	}
	if rule.ComparisonMode == "" {
		rule.ComparisonMode = models.ComparisonAbsolute
	}

	var err error
	if rule.WindowSeconds, err = seconds("window", s.Window); err != nil {
		return nil, err
	}
	if rule.MinDurationSeconds, err = seconds("min_duration", s.MinDuration); err != nil {
		return nil, err
	}
	if rule.EvaluationFrequencySeconds, err = seconds("evaluation_frequency", s.Frequency); err != nil {
		return nil, err
	}
	if rule.CooldownSeconds, err = seconds("cooldown", s.Cooldown); err != nil {
		return nil, err
	}
	return rule, nil
}
