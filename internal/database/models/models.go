package models

import (
	"time"
)

// Severity of an alert rule
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from most to least urgent
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s.Rank() < 4
}

// Aggregation applied to samples inside a window
type Aggregation string

const (
	AggregationAvg   Aggregation = "avg"
	AggregationMax   Aggregation = "max"
	AggregationMin   Aggregation = "min"
	AggregationSum   Aggregation = "sum"
	AggregationCount Aggregation = "count"
)

// Valid reports whether a is a known aggregation
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationAvg, AggregationMax, AggregationMin, AggregationSum, AggregationCount:
		return true
	}
	return false
}

// ComparisonMode selects how the rule's scalar is derived
type ComparisonMode string

const (
	ComparisonAbsolute         ComparisonMode = "absolute"
	ComparisonPercentageChange ComparisonMode = "percentage_change"
	ComparisonMovingAverage    ComparisonMode = "moving_average"
	ComparisonPeriodOverPeriod ComparisonMode = "period_over_period"
)

// ComparisonPeriod is the look-back used by period-over-period rules
type ComparisonPeriod string

const (
	PeriodWeek  ComparisonPeriod = "week"
	PeriodMonth ComparisonPeriod = "month"
)

// Operator compares the computed value against the threshold
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
)

// RuleState mirrors the lifecycle of the rule's current instance
type RuleState string

const (
	RuleInactive     RuleState = "inactive"
	RuleActive       RuleState = "active"
	RuleAcknowledged RuleState = "acknowledged"
	RuleSuppressed   RuleState = "suppressed"
)

// InstanceState is the lifecycle state of an alert instance
type InstanceState string

const (
	InstanceActive       InstanceState = "active"
	InstanceAcknowledged InstanceState = "acknowledged"
	InstanceSuppressed   InstanceState = "suppressed"
	InstanceResolved     InstanceState = "resolved"
)

// Open reports whether the instance still counts against the one-open-instance limit
func (s InstanceState) Open() bool {
	return s != InstanceResolved
}

// AlertLevel is the instance level derived from rule severity
type AlertLevel string

const (
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// LevelFor maps a rule severity to an instance level
func LevelFor(s Severity) AlertLevel {
	if s == SeverityCritical || s == SeverityHigh {
		return LevelCritical
	}
	return LevelWarning
}

// AlertRule defines what is evaluated and how a breach is decided.
// BreachStartedAt, LastEvaluatedAt and LastTriggeredAt are the persisted
// per-rule evaluation cursor.
type AlertRule struct {
	ID                         int64            `json:"id" db:"id"`
	Name                       string           `json:"name" db:"name"`
	Description                string           `json:"description" db:"description"`
	MetricType                 string           `json:"metric_type" db:"metric_type"`
	Scope                      string           `json:"scope" db:"scope"`
	Aggregation                Aggregation      `json:"aggregation" db:"aggregation"`
	PriorAggregation           Aggregation      `json:"prior_aggregation,omitempty" db:"prior_aggregation"`
	ComparisonMode             ComparisonMode   `json:"comparison_mode" db:"comparison_mode"`
	ComparisonPeriod           ComparisonPeriod `json:"comparison_period,omitempty" db:"comparison_period"`
	WindowSeconds              int64            `json:"window_seconds" db:"window_seconds"`
	MovingAverageBuckets       int              `json:"moving_average_buckets" db:"moving_average_buckets"`
	Operator                   Operator         `json:"operator" db:"operator"`
	Threshold                  float64          `json:"threshold" db:"threshold"`
	MinDurationSeconds         int64            `json:"min_duration_seconds" db:"min_duration_seconds"`
	EvaluationFrequencySeconds int64            `json:"evaluation_frequency_seconds" db:"evaluation_frequency_seconds"`
	Severity                   Severity         `json:"severity" db:"severity"`
	Enabled                    bool             `json:"enabled" db:"enabled"`
	State                      RuleState        `json:"state" db:"state"`
	CooldownSeconds            int64            `json:"cooldown_seconds" db:"cooldown_seconds"`
	MaxAlertsPerDay            int              `json:"max_alerts_per_day" db:"max_alerts_per_day"`
	Timezone                   string           `json:"timezone,omitempty" db:"timezone"`
	EscalationPolicyID         *int64           `json:"escalation_policy_id,omitempty" db:"escalation_policy_id"`
	BreachStartedAt            *time.Time       `json:"breach_started_at,omitempty" db:"breach_started_at"`
	LastEvaluatedAt            *time.Time       `json:"last_evaluated_at,omitempty" db:"last_evaluated_at"`
	LastTriggeredAt            *time.Time       `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
	CreatedAt                  time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt                  time.Time        `json:"updated_at" db:"updated_at"`
}

func (r *AlertRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (r *AlertRule) MinDuration() time.Duration {
	return time.Duration(r.MinDurationSeconds) * time.Second
}

func (r *AlertRule) Frequency() time.Duration {
	return time.Duration(r.EvaluationFrequencySeconds) * time.Second
}

func (r *AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// Due reports whether the rule should be evaluated at now
func (r *AlertRule) Due(now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if r.LastEvaluatedAt == nil {
		return true
	}
	return !r.LastEvaluatedAt.Add(r.Frequency()).After(now)
}

// AlertInstance is one tracked occurrence of a rule being breached
type AlertInstance struct {
	ID              int64         `json:"id" db:"id"`
	RuleID          int64         `json:"rule_id" db:"rule_id"`
	Level           AlertLevel    `json:"level" db:"level"`
	State           InstanceState `json:"state" db:"state"`
	Value           float64       `json:"value" db:"value"`
	Threshold       float64       `json:"threshold" db:"threshold"`
	StartedAt       time.Time     `json:"started_at" db:"started_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy  string        `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy      string        `json:"resolved_by,omitempty" db:"resolved_by"`
	Resolution      string        `json:"resolution,omitempty" db:"resolution"`
	EscalationLevel int           `json:"escalation_level" db:"escalation_level"`
	LastEscalatedAt *time.Time    `json:"last_escalated_at,omitempty" db:"last_escalated_at"`
	Context         JSONMap       `json:"context" db:"context"`
}

// ActiveAlert joins an open instance with the rule fields needed to order and display it
type ActiveAlert struct {
	AlertInstance
	RuleName   string   `json:"rule_name" db:"rule_name"`
	MetricType string   `json:"metric_type" db:"metric_type"`
	Scope      string   `json:"scope" db:"scope"`
	Severity   Severity `json:"severity" db:"severity"`
}

// EvaluationOutcome summarizes what one evaluation cycle did
type EvaluationOutcome string

const (
	OutcomeOK              EvaluationOutcome = "ok"
	OutcomePendingDuration EvaluationOutcome = "pending_duration"
	OutcomeOpened          EvaluationOutcome = "opened"
	OutcomeUpdated         EvaluationOutcome = "updated"
	OutcomeSuppressed      EvaluationOutcome = "suppressed"
	OutcomeRateLimited     EvaluationOutcome = "rate_limited"
	OutcomeCooldown        EvaluationOutcome = "cooldown"
	OutcomeReactivated     EvaluationOutcome = "reactivated"
	OutcomeResolved        EvaluationOutcome = "resolved"
	OutcomeFailed          EvaluationOutcome = "failed"
)

// AlertEvaluation is the immutable record of one evaluation cycle
type AlertEvaluation struct {
	ID             int64             `json:"id" db:"id"`
	RuleID         int64             `json:"rule_id" db:"rule_id"`
	EvaluatedAt    time.Time         `json:"evaluated_at" db:"evaluated_at"`
	Value          *float64          `json:"value,omitempty" db:"value"`
	Threshold      float64           `json:"threshold" db:"threshold"`
	Breached       bool              `json:"breached" db:"breached"`
	Suppressed     bool              `json:"suppressed" db:"suppressed"`
	AlertTriggered bool              `json:"alert_triggered" db:"alert_triggered"`
	InstanceID     *int64            `json:"instance_id,omitempty" db:"instance_id"`
	Outcome        EvaluationOutcome `json:"outcome" db:"outcome"`
	Error          string            `json:"error,omitempty" db:"error"`
	DurationMS     int64             `json:"duration_ms" db:"duration_ms"`
}

// EvaluationStats aggregates evaluation history for rule tuning
type EvaluationStats struct {
	RuleID            int64      `json:"rule_id"`
	Since             time.Time  `json:"since"`
	Total             int        `json:"total" db:"total"`
	Breached          int        `json:"breached" db:"breached"`
	Triggered         int        `json:"triggered" db:"triggered"`
	Suppressed        int        `json:"suppressed" db:"suppressed"`
	Failed            int        `json:"failed" db:"failed"`
	BreachRate        float64    `json:"breach_rate"`
	FalsePositiveRate float64    `json:"false_positive_rate"`
	LastEvaluatedAt   *time.Time `json:"last_evaluated_at,omitempty"`
}

// ChannelType names a notification sender implementation
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
	ChannelNATS    ChannelType = "nats"
	ChannelLog     ChannelType = "log"
)

// NotificationChannel is a configured delivery target
type NotificationChannel struct {
	ID                int64       `json:"id" db:"id"`
	Name              string      `json:"name" db:"name"`
	Type              ChannelType `json:"type" db:"type"`
	Config            JSONMap     `json:"config" db:"config"`
	Enabled           bool        `json:"enabled" db:"enabled"`
	RateLimitPerHour  int         `json:"rate_limit_per_hour" db:"rate_limit_per_hour"`
	MaxRetries        int         `json:"max_retries" db:"max_retries"`
	RetryDelaySeconds int64       `json:"retry_delay_seconds" db:"retry_delay_seconds"`
	TimeoutSeconds    int64       `json:"timeout_seconds" db:"timeout_seconds"`
	SubjectTemplate   string      `json:"subject_template,omitempty" db:"subject_template"`
	BodyTemplate      string      `json:"body_template,omitempty" db:"body_template"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

func (c *NotificationChannel) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func (c *NotificationChannel) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RuleChannelBinding routes a rule's alerts to a channel. An empty
// SeverityFilter accepts every severity.
type RuleChannelBinding struct {
	RuleID         int64     `json:"rule_id" db:"rule_id"`
	ChannelID      int64     `json:"channel_id" db:"channel_id"`
	SeverityFilter StringSet `json:"severity_filter" db:"severity_filter"`
}

// Accepts reports whether the binding routes severity s
func (b RuleChannelBinding) Accepts(s Severity) bool {
	return len(b.SeverityFilter) == 0 || b.SeverityFilter.Contains(string(s))
}

// DeliveryStatus is the state of one delivery attempt
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBounced   DeliveryStatus = "bounced"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliverySent, DeliveryDelivered, DeliveryFailed, DeliveryBounced:
		return true
	}
	return false
}

// NotificationDelivery is one attempt to notify one channel about one instance
type NotificationDelivery struct {
	ID              int64          `json:"id" db:"id"`
	InstanceID      int64          `json:"instance_id" db:"instance_id"`
	ChannelID       int64          `json:"channel_id" db:"channel_id"`
	Attempt         int            `json:"attempt" db:"attempt"`
	Status          DeliveryStatus `json:"status" db:"status"`
	Reason          string         `json:"reason" db:"reason"`
	EscalationLevel int            `json:"escalation_level" db:"escalation_level"`
	Subject         string         `json:"subject" db:"subject"`
	Message         string         `json:"message" db:"message"`
	MessageID       string         `json:"message_id" db:"message_id"`
	Error           string         `json:"error,omitempty" db:"error"`
	Permanent       bool           `json:"permanent" db:"permanent"`
	NextAttemptAt   *time.Time     `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	SentAt          *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	FailedAt        *time.Time     `json:"failed_at,omitempty" db:"failed_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// EscalationPolicy is an ordered list of steps applied to matching alerts.
// Empty Severities or AlertTypes match everything.
type EscalationPolicy struct {
	ID          int64            `json:"id" db:"id"`
	Name        string           `json:"name" db:"name"`
	Description string           `json:"description" db:"description"`
	Enabled     bool             `json:"enabled" db:"enabled"`
	Severities  StringSet        `json:"severities" db:"severities"`
	AlertTypes  StringSet        `json:"alert_types" db:"alert_types"`
	Steps       []EscalationStep `json:"steps" db:"-"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// Matches reports whether the policy applies to the given severity and alert type
func (p *EscalationPolicy) Matches(severity Severity, alertType string) bool {
	if !p.Enabled {
		return false
	}
	if len(p.Severities) > 0 && !p.Severities.Contains(string(severity)) {
		return false
	}
	if len(p.AlertTypes) > 0 && !p.AlertTypes.Contains(alertType) {
		return false
	}
	return true
}

// EscalationStep fires a notification round after Delay
type EscalationStep struct {
	ID           int64  `json:"id" db:"id"`
	PolicyID     int64  `json:"policy_id" db:"policy_id"`
	StepOrder    int    `json:"step_order" db:"step_order"`
	DelaySeconds int64  `json:"delay_seconds" db:"delay_seconds"`
	ChannelIDs   IntSet `json:"channel_ids" db:"channel_ids"`
}

func (s EscalationStep) Delay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}

// SuppressionRule describes when breaches must not open or keep notifying
// an alert. Empty sets match everything; StartTime/EndTime are "HH:MM" and
// may wrap midnight.
type SuppressionRule struct {
	ID         int64      `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Enabled    bool       `json:"enabled" db:"enabled"`
	RuleIDs    IntSet     `json:"rule_ids" db:"rule_ids"`
	AlertTypes StringSet  `json:"alert_types" db:"alert_types"`
	Severities StringSet  `json:"severities" db:"severities"`
	DaysOfWeek StringSet  `json:"days_of_week" db:"days_of_week"`
	StartTime  string     `json:"start_time" db:"start_time"`
	EndTime    string     `json:"end_time" db:"end_time"`
	Timezone   string     `json:"timezone" db:"timezone"`
	StartsAt   *time.Time `json:"starts_at,omitempty" db:"starts_at"`
	EndsAt     *time.Time `json:"ends_at,omitempty" db:"ends_at"`
	Comment    string     `json:"comment" db:"comment"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// MetricSample is one observation in the storage_metrics table
type MetricSample struct {
	ID         int64     `json:"id" db:"id"`
	MetricType string    `json:"metric_type" db:"metric_type"`
	Scope      string    `json:"scope" db:"scope"`
	Value      float64   `json:"value" db:"value"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}
