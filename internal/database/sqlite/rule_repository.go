package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

const ruleColumns = `id, name, description, metric_type, scope, aggregation, prior_aggregation,
	comparison_mode, comparison_period, window_seconds, moving_average_buckets, operator,
	threshold, min_duration_seconds, evaluation_frequency_seconds, severity, enabled, state,
	cooldown_seconds, max_alerts_per_day, timezone, escalation_policy_id, breach_started_at,
	last_evaluated_at, last_triggered_at, created_at, updated_at`

// RuleRepository implements repositories.RuleRepository
type RuleRepository struct {
	db sqlx.ExtContext
}

// NewRuleRepository creates a new RuleRepository
func NewRuleRepository(db sqlx.ExtContext) repositories.RuleRepository {
	return &RuleRepository{db: db}
}

// Create inserts a rule and fills in its ID
func (r *RuleRepository) Create(ctx context.Context, rule *models.AlertRule) error {
	if rule.State == "" {
		rule.State = models.RuleInactive
	}
	rule.CreatedAt = utc(rule.CreatedAt)
	rule.UpdatedAt = utc(rule.UpdatedAt)

	query := `
		INSERT INTO alert_rules (
			name, description, metric_type, scope, aggregation, prior_aggregation,
			comparison_mode, comparison_period, window_seconds, moving_average_buckets,
			operator, threshold, min_duration_seconds, evaluation_frequency_seconds,
			severity, enabled, state, cooldown_seconds, max_alerts_per_day, timezone,
			escalation_policy_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Description, rule.MetricType, rule.Scope, rule.Aggregation,
		rule.PriorAggregation, rule.ComparisonMode, rule.ComparisonPeriod, rule.WindowSeconds,
		rule.MovingAverageBuckets, rule.Operator, rule.Threshold, rule.MinDurationSeconds,
		rule.EvaluationFrequencySeconds, rule.Severity, rule.Enabled, rule.State,
		rule.CooldownSeconds, rule.MaxAlertsPerDay, rule.Timezone, rule.EscalationPolicyID,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert rule: %w", conflict(err, "alert rule", rule.Name))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	rule.ID = id
	return nil
}

// GetByID retrieves a rule by ID
func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := sqlx.GetContext(ctx, r.db, &rule, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "alert rule", id)
	}
	return &rule, nil
}

// GetByName retrieves a rule by its unique name
func (r *RuleRepository) GetByName(ctx context.Context, name string) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := sqlx.GetContext(ctx, r.db, &rule, `SELECT `+ruleColumns+` FROM alert_rules WHERE name = ?`, name)
	if err != nil {
		return nil, notFound(err, "alert rule", name)
	}
	return &rule, nil
}

// List returns all rules ordered by ID
func (r *RuleRepository) List(ctx context.Context) ([]*models.AlertRule, error) {
	var rules []*models.AlertRule
	if err := sqlx.SelectContext(ctx, r.db, &rules, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// ListEnabled returns the rules the evaluator may consider
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]*models.AlertRule, error) {
	var rules []*models.AlertRule
	if err := sqlx.SelectContext(ctx, r.db, &rules, `SELECT `+ruleColumns+` FROM alert_rules WHERE enabled = 1 ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list enabled alert rules: %w", err)
	}
	return rules, nil
}

// Update writes the rule definition. The evaluation cursor and state are
// owned by the engine and left untouched.
func (r *RuleRepository) Update(ctx context.Context, rule *models.AlertRule) error {
	rule.UpdatedAt = utc(rule.UpdatedAt)
	query := `
		UPDATE alert_rules SET
			name = ?, description = ?, metric_type = ?, scope = ?, aggregation = ?,
			prior_aggregation = ?, comparison_mode = ?, comparison_period = ?,
			window_seconds = ?, moving_average_buckets = ?, operator = ?, threshold = ?,
			min_duration_seconds = ?, evaluation_frequency_seconds = ?, severity = ?,
			enabled = ?, cooldown_seconds = ?, max_alerts_per_day = ?, timezone = ?,
			escalation_policy_id = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Description, rule.MetricType, rule.Scope, rule.Aggregation,
		rule.PriorAggregation, rule.ComparisonMode, rule.ComparisonPeriod, rule.WindowSeconds,
		rule.MovingAverageBuckets, rule.Operator, rule.Threshold, rule.MinDurationSeconds,
		rule.EvaluationFrequencySeconds, rule.Severity, rule.Enabled, rule.CooldownSeconds,
		rule.MaxAlertsPerDay, rule.Timezone, rule.EscalationPolicyID, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", conflict(err, "alert rule", rule.Name))
	}
	return checkAffected(result, "alert rule", rule.ID)
}

// SetEnabled toggles evaluation of a rule
func (r *RuleRepository) SetEnabled(ctx context.Context, id int64, enabled bool, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE alert_rules SET enabled = ?, updated_at = ? WHERE id = ?`, enabled, utc(now), id)
	if err != nil {
		return fmt.Errorf("failed to set alert rule enabled: %w", err)
	}
	return checkAffected(result, "alert rule", id)
}

// SetState records the lifecycle state mirrored from the rule's instance
func (r *RuleRepository) SetState(ctx context.Context, id int64, state models.RuleState, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE alert_rules SET state = ?, updated_at = ? WHERE id = ?`, state, utc(now), id)
	if err != nil {
		return fmt.Errorf("failed to set alert rule state: %w", err)
	}
	return checkAffected(result, "alert rule", id)
}

// UpdateCursor persists the per-rule evaluation cursor
func (r *RuleRepository) UpdateCursor(ctx context.Context, id int64, cursor repositories.RuleCursor) error {
	query := `
		UPDATE alert_rules SET breach_started_at = ?, last_evaluated_at = ?, last_triggered_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		utcPtr(cursor.BreachStartedAt), utc(cursor.LastEvaluatedAt), utcPtr(cursor.LastTriggeredAt), id)
	if err != nil {
		return fmt.Errorf("failed to update alert rule cursor: %w", err)
	}
	return checkAffected(result, "alert rule", id)
}

// ClearBreach resets breach_started_at
func (r *RuleRepository) ClearBreach(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE alert_rules SET breach_started_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear alert rule breach: %w", err)
	}
	return checkAffected(result, "alert rule", id)
}

// Delete removes a rule together with its instances, evaluations and bindings
func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	return checkAffected(result, "alert rule", id)
}
