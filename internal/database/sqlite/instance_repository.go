package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

const instanceColumns = `id, rule_id, level, state, value, threshold, started_at, updated_at,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by, resolution,
	escalation_level, last_escalated_at, context`

// InstanceRepository implements repositories.InstanceRepository
type InstanceRepository struct {
	db sqlx.ExtContext
}

// NewInstanceRepository creates a new InstanceRepository
func NewInstanceRepository(db sqlx.ExtContext) repositories.InstanceRepository {
	return &InstanceRepository{db: db}
}

// Create inserts a new instance. A second open instance for the same rule
// is refused with repositories.ErrDuplicateOpenInstance.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.AlertInstance) error {
	instance.StartedAt = utc(instance.StartedAt)
	instance.UpdatedAt = utc(instance.UpdatedAt)
	query := `
		INSERT INTO alert_instances (
			rule_id, level, state, value, threshold, started_at, updated_at,
			escalation_level, context
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		instance.RuleID, instance.Level, instance.State, instance.Value, instance.Threshold,
		instance.StartedAt, instance.UpdatedAt, instance.EscalationLevel, instance.Context,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrDuplicateOpenInstance
		}
		return fmt.Errorf("failed to create alert instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	instance.ID = id
	return nil
}

// GetByID retrieves an instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*models.AlertInstance, error) {
	var instance models.AlertInstance
	err := sqlx.GetContext(ctx, r.db, &instance, `SELECT `+instanceColumns+` FROM alert_instances WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "alert instance", id)
	}
	return &instance, nil
}

// FindOpenByRule returns the rule's non-resolved instance, or nil when there is none
func (r *InstanceRepository) FindOpenByRule(ctx context.Context, ruleID int64) (*models.AlertInstance, error) {
	var instance models.AlertInstance
	err := sqlx.GetContext(ctx, r.db, &instance,
		`SELECT `+instanceColumns+` FROM alert_instances WHERE rule_id = ? AND state <> 'resolved'`, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open alert instance: %w", err)
	}
	return &instance, nil
}

// LatestResolved returns the rule's most recently resolved instance, or nil
func (r *InstanceRepository) LatestResolved(ctx context.Context, ruleID int64) (*models.AlertInstance, error) {
	var instance models.AlertInstance
	query := `
		SELECT ` + instanceColumns + ` FROM alert_instances
		WHERE rule_id = ? AND state = 'resolved'
		ORDER BY resolved_at DESC, id DESC
		LIMIT 1
	`
	err := sqlx.GetContext(ctx, r.db, &instance, query, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest resolved alert instance: %w", err)
	}
	return &instance, nil
}

// CountStartedSince counts instances opened for a rule at or after since
func (r *InstanceRepository) CountStartedSince(ctx context.Context, ruleID int64, since time.Time) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, r.db, &count,
		`SELECT COUNT(*) FROM alert_instances WHERE rule_id = ? AND started_at >= ?`, ruleID, utc(since))
	if err != nil {
		return 0, fmt.Errorf("failed to count alert instances: %w", err)
	}
	return count, nil
}

// ListByStates returns instances in any of the given states, oldest first
func (r *InstanceRepository) ListByStates(ctx context.Context, states ...models.InstanceState) ([]*models.AlertInstance, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+instanceColumns+` FROM alert_instances WHERE state IN (?) ORDER BY started_at, id`, states)
	if err != nil {
		return nil, fmt.Errorf("failed to build instance query: %w", err)
	}
	var instances []*models.AlertInstance
	if err := sqlx.SelectContext(ctx, r.db, &instances, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list alert instances: %w", err)
	}
	return instances, nil
}

// ListActive returns open instances ordered by rule severity, then start time
func (r *InstanceRepository) ListActive(ctx context.Context) ([]*models.ActiveAlert, error) {
	query := `
		SELECT i.id, i.rule_id, i.level, i.state, i.value, i.threshold, i.started_at,
			i.updated_at, i.acknowledged_at, i.acknowledged_by, i.resolved_at, i.resolved_by,
			i.resolution, i.escalation_level, i.last_escalated_at, i.context,
			r.name AS rule_name, r.metric_type, r.scope, r.severity
		FROM alert_instances i
		JOIN alert_rules r ON r.id = i.rule_id
		WHERE i.state IN ('active', 'acknowledged', 'suppressed')
		ORDER BY CASE r.severity
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			WHEN 'low' THEN 3
			ELSE 4 END,
			i.started_at, i.id
	`
	var alerts []*models.ActiveAlert
	if err := sqlx.SelectContext(ctx, r.db, &alerts, query); err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	return alerts, nil
}

// CountOpen counts non-resolved instances across all rules
func (r *InstanceRepository) CountOpen(ctx context.Context) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, `SELECT COUNT(*) FROM alert_instances WHERE state <> 'resolved'`); err != nil {
		return 0, fmt.Errorf("failed to count open alert instances: %w", err)
	}
	return count, nil
}

// Update writes the mutable fields of an instance
func (r *InstanceRepository) Update(ctx context.Context, instance *models.AlertInstance) error {
	instance.UpdatedAt = utc(instance.UpdatedAt)
	query := `
		UPDATE alert_instances SET
			level = ?, state = ?, value = ?, threshold = ?, updated_at = ?,
			acknowledged_at = ?, acknowledged_by = ?, resolved_at = ?, resolved_by = ?,
			resolution = ?, escalation_level = ?, last_escalated_at = ?, context = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		instance.Level, instance.State, instance.Value, instance.Threshold, instance.UpdatedAt,
		utcPtr(instance.AcknowledgedAt), instance.AcknowledgedBy, utcPtr(instance.ResolvedAt),
		instance.ResolvedBy, instance.Resolution, instance.EscalationLevel,
		utcPtr(instance.LastEscalatedAt), instance.Context, instance.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrDuplicateOpenInstance
		}
		return fmt.Errorf("failed to update alert instance: %w", err)
	}
	return checkAffected(result, "alert instance", instance.ID)
}
