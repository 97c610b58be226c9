package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

// EvaluationRepository implements repositories.EvaluationRepository.
// Evaluation rows are append-only.
type EvaluationRepository struct {
	db sqlx.ExtContext
}

// NewEvaluationRepository creates a new EvaluationRepository
func NewEvaluationRepository(db sqlx.ExtContext) repositories.EvaluationRepository {
	return &EvaluationRepository{db: db}
}

func (r *EvaluationRepository) Create(ctx context.Context, evaluation *models.AlertEvaluation) error {
	evaluation.EvaluatedAt = utc(evaluation.EvaluatedAt)
	query := `
		INSERT INTO alert_evaluations (
			rule_id, evaluated_at, value, threshold, breached, suppressed,
			alert_triggered, instance_id, outcome, error, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		evaluation.RuleID, evaluation.EvaluatedAt, evaluation.Value, evaluation.Threshold,
		evaluation.Breached, evaluation.Suppressed, evaluation.AlertTriggered,
		evaluation.InstanceID, evaluation.Outcome, evaluation.Error, evaluation.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record alert evaluation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	evaluation.ID = id
	return nil
}

// ListByRule returns a rule's evaluations at or after since, newest first.
// A non-positive limit returns every row.
func (r *EvaluationRepository) ListByRule(ctx context.Context, ruleID int64, since time.Time, limit int) ([]*models.AlertEvaluation, error) {
	query := `
		SELECT id, rule_id, evaluated_at, value, threshold, breached, suppressed,
			alert_triggered, instance_id, outcome, error, duration_ms
		FROM alert_evaluations
		WHERE rule_id = ? AND evaluated_at >= ?
		ORDER BY evaluated_at DESC, id DESC
	`
	args := []interface{}{ruleID, utc(since)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var evaluations []*models.AlertEvaluation
	if err := sqlx.SelectContext(ctx, r.db, &evaluations, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list alert evaluations: %w", err)
	}
	return evaluations, nil
}

// Stats aggregates a rule's evaluation history since the given time
func (r *EvaluationRepository) Stats(ctx context.Context, ruleID int64, since time.Time) (*models.EvaluationStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN breached = 1 THEN 1 ELSE 0 END), 0) AS breached,
			COALESCE(SUM(CASE WHEN alert_triggered = 1 THEN 1 ELSE 0 END), 0) AS triggered,
			COALESCE(SUM(CASE WHEN suppressed = 1 THEN 1 ELSE 0 END), 0) AS suppressed,
			COALESCE(SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM alert_evaluations
		WHERE rule_id = ? AND evaluated_at >= ?
	`
	stats := &models.EvaluationStats{RuleID: ruleID, Since: utc(since)}
	if err := sqlx.GetContext(ctx, r.db, stats, query, ruleID, utc(since)); err != nil {
		return nil, fmt.Errorf("failed to aggregate alert evaluations: %w", err)
	}

	var last []time.Time
	err := sqlx.SelectContext(ctx, r.db, &last,
		`SELECT evaluated_at FROM alert_evaluations WHERE rule_id = ? ORDER BY evaluated_at DESC, id DESC LIMIT 1`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get last evaluation time: %w", err)
	}
	if len(last) == 1 {
		stats.LastEvaluatedAt = &last[0]
	}
	return stats, nil
}

// DeleteBefore prunes evaluations older than before
func (r *EvaluationRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM alert_evaluations WHERE evaluated_at < ?`, utc(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune alert evaluations: %w", err)
	}
	return result.RowsAffected()
}
