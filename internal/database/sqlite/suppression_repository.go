package sqlite

import (
	"context"
	"fmt"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

const suppressionColumns = `id, name, enabled, rule_ids, alert_types, severities, days_of_week,
	start_time, end_time, timezone, starts_at, ends_at, comment, created_at, updated_at`

// SuppressionRepository implements repositories.SuppressionRepository
type SuppressionRepository struct {
	db sqlx.ExtContext
}

// NewSuppressionRepository creates a new SuppressionRepository
func NewSuppressionRepository(db sqlx.ExtContext) repositories.SuppressionRepository {
	return &SuppressionRepository{db: db}
}

func (r *SuppressionRepository) Create(ctx context.Context, rule *models.SuppressionRule) error {
	rule.CreatedAt = utc(rule.CreatedAt)
	rule.UpdatedAt = utc(rule.UpdatedAt)
	query := `
		INSERT INTO suppression_rules (
			name, enabled, rule_ids, alert_types, severities, days_of_week, start_time,
			end_time, timezone, starts_at, ends_at, comment, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Enabled, rule.RuleIDs, rule.AlertTypes, rule.Severities, rule.DaysOfWeek,
		rule.StartTime, rule.EndTime, rule.Timezone, utcPtr(rule.StartsAt), utcPtr(rule.EndsAt),
		rule.Comment, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create suppression rule: %w", conflict(err, "suppression rule", rule.Name))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	rule.ID = id
	return nil
}

func (r *SuppressionRepository) GetByID(ctx context.Context, id int64) (*models.SuppressionRule, error) {
	var rule models.SuppressionRule
	err := sqlx.GetContext(ctx, r.db, &rule, `SELECT `+suppressionColumns+` FROM suppression_rules WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "suppression rule", id)
	}
	return &rule, nil
}

func (r *SuppressionRepository) GetByName(ctx context.Context, name string) (*models.SuppressionRule, error) {
	var rule models.SuppressionRule
	err := sqlx.GetContext(ctx, r.db, &rule, `SELECT `+suppressionColumns+` FROM suppression_rules WHERE name = ?`, name)
	if err != nil {
		return nil, notFound(err, "suppression rule", name)
	}
	return &rule, nil
}

func (r *SuppressionRepository) List(ctx context.Context) ([]*models.SuppressionRule, error) {
	var rules []*models.SuppressionRule
	if err := sqlx.SelectContext(ctx, r.db, &rules, `SELECT `+suppressionColumns+` FROM suppression_rules ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list suppression rules: %w", err)
	}
	return rules, nil
}

func (r *SuppressionRepository) ListEnabled(ctx context.Context) ([]*models.SuppressionRule, error) {
	var rules []*models.SuppressionRule
	err := sqlx.SelectContext(ctx, r.db, &rules,
		`SELECT `+suppressionColumns+` FROM suppression_rules WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled suppression rules: %w", err)
	}
	return rules, nil
}

func (r *SuppressionRepository) Update(ctx context.Context, rule *models.SuppressionRule) error {
	rule.UpdatedAt = utc(rule.UpdatedAt)
	query := `
		UPDATE suppression_rules SET
			name = ?, enabled = ?, rule_ids = ?, alert_types = ?, severities = ?,
			days_of_week = ?, start_time = ?, end_time = ?, timezone = ?, starts_at = ?,
			ends_at = ?, comment = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Enabled, rule.RuleIDs, rule.AlertTypes, rule.Severities, rule.DaysOfWeek,
		rule.StartTime, rule.EndTime, rule.Timezone, utcPtr(rule.StartsAt), utcPtr(rule.EndsAt),
		rule.Comment, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update suppression rule: %w", conflict(err, "suppression rule", rule.Name))
	}
	return checkAffected(result, "suppression rule", rule.ID)
}
