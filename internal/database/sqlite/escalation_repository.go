package sqlite

import (
	"context"
	"fmt"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

const policyColumns = `id, name, description, enabled, severities, alert_types, created_at, updated_at`

// EscalationRepository implements repositories.EscalationRepository.
// Steps are stored in their own table and always written with their policy.
type EscalationRepository struct {
	db sqlx.ExtContext
}

// NewEscalationRepository creates a new EscalationRepository
func NewEscalationRepository(db sqlx.ExtContext) repositories.EscalationRepository {
	return &EscalationRepository{db: db}
}

func (r *EscalationRepository) Create(ctx context.Context, policy *models.EscalationPolicy) error {
	policy.CreatedAt = utc(policy.CreatedAt)
	policy.UpdatedAt = utc(policy.UpdatedAt)
	query := `
		INSERT INTO escalation_policies (name, description, enabled, severities, alert_types, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		policy.Name, policy.Description, policy.Enabled, policy.Severities, policy.AlertTypes,
		policy.CreatedAt, policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create escalation policy: %w", conflict(err, "escalation policy", policy.Name))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	policy.ID = id
	return r.writeSteps(ctx, policy)
}

func (r *EscalationRepository) GetByID(ctx context.Context, id int64) (*models.EscalationPolicy, error) {
	var policy models.EscalationPolicy
	err := sqlx.GetContext(ctx, r.db, &policy, `SELECT `+policyColumns+` FROM escalation_policies WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "escalation policy", id)
	}
	if err := r.loadSteps(ctx, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *EscalationRepository) GetByName(ctx context.Context, name string) (*models.EscalationPolicy, error) {
	var policy models.EscalationPolicy
	err := sqlx.GetContext(ctx, r.db, &policy, `SELECT `+policyColumns+` FROM escalation_policies WHERE name = ?`, name)
	if err != nil {
		return nil, notFound(err, "escalation policy", name)
	}
	if err := r.loadSteps(ctx, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// List returns every policy with its steps, ordered by ID
func (r *EscalationRepository) List(ctx context.Context) ([]*models.EscalationPolicy, error) {
	var policies []*models.EscalationPolicy
	if err := sqlx.SelectContext(ctx, r.db, &policies, `SELECT `+policyColumns+` FROM escalation_policies ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list escalation policies: %w", err)
	}
	for _, policy := range policies {
		if err := r.loadSteps(ctx, policy); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

// Update rewrites the policy and replaces its steps
func (r *EscalationRepository) Update(ctx context.Context, policy *models.EscalationPolicy) error {
	policy.UpdatedAt = utc(policy.UpdatedAt)
	query := `
		UPDATE escalation_policies SET
			name = ?, description = ?, enabled = ?, severities = ?, alert_types = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		policy.Name, policy.Description, policy.Enabled, policy.Severities, policy.AlertTypes,
		policy.UpdatedAt, policy.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update escalation policy: %w", conflict(err, "escalation policy", policy.Name))
	}
	if err := checkAffected(result, "escalation policy", policy.ID); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM escalation_steps WHERE policy_id = ?`, policy.ID); err != nil {
		return fmt.Errorf("failed to clear escalation steps: %w", err)
	}
	return r.writeSteps(ctx, policy)
}

func (r *EscalationRepository) writeSteps(ctx context.Context, policy *models.EscalationPolicy) error {
	for i := range policy.Steps {
		step := &policy.Steps[i]
		step.PolicyID = policy.ID
		if step.StepOrder == 0 {
			step.StepOrder = i + 1
		}
		result, err := r.db.ExecContext(ctx,
			`INSERT INTO escalation_steps (policy_id, step_order, delay_seconds, channel_ids) VALUES (?, ?, ?, ?)`,
			step.PolicyID, step.StepOrder, step.DelaySeconds, step.ChannelIDs)
		if err != nil {
			return fmt.Errorf("failed to create escalation step %d: %w", step.StepOrder, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		step.ID = id
	}
	return nil
}

func (r *EscalationRepository) loadSteps(ctx context.Context, policy *models.EscalationPolicy) error {
	var steps []models.EscalationStep
	err := sqlx.SelectContext(ctx, r.db, &steps,
		`SELECT id, policy_id, step_order, delay_seconds, channel_ids FROM escalation_steps WHERE policy_id = ? ORDER BY step_order`,
		policy.ID)
	if err != nil {
		return fmt.Errorf("failed to load escalation steps: %w", err)
	}
	policy.Steps = steps
	return nil
}
