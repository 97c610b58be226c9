package sqlite

import (
	"context"
	"fmt"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

const channelColumns = `id, name, type, config, enabled, rate_limit_per_hour, max_retries,
	retry_delay_seconds, timeout_seconds, subject_template, body_template, created_at, updated_at`

// ChannelRepository implements repositories.ChannelRepository
type ChannelRepository struct {
	db sqlx.ExtContext
}

// NewChannelRepository creates a new ChannelRepository
func NewChannelRepository(db sqlx.ExtContext) repositories.ChannelRepository {
	return &ChannelRepository{db: db}
}

func (r *ChannelRepository) Create(ctx context.Context, channel *models.NotificationChannel) error {
	channel.CreatedAt = utc(channel.CreatedAt)
	channel.UpdatedAt = utc(channel.UpdatedAt)
	query := `
		INSERT INTO notification_channels (
			name, type, config, enabled, rate_limit_per_hour, max_retries,
			retry_delay_seconds, timeout_seconds, subject_template, body_template,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		channel.Name, channel.Type, channel.Config, channel.Enabled, channel.RateLimitPerHour,
		channel.MaxRetries, channel.RetryDelaySeconds, channel.TimeoutSeconds,
		channel.SubjectTemplate, channel.BodyTemplate, channel.CreatedAt, channel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification channel: %w", conflict(err, "notification channel", channel.Name))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	channel.ID = id
	return nil
}

func (r *ChannelRepository) GetByID(ctx context.Context, id int64) (*models.NotificationChannel, error) {
	var channel models.NotificationChannel
	err := sqlx.GetContext(ctx, r.db, &channel, `SELECT `+channelColumns+` FROM notification_channels WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "notification channel", id)
	}
	return &channel, nil
}

func (r *ChannelRepository) GetByName(ctx context.Context, name string) (*models.NotificationChannel, error) {
	var channel models.NotificationChannel
	err := sqlx.GetContext(ctx, r.db, &channel, `SELECT `+channelColumns+` FROM notification_channels WHERE name = ?`, name)
	if err != nil {
		return nil, notFound(err, "notification channel", name)
	}
	return &channel, nil
}

func (r *ChannelRepository) List(ctx context.Context) ([]*models.NotificationChannel, error) {
	var channels []*models.NotificationChannel
	if err := sqlx.SelectContext(ctx, r.db, &channels, `SELECT `+channelColumns+` FROM notification_channels ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list notification channels: %w", err)
	}
	return channels, nil
}

func (r *ChannelRepository) Update(ctx context.Context, channel *models.NotificationChannel) error {
	channel.UpdatedAt = utc(channel.UpdatedAt)
	query := `
		UPDATE notification_channels SET
			name = ?, type = ?, config = ?, enabled = ?, rate_limit_per_hour = ?,
			max_retries = ?, retry_delay_seconds = ?, timeout_seconds = ?,
			subject_template = ?, body_template = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		channel.Name, channel.Type, channel.Config, channel.Enabled, channel.RateLimitPerHour,
		channel.MaxRetries, channel.RetryDelaySeconds, channel.TimeoutSeconds,
		channel.SubjectTemplate, channel.BodyTemplate, channel.UpdatedAt, channel.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification channel: %w", conflict(err, "notification channel", channel.Name))
	}
	return checkAffected(result, "notification channel", channel.ID)
}

// ReplaceBindings swaps the full set of channel bindings for a rule.
// Callers should run it inside a transaction.
func (r *ChannelRepository) ReplaceBindings(ctx context.Context, ruleID int64, bindings []models.RuleChannelBinding) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM alert_rule_channels WHERE rule_id = ?`, ruleID); err != nil {
		return fmt.Errorf("failed to clear rule channel bindings: %w", err)
	}
	for _, binding := range bindings {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO alert_rule_channels (rule_id, channel_id, severity_filter) VALUES (?, ?, ?)`,
			ruleID, binding.ChannelID, binding.SeverityFilter)
		if err != nil {
			return fmt.Errorf("failed to bind channel %d to rule %d: %w", binding.ChannelID, ruleID, err)
		}
	}
	return nil
}

func (r *ChannelRepository) ListBindings(ctx context.Context, ruleID int64) ([]models.RuleChannelBinding, error) {
	var bindings []models.RuleChannelBinding
	err := sqlx.SelectContext(ctx, r.db, &bindings,
		`SELECT rule_id, channel_id, severity_filter FROM alert_rule_channels WHERE rule_id = ? ORDER BY channel_id`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule channel bindings: %w", err)
	}
	return bindings, nil
}
