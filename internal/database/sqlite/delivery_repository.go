package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

const deliveryColumns = `id, instance_id, channel_id, attempt, status, reason, escalation_level,
	subject, message, message_id, error, permanent, next_attempt_at, sent_at, delivered_at,
	failed_at, created_at, updated_at`

// DeliveryRepository implements repositories.DeliveryRepository
type DeliveryRepository struct {
	db sqlx.ExtContext
}

// NewDeliveryRepository creates a new DeliveryRepository
func NewDeliveryRepository(db sqlx.ExtContext) repositories.DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Create(ctx context.Context, delivery *models.NotificationDelivery) error {
	if delivery.Status == "" {
		delivery.Status = models.DeliveryPending
	}
	delivery.CreatedAt = utc(delivery.CreatedAt)
	delivery.UpdatedAt = utc(delivery.UpdatedAt)
	query := `
		INSERT INTO notification_deliveries (
			instance_id, channel_id, attempt, status, reason, escalation_level, subject,
			message, message_id, error, permanent, next_attempt_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		delivery.InstanceID, delivery.ChannelID, delivery.Attempt, delivery.Status, delivery.Reason,
		delivery.EscalationLevel, delivery.Subject, delivery.Message, delivery.MessageID,
		delivery.Error, delivery.Permanent, utcPtr(delivery.NextAttemptAt),
		delivery.CreatedAt, delivery.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification delivery: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	delivery.ID = id
	return nil
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id int64) (*models.NotificationDelivery, error) {
	var delivery models.NotificationDelivery
	err := sqlx.GetContext(ctx, r.db, &delivery, `SELECT `+deliveryColumns+` FROM notification_deliveries WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "notification delivery", id)
	}
	return &delivery, nil
}

func (r *DeliveryRepository) Update(ctx context.Context, delivery *models.NotificationDelivery) error {
	delivery.UpdatedAt = utc(delivery.UpdatedAt)
	query := `
		UPDATE notification_deliveries SET
			status = ?, subject = ?, message = ?, error = ?, permanent = ?,
			next_attempt_at = ?, sent_at = ?, delivered_at = ?, failed_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		delivery.Status, delivery.Subject, delivery.Message, delivery.Error, delivery.Permanent,
		utcPtr(delivery.NextAttemptAt), utcPtr(delivery.SentAt), utcPtr(delivery.DeliveredAt),
		utcPtr(delivery.FailedAt), delivery.UpdatedAt, delivery.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification delivery: %w", err)
	}
	return checkAffected(result, "notification delivery", delivery.ID)
}

func (r *DeliveryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.NotificationDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + ` FROM notification_deliveries
		WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY next_attempt_at, id
		LIMIT ?
	`
	var deliveries []*models.NotificationDelivery
	if err := sqlx.SelectContext(ctx, r.db, &deliveries, query, utc(now), limit); err != nil {
		return nil, fmt.Errorf("failed to list due notification deliveries: %w", err)
	}
	return deliveries, nil
}

func (r *DeliveryRepository) CountAttemptsSince(ctx context.Context, channelID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM notification_deliveries
		WHERE channel_id = ? AND (sent_at >= ? OR failed_at >= ?)
	`
	var count int
	s := utc(since)
	if err := sqlx.GetContext(ctx, r.db, &count, query, channelID, s, s); err != nil {
		return 0, fmt.Errorf("failed to count channel sends: %w", err)
	}
	return count, nil
}

func (r *DeliveryRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*models.NotificationDelivery, error) {
	var deliveries []*models.NotificationDelivery
	err := sqlx.SelectContext(ctx, r.db, &deliveries,
		`SELECT `+deliveryColumns+` FROM notification_deliveries WHERE instance_id = ? ORDER BY id`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification deliveries: %w", err)
	}
	return deliveries, nil
}

// ListByStatus returns the most recent deliveries in a status. An empty
// status matches every row.
func (r *DeliveryRepository) ListByStatus(ctx context.Context, status models.DeliveryStatus, limit int) ([]*models.NotificationDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM notification_deliveries`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var deliveries []*models.NotificationDelivery
	if err := sqlx.SelectContext(ctx, r.db, &deliveries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notification deliveries: %w", err)
	}
	return deliveries, nil
}
