package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
)

// ErrDuplicateOpenInstance is returned when inserting a second non-resolved
// instance for a rule.
var ErrDuplicateOpenInstance = errors.New("rule already has an open alert instance")

// RuleCursor is the per-rule evaluation state written after every cycle
type RuleCursor struct {
	BreachStartedAt *time.Time
	LastEvaluatedAt time.Time
	LastTriggeredAt *time.Time
}

// RuleRepository defines alert rule data access methods
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id int64) (*models.AlertRule, error)
	GetByName(ctx context.Context, name string) (*models.AlertRule, error)
	List(ctx context.Context) ([]*models.AlertRule, error)
	ListEnabled(ctx context.Context) ([]*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	SetEnabled(ctx context.Context, id int64, enabled bool, now time.Time) error
	SetState(ctx context.Context, id int64, state models.RuleState, now time.Time) error
	UpdateCursor(ctx context.Context, id int64, cursor RuleCursor) error
	// ClearBreach forgets the tracked breach start so a new breach must
	// persist for min_duration again
	ClearBreach(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// InstanceRepository defines alert instance data access methods
type InstanceRepository interface {
	Create(ctx context.Context, instance *models.AlertInstance) error
	GetByID(ctx context.Context, id int64) (*models.AlertInstance, error)
	// FindOpenByRule returns the rule's non-resolved instance, or nil
	FindOpenByRule(ctx context.Context, ruleID int64) (*models.AlertInstance, error)
	// LatestResolved returns the most recently resolved instance, or nil
	LatestResolved(ctx context.Context, ruleID int64) (*models.AlertInstance, error)
	CountStartedSince(ctx context.Context, ruleID int64, since time.Time) (int, error)
	ListByStates(ctx context.Context, states ...models.InstanceState) ([]*models.AlertInstance, error)
	ListActive(ctx context.Context) ([]*models.ActiveAlert, error)
	CountOpen(ctx context.Context) (int, error)
	Update(ctx context.Context, instance *models.AlertInstance) error
}

// EvaluationRepository defines evaluation history data access methods
type EvaluationRepository interface {
	Create(ctx context.Context, evaluation *models.AlertEvaluation) error
	ListByRule(ctx context.Context, ruleID int64, since time.Time, limit int) ([]*models.AlertEvaluation, error)
	Stats(ctx context.Context, ruleID int64, since time.Time) (*models.EvaluationStats, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ChannelRepository defines notification channel and binding data access methods
type ChannelRepository interface {
	Create(ctx context.Context, channel *models.NotificationChannel) error
	GetByID(ctx context.Context, id int64) (*models.NotificationChannel, error)
	GetByName(ctx context.Context, name string) (*models.NotificationChannel, error)
	List(ctx context.Context) ([]*models.NotificationChannel, error)
	Update(ctx context.Context, channel *models.NotificationChannel) error
	ReplaceBindings(ctx context.Context, ruleID int64, bindings []models.RuleChannelBinding) error
	ListBindings(ctx context.Context, ruleID int64) ([]models.RuleChannelBinding, error)
}

// DeliveryRepository defines notification delivery data access methods
type DeliveryRepository interface {
	Create(ctx context.Context, delivery *models.NotificationDelivery) error
	GetByID(ctx context.Context, id int64) (*models.NotificationDelivery, error)
	Update(ctx context.Context, delivery *models.NotificationDelivery) error
	// ListDue returns pending deliveries whose next attempt is at or before now
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.NotificationDelivery, error)
	// CountAttemptsSince counts send attempts made on a channel since the given time
	CountAttemptsSince(ctx context.Context, channelID int64, since time.Time) (int, error)
	ListByInstance(ctx context.Context, instanceID int64) ([]*models.NotificationDelivery, error)
	ListByStatus(ctx context.Context, status models.DeliveryStatus, limit int) ([]*models.NotificationDelivery, error)
}

// EscalationRepository defines escalation policy data access methods
type EscalationRepository interface {
	Create(ctx context.Context, policy *models.EscalationPolicy) error
	GetByID(ctx context.Context, id int64) (*models.EscalationPolicy, error)
	GetByName(ctx context.Context, name string) (*models.EscalationPolicy, error)
	List(ctx context.Context) ([]*models.EscalationPolicy, error)
	Update(ctx context.Context, policy *models.EscalationPolicy) error
}

// SuppressionRepository defines suppression rule data access methods
type SuppressionRepository interface {
	Create(ctx context.Context, rule *models.SuppressionRule) error
	GetByID(ctx context.Context, id int64) (*models.SuppressionRule, error)
	GetByName(ctx context.Context, name string) (*models.SuppressionRule, error)
	List(ctx context.Context) ([]*models.SuppressionRule, error)
	ListEnabled(ctx context.Context) ([]*models.SuppressionRule, error)
	Update(ctx context.Context, rule *models.SuppressionRule) error
}
