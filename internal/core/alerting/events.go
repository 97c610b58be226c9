package alerting

import (
	"context"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
)

// EventType names a lifecycle transition broadcast to live subscribers
type EventType string

const (
	EventOpened       EventType = "alert.opened"
	EventUpdated      EventType = "alert.updated"
	EventSuppressed   EventType = "alert.suppressed"
	EventReactivated  EventType = "alert.reactivated"
	EventAcknowledged EventType = "alert.acknowledged"
	EventResolved     EventType = "alert.resolved"
	EventEscalated    EventType = "alert.escalated"
)

// Event describes one alert instance transition
type Event struct {
	Type      EventType             `json:"type"`
	RuleID    int64                 `json:"rule_id"`
	RuleName  string                `json:"rule_name"`
	Severity  models.Severity       `json:"severity"`
	Instance  *models.AlertInstance `json:"instance"`
	Timestamp time.Time             `json:"timestamp"`
}

// Publisher receives alert events, e.g. the websocket hub
type Publisher interface {
	Publish(event Event)
}

// Notifier fans an alert out to notification channels
type Notifier interface {
	// NotifyInstance notifies every channel bound to rule that accepts its severity
	NotifyInstance(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance, reason string) error
	// NotifyEscalation notifies the channels of one escalation step
	NotifyEscalation(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance, step models.EscalationStep) error
}

// DeliveryProcessor re-attempts queued and retrying deliveries
type DeliveryProcessor interface {
	ProcessDue(ctx context.Context) (int, error)
}

func newEvent(typ EventType, rule *models.AlertRule, instance *models.AlertInstance, at time.Time) Event {
	return Event{
		Type:      typ,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Severity:  rule.Severity,
		Instance:  instance,
		Timestamp: at,
	}
}
