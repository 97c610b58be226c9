package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/sirupsen/logrus"
)

const systemActor = "system"

// Transition is the result of applying one lifecycle step to a rule's
// instance. Event is empty when nothing observable changed.
type Transition struct {
	Outcome     models.EvaluationOutcome
	Instance    *models.AlertInstance
	Event       EventType
	Suppression *models.SuppressionRule
}

// StateMachine owns alert instance lifecycles. Every method runs inside the
// caller's transaction and expects the caller to hold the rule's lock.
type StateMachine struct {
	defaultZone *time.Location
	logger      *logrus.Logger
}

// NewStateMachine creates a state machine. defaultZone bounds the
// max_alerts_per_day window for rules without a timezone.
func NewStateMachine(defaultZone *time.Location, logger *logrus.Logger) *StateMachine {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	return &StateMachine{defaultZone: defaultZone, logger: logger}
}

// HandleBreach applies a sustained breach. suppression is the active
// suppression rule, if any.
func (m *StateMachine) HandleBreach(ctx context.Context, repos *database.Repositories, rule *models.AlertRule, value float64, suppression *models.SuppressionRule, now time.Time) (Transition, error) {
	open, err := repos.Instances.FindOpenByRule(ctx, rule.ID)
	if err != nil {
		return Transition{}, err
	}
	if open != nil {
		return m.updateOpen(ctx, repos, rule, open, value, suppression, now)
	}

	if suppression != nil {
		return Transition{Outcome: models.OutcomeSuppressed, Suppression: suppression}, nil
	}

	if rule.MaxAlertsPerDay > 0 {
		since := startOfDay(now, ruleLocation(rule, m.defaultZone))
		count, err := repos.Instances.CountStartedSince(ctx, rule.ID, since)
		if err != nil {
			return Transition{}, err
		}
		if count >= rule.MaxAlertsPerDay {
			return Transition{Outcome: models.OutcomeRateLimited}, nil
		}
	}

	if rule.CooldownSeconds > 0 {
		last, err := repos.Instances.LatestResolved(ctx, rule.ID)
		if err != nil {
			return Transition{}, err
		}
		if last != nil && last.ResolvedAt != nil && now.Before(last.ResolvedAt.Add(rule.Cooldown())) {
			return Transition{Outcome: models.OutcomeCooldown}, nil
		}
	}

	instance := &models.AlertInstance{
		RuleID:    rule.ID,
		Level:     models.LevelFor(rule.Severity),
		State:     models.InstanceActive,
		Value:     value,
		Threshold: rule.Threshold,
		StartedAt: now,
		UpdatedAt: now,
		Context:   instanceContext(rule),
	}
	err = repos.Instances.Create(ctx, instance)
	if errors.Is(err, repositories.ErrDuplicateOpenInstance) {
		existing, findErr := repos.Instances.FindOpenByRule(ctx, rule.ID)
		if findErr != nil {
			return Transition{}, findErr
		}
		if existing == nil {
			return Transition{}, err
		}
		m.logger.WithField("rule_id", rule.ID).Warn("Open instance already exists, updating it instead")
		return m.updateOpen(ctx, repos, rule, existing, value, suppression, now)
	}
	if err != nil {
		return Transition{}, err
	}

	if err := repos.Rules.SetState(ctx, rule.ID, models.RuleActive, now); err != nil {
		return Transition{}, err
	}
	rule.State = models.RuleActive

	m.logger.WithFields(logrus.Fields{
		"rule_id":     rule.ID,
		"instance_id": instance.ID,
		"value":       value,
	}).Info("Alert opened")
	return Transition{Outcome: models.OutcomeOpened, Instance: instance, Event: EventOpened}, nil
}

func (m *StateMachine) updateOpen(ctx context.Context, repos *database.Repositories, rule *models.AlertRule, instance *models.AlertInstance, value float64, suppression *models.SuppressionRule, now time.Time) (Transition, error) {
	t := Transition{Outcome: models.OutcomeUpdated, Instance: instance, Event: EventUpdated, Suppression: suppression}

	switch {
	case instance.State == models.InstanceActive && suppression != nil:
		instance.State = models.InstanceSuppressed
		t.Outcome, t.Event = models.OutcomeSuppressed, EventSuppressed
	case instance.State == models.InstanceSuppressed && suppression == nil:
		instance.State = models.InstanceActive
		// Time spent suppressed does not count toward the next escalation step
		instance.LastEscalatedAt = &now
		t.Outcome, t.Event = models.OutcomeReactivated, EventReactivated
	case instance.State == models.InstanceSuppressed:
		t.Outcome, t.Event = models.OutcomeSuppressed, ""
	}

	instance.Value = value
	instance.UpdatedAt = now
	if err := repos.Instances.Update(ctx, instance); err != nil {
		return Transition{}, err
	}
	if err := m.mirrorState(ctx, repos, rule, instance.State, now); err != nil {
		return Transition{}, err
	}

	if t.Event == EventSuppressed || t.Event == EventReactivated {
		m.logger.WithFields(logrus.Fields{
			"rule_id":     rule.ID,
			"instance_id": instance.ID,
			"state":       instance.State,
		}).Info("Alert state changed")
	}
	return t, nil
}

// HandleClear resolves the rule's open instance, if any, after the breach
// condition stopped holding
func (m *StateMachine) HandleClear(ctx context.Context, repos *database.Repositories, rule *models.AlertRule, now time.Time) (Transition, error) {
	open, err := repos.Instances.FindOpenByRule(ctx, rule.ID)
	if err != nil {
		return Transition{}, err
	}
	if open == nil {
		return Transition{Outcome: models.OutcomeOK}, nil
	}
	t, err := m.Resolve(ctx, repos, rule, open, systemActor, "breach condition cleared", now)
	if err != nil {
		return Transition{}, err
	}
	t.Outcome = models.OutcomeResolved
	return t, nil
}

// Acknowledge stops escalation of an open instance. Acknowledging an
// acknowledged or resolved instance is a no-op.
func (m *StateMachine) Acknowledge(ctx context.Context, repos *database.Repositories, rule *models.AlertRule, instance *models.AlertInstance, by string, now time.Time) (Transition, error) {
	if instance.State == models.InstanceAcknowledged || instance.State == models.InstanceResolved {
		return Transition{Instance: instance}, nil
	}

	instance.State = models.InstanceAcknowledged
	instance.AcknowledgedAt = &now
	instance.AcknowledgedBy = by
	instance.UpdatedAt = now
	if err := repos.Instances.Update(ctx, instance); err != nil {
		return Transition{}, err
	}
	if err := m.mirrorState(ctx, repos, rule, instance.State, now); err != nil {
		return Transition{}, err
	}

	m.logger.WithFields(logrus.Fields{
		"rule_id":     rule.ID,
		"instance_id": instance.ID,
		"by":          by,
	}).Info("Alert acknowledged")
	return Transition{Instance: instance, Event: EventAcknowledged}, nil
}

// Resolve closes an instance from any open state. Resolving a resolved
// instance is a no-op.
func (m *StateMachine) Resolve(ctx context.Context, repos *database.Repositories, rule *models.AlertRule, instance *models.AlertInstance, by, resolution string, now time.Time) (Transition, error) {
	if instance.State == models.InstanceResolved {
		return Transition{Instance: instance}, nil
	}

	instance.State = models.InstanceResolved
	instance.ResolvedAt = &now
	instance.ResolvedBy = by
	instance.Resolution = resolution
	instance.UpdatedAt = now
	if err := repos.Instances.Update(ctx, instance); err != nil {
		return Transition{}, err
	}
	if err := m.mirrorState(ctx, repos, rule, instance.State, now); err != nil {
		return Transition{}, err
	}
	if err := repos.Rules.ClearBreach(ctx, rule.ID); err != nil {
		return Transition{}, err
	}
	rule.BreachStartedAt = nil

	m.logger.WithFields(logrus.Fields{
		"rule_id":     rule.ID,
		"instance_id": instance.ID,
		"by":          by,
	}).Info("Alert resolved")
	return Transition{Instance: instance, Event: EventResolved}, nil
}

func (m *StateMachine) mirrorState(ctx context.Context, repos *database.Repositories, rule *models.AlertRule, state models.InstanceState, now time.Time) error {
	var ruleState models.RuleState
	switch state {
	case models.InstanceActive:
		ruleState = models.RuleActive
	case models.InstanceAcknowledged:
		ruleState = models.RuleAcknowledged
	case models.InstanceSuppressed:
		ruleState = models.RuleSuppressed
	case models.InstanceResolved:
		ruleState = models.RuleInactive
	default:
		return fmt.Errorf("unknown instance state %q", state)
	}
	if rule.State == ruleState {
		return nil
	}
	if err := repos.Rules.SetState(ctx, rule.ID, ruleState, now); err != nil {
		return err
	}
	rule.State = ruleState
	return nil
}

func instanceContext(rule *models.AlertRule) models.JSONMap {
	ctx := models.JSONMap{
		"rule_name":       rule.Name,
		"metric_type":     rule.MetricType,
		"aggregation":     string(rule.Aggregation),
		"comparison_mode": string(rule.ComparisonMode),
		"operator":        string(rule.Operator),
		"window_seconds":  rule.WindowSeconds,
	}
	if rule.Scope != "" {
		ctx["scope"] = rule.Scope
	}
	return ctx
}
