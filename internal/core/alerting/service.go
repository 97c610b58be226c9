package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/clock"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting/internal/core/notify"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	apperrors "github.com/frostdev-ops/pma-alerting/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Service is the administrative surface over rules, instances, channels,
// escalation policies and suppression rules. Instance transitions take the
// same per-rule locks as the evaluator.
type Service struct {
	store          *database.Store
	machine        *StateMachine
	history        *HistoryLogger
	publisher      Publisher
	collector      *metrics.PrometheusCollector
	locks          *ruleLocks
	clock          clock.Clock
	logger         *logrus.Logger
	onRulesChanged func(ctx context.Context)
}

// Rules

func (s *Service) ListRules(ctx context.Context) ([]*models.AlertRule, error) {
	return s.store.Rules.List(ctx)
}

func (s *Service) GetRule(ctx context.Context, id int64) (*models.AlertRule, error) {
	return s.store.Rules.GetByID(ctx, id)
}

// CreateRule validates and stores a rule together with its channel bindings
func (s *Service) CreateRule(ctx context.Context, rule *models.AlertRule, bindings []models.RuleChannelBinding) (*models.AlertRule, error) {
	NormalizeRule(rule)
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := s.checkRuleReferences(ctx, rule, bindings); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rule.ID = 0
	rule.State = models.RuleInactive
	rule.BreachStartedAt, rule.LastEvaluatedAt, rule.LastTriggeredAt = nil, nil, nil
	rule.CreatedAt, rule.UpdatedAt = now, now

	err := s.store.WithTx(ctx, func(repos *database.Repositories) error {
		if err := repos.Rules.Create(ctx, rule); err != nil {
			return err
		}
		return repos.Channels.ReplaceBindings(ctx, rule.ID, bindings)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "rule": rule.Name}).Info("Alert rule created")
	s.rulesChanged(ctx)
	return rule, nil
}

// UpdateRule replaces a rule's definition. State and the evaluation cursor
// are kept.
func (s *Service) UpdateRule(ctx context.Context, id int64, rule *models.AlertRule) (*models.AlertRule, error) {
	NormalizeRule(rule)
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := s.checkRuleReferences(ctx, rule, nil); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	existing, err := s.store.Rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.ID = id
	rule.State = existing.State
	rule.BreachStartedAt = existing.BreachStartedAt
	rule.LastEvaluatedAt = existing.LastEvaluatedAt
	rule.LastTriggeredAt = existing.LastTriggeredAt
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.clock.Now()

	if err := s.store.Rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.WithField("rule_id", id).Info("Alert rule updated")
	s.rulesChanged(ctx)
	return rule, nil
}

// SetRuleEnabled enables or disables evaluation of a rule
func (s *Service) SetRuleEnabled(ctx context.Context, id int64, enabled bool) (*models.AlertRule, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Rules.SetEnabled(ctx, id, enabled, s.clock.Now()); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"rule_id": id, "enabled": enabled}).Info("Alert rule toggled")
	s.rulesChanged(ctx)
	return s.store.Rules.GetByID(ctx, id)
}

// DeleteRule removes a rule and everything it owns
func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Rules.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("rule_id", id).Info("Alert rule deleted")
	s.rulesChanged(ctx)
	return nil
}

func (s *Service) ListRuleChannels(ctx context.Context, ruleID int64) ([]models.RuleChannelBinding, error) {
	if _, err := s.store.Rules.GetByID(ctx, ruleID); err != nil {
		return nil, err
	}
	return s.store.Channels.ListBindings(ctx, ruleID)
}

// SetRuleChannels replaces the channel bindings of a rule
func (s *Service) SetRuleChannels(ctx context.Context, ruleID int64, bindings []models.RuleChannelBinding) ([]models.RuleChannelBinding, error) {
	rule, err := s.store.Rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRuleReferences(ctx, rule, bindings); err != nil {
		return nil, err
	}
	err = s.store.WithTx(ctx, func(repos *database.Repositories) error {
		return repos.Channels.ReplaceBindings(ctx, ruleID, bindings)
	})
	if err != nil {
		return nil, err
	}
	return s.store.Channels.ListBindings(ctx, ruleID)
}

func (s *Service) checkRuleReferences(ctx context.Context, rule *models.AlertRule, bindings []models.RuleChannelBinding) error {
	if rule.EscalationPolicyID != nil {
		if _, err := s.store.Escalations.GetByID(ctx, *rule.EscalationPolicyID); err != nil {
			return referenceError(err, fmt.Sprintf("escalation policy %d does not exist", *rule.EscalationPolicyID))
		}
	}
	seen := make(map[int64]bool, len(bindings))
	for i := range bindings {
		b := &bindings[i]
		b.RuleID = rule.ID
		if seen[b.ChannelID] {
			return invalid(fmt.Sprintf("channel %d is bound twice", b.ChannelID))
		}
		seen[b.ChannelID] = true
		for _, sev := range b.SeverityFilter {
			if !models.Severity(sev).Valid() {
				return invalid(fmt.Sprintf("unknown severity %q in channel %d filter", sev, b.ChannelID))
			}
		}
		if _, err := s.store.Channels.GetByID(ctx, b.ChannelID); err != nil {
			return referenceError(err, fmt.Sprintf("notification channel %d does not exist", b.ChannelID))
		}
	}
	return nil
}

func (s *Service) rulesChanged(ctx context.Context) {
	if s.onRulesChanged != nil {
		s.onRulesChanged(ctx)
	}
}

// Instances

// ListActive returns open instances ordered by severity then start time
func (s *Service) ListActive(ctx context.Context) ([]*models.ActiveAlert, error) {
	return s.store.Instances.ListActive(ctx)
}

func (s *Service) GetInstance(ctx context.Context, id int64) (*models.AlertInstance, error) {
	return s.store.Instances.GetByID(ctx, id)
}

// Acknowledge marks an instance acknowledged. Repeating it, or
// acknowledging a resolved instance, succeeds without changing anything.
func (s *Service) Acknowledge(ctx context.Context, instanceID int64, by string) (*models.AlertInstance, error) {
	return s.transitionInstance(ctx, instanceID, func(repos *database.Repositories, rule *models.AlertRule, instance *models.AlertInstance, now time.Time) (Transition, error) {
		return s.machine.Acknowledge(ctx, repos, rule, instance, by, now)
	})
}

// Resolve closes an instance and halts its escalation. Resolving a
// resolved instance succeeds without changing anything.
func (s *Service) Resolve(ctx context.Context, instanceID int64, by, resolution string) (*models.AlertInstance, error) {
	if resolution == "" {
		resolution = "resolved manually"
	}
	return s.transitionInstance(ctx, instanceID, func(repos *database.Repositories, rule *models.AlertRule, instance *models.AlertInstance, now time.Time) (Transition, error) {
		return s.machine.Resolve(ctx, repos, rule, instance, by, resolution, now)
	})
}

type instanceStep func(repos *database.Repositories, rule *models.AlertRule, instance *models.AlertInstance, now time.Time) (Transition, error)

func (s *Service) transitionInstance(ctx context.Context, instanceID int64, step instanceStep) (*models.AlertInstance, error) {
	current, err := s.store.Instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(current.RuleID)
	defer unlock()

	now := s.clock.Now()
	var (
		rule       *models.AlertRule
		transition Transition
	)
	err = s.store.WithTx(ctx, func(repos *database.Repositories) error {
		instance, err := repos.Instances.GetByID(ctx, instanceID)
		if err != nil {
			return err
		}
		rule, err = repos.Rules.GetByID(ctx, instance.RuleID)
		if err != nil {
			return err
		}
		transition, err = step(repos, rule, instance, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if transition.Event != "" {
		s.collector.RecordTransition(string(transition.Event))
		if s.publisher != nil {
			s.publisher.Publish(newEvent(transition.Event, rule, transition.Instance, now))
		}
	}
	return transition.Instance, nil
}

// History

func (s *Service) ListEvaluations(ctx context.Context, ruleID int64, since time.Time, limit int) ([]*models.AlertEvaluation, error) {
	if _, err := s.store.Rules.GetByID(ctx, ruleID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, ruleID, since, limit)
}

func (s *Service) RuleStats(ctx context.Context, ruleID int64, since time.Time) (*models.EvaluationStats, error) {
	if _, err := s.store.Rules.GetByID(ctx, ruleID); err != nil {
		return nil, err
	}
	return s.history.Stats(ctx, ruleID, since)
}

// Channels

func (s *Service) ListChannels(ctx context.Context) ([]*models.NotificationChannel, error) {
	return s.store.Channels.List(ctx)
}

func (s *Service) GetChannel(ctx context.Context, id int64) (*models.NotificationChannel, error) {
	return s.store.Channels.GetByID(ctx, id)
}

func (s *Service) CreateChannel(ctx context.Context, channel *models.NotificationChannel) (*models.NotificationChannel, error) {
	notify.ApplyChannelDefaults(channel)
	if err := notify.ValidateChannel(channel); err != nil {
		return nil, invalid(err.Error())
	}
	now := s.clock.Now()
	channel.ID = 0
	channel.CreatedAt, channel.UpdatedAt = now, now
	if err := s.store.Channels.Create(ctx, channel); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"channel_id": channel.ID, "type": channel.Type}).Info("Notification channel created")
	return channel, nil
}

func (s *Service) UpdateChannel(ctx context.Context, id int64, channel *models.NotificationChannel) (*models.NotificationChannel, error) {
	notify.ApplyChannelDefaults(channel)
	if err := notify.ValidateChannel(channel); err != nil {
		return nil, invalid(err.Error())
	}
	existing, err := s.store.Channels.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	channel.ID = id
	channel.CreatedAt = existing.CreatedAt
	channel.UpdatedAt = s.clock.Now()
	if err := s.store.Channels.Update(ctx, channel); err != nil {
		return nil, err
	}
	return channel, nil
}

// Escalation policies

func (s *Service) ListPolicies(ctx context.Context) ([]*models.EscalationPolicy, error) {
	return s.store.Escalations.List(ctx)
}

func (s *Service) GetPolicy(ctx context.Context, id int64) (*models.EscalationPolicy, error) {
	return s.store.Escalations.GetByID(ctx, id)
}

func (s *Service) CreatePolicy(ctx context.Context, policy *models.EscalationPolicy) (*models.EscalationPolicy, error) {
	if err := s.checkPolicy(ctx, policy); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	policy.ID = 0
	policy.CreatedAt, policy.UpdatedAt = now, now
	err := s.store.WithTx(ctx, func(repos *database.Repositories) error {
		return repos.Escalations.Create(ctx, policy)
	})
	if err != nil {
		return nil, err
	}
	return policy, nil
}

func (s *Service) UpdatePolicy(ctx context.Context, id int64, policy *models.EscalationPolicy) (*models.EscalationPolicy, error) {
	if err := s.checkPolicy(ctx, policy); err != nil {
		return nil, err
	}
	existing, err := s.store.Escalations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	policy.ID = id
	policy.CreatedAt = existing.CreatedAt
	policy.UpdatedAt = s.clock.Now()
	err = s.store.WithTx(ctx, func(repos *database.Repositories) error {
		return repos.Escalations.Update(ctx, policy)
	})
	if err != nil {
		return nil, err
	}
	return policy, nil
}

func (s *Service) checkPolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	if err := ValidatePolicy(policy); err != nil {
		return err
	}
	for i := range policy.Steps {
		policy.Steps[i].StepOrder = i + 1
		for _, channelID := range policy.Steps[i].ChannelIDs {
			if _, err := s.store.Channels.GetByID(ctx, channelID); err != nil {
				return referenceError(err, fmt.Sprintf("notification channel %d does not exist", channelID))
			}
		}
	}
	return nil
}

// Suppression rules

func (s *Service) ListSuppressions(ctx context.Context) ([]*models.SuppressionRule, error) {
	return s.store.Suppressions.List(ctx)
}

func (s *Service) GetSuppression(ctx context.Context, id int64) (*models.SuppressionRule, error) {
	return s.store.Suppressions.GetByID(ctx, id)
}

func (s *Service) CreateSuppression(ctx context.Context, sr *models.SuppressionRule) (*models.SuppressionRule, error) {
	if err := ValidateSuppressionRule(sr); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sr.ID = 0
	sr.CreatedAt, sr.UpdatedAt = now, now
	if err := s.store.Suppressions.Create(ctx, sr); err != nil {
		return nil, err
	}
	return sr, nil
}

func (s *Service) UpdateSuppression(ctx context.Context, id int64, sr *models.SuppressionRule) (*models.SuppressionRule, error) {
	if err := ValidateSuppressionRule(sr); err != nil {
		return nil, err
	}
	existing, err := s.store.Suppressions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sr.ID = id
	sr.CreatedAt = existing.CreatedAt
	sr.UpdatedAt = s.clock.Now()
	if err := s.store.Suppressions.Update(ctx, sr); err != nil {
		return nil, err
	}
	return sr, nil
}

// Deliveries

// ListDeliveries returns deliveries with the given status, or all when
// status is empty
func (s *Service) ListDeliveries(ctx context.Context, status models.DeliveryStatus, limit int) ([]*models.NotificationDelivery, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.Deliveries.ListByStatus(ctx, status, limit)
}

func (s *Service) InstanceDeliveries(ctx context.Context, instanceID int64) ([]*models.NotificationDelivery, error) {
	if _, err := s.store.Instances.GetByID(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.store.Deliveries.ListByInstance(ctx, instanceID)
}

// referenceError turns a missing referenced entity into a bad request
func referenceError(err error, msg string) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return invalid(msg)
	}
	return err
}
