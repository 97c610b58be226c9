package alerting

import (
	"context"
	"fmt"

	"github.com/frostdev-ops/pma-alerting/internal/clock"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/sirupsen/logrus"
)

// EscalationScheduler advances unacknowledged alerts through their
// escalation policy. Progress lives in the instance row so a restart
// resumes where it left off.
type EscalationScheduler struct {
	store     *database.Store
	notifier  Notifier
	publisher Publisher
	collector *metrics.PrometheusCollector
	locks     *ruleLocks
	clock     clock.Clock
	logger    *logrus.Logger
}

// Run scans open instances once and fires every step whose delay elapsed.
// It returns the number of instances escalated.
func (s *EscalationScheduler) Run(ctx context.Context) (int, error) {
	instances, err := s.store.Instances.ListByStates(ctx, models.InstanceActive, models.InstanceSuppressed)
	if err != nil {
		return 0, fmt.Errorf("load open instances: %w", err)
	}
	if len(instances) == 0 {
		return 0, nil
	}
	policies, err := s.store.Escalations.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load escalation policies: %w", err)
	}

	escalated := 0
	for _, instance := range instances {
		// Suppressed instances stay quiet until they reactivate
		if instance.State != models.InstanceActive {
			continue
		}
		ok, err := s.escalate(ctx, instance.RuleID, instance.ID, policies)
		if err != nil {
			s.logger.WithError(err).WithField("instance_id", instance.ID).Error("Escalation failed")
			continue
		}
		if ok {
			escalated++
		}
	}
	return escalated, nil
}

func (s *EscalationScheduler) escalate(ctx context.Context, ruleID, instanceID int64, policies []*models.EscalationPolicy) (bool, error) {
	unlock := s.locks.Lock(ruleID)
	defer unlock()

	now := s.clock.Now()
	var (
		rule     *models.AlertRule
		instance *models.AlertInstance
		step     models.EscalationStep
		fired    bool
	)
	err := s.store.WithTx(ctx, func(repos *database.Repositories) error {
		var err error
		// Re-read under the lock; the instance may have been acknowledged
		instance, err = repos.Instances.GetByID(ctx, instanceID)
		if err != nil {
			return err
		}
		if instance.State != models.InstanceActive {
			return nil
		}
		rule, err = repos.Rules.GetByID(ctx, ruleID)
		if err != nil {
			return err
		}
		// A disabled rule is no longer evaluated, so its alert is left as is
		if !rule.Enabled {
			return nil
		}

		policy := SelectPolicy(rule, policies)
		if policy == nil || instance.EscalationLevel >= len(policy.Steps) {
			return nil
		}
		next := policy.Steps[instance.EscalationLevel]
		since := instance.StartedAt
		if instance.LastEscalatedAt != nil {
			since = *instance.LastEscalatedAt
		}
		if now.Sub(since) < next.Delay() {
			return nil
		}

		instance.EscalationLevel++
		instance.LastEscalatedAt = &now
		instance.UpdatedAt = now
		if err := repos.Instances.Update(ctx, instance); err != nil {
			return err
		}
		step, fired = next, true
		return nil
	})
	if err != nil || !fired {
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"rule_id":     rule.ID,
		"instance_id": instance.ID,
		"level":       instance.EscalationLevel,
	}).Info("Alert escalated")
	s.collector.RecordEscalation(instance.EscalationLevel)
	s.collector.RecordTransition(string(EventEscalated))
	if s.publisher != nil {
		s.publisher.Publish(newEvent(EventEscalated, rule, instance, now))
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyEscalation(ctx, rule, instance, step); err != nil {
			s.logger.WithError(err).WithField("instance_id", instance.ID).Error("Failed to dispatch escalation notifications")
		}
	}
	return true, nil
}

// SelectPolicy returns the escalation policy applying to rule. A policy set
// on the rule wins, and a disabled one disables escalation for the rule;
// otherwise the first enabled policy matching severity and metric type applies.
func SelectPolicy(rule *models.AlertRule, policies []*models.EscalationPolicy) *models.EscalationPolicy {
	if rule.EscalationPolicyID != nil {
		for _, p := range policies {
			if p.ID == *rule.EscalationPolicyID {
				if !p.Enabled {
					return nil
				}
				return p
			}
		}
		return nil
	}
	for _, p := range policies {
		if p.Matches(rule.Severity, rule.MetricType) {
			return p
		}
	}
	return nil
}
