package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/clock"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/frostdev-ops/pma-alerting/internal/metricstore"
	"github.com/sirupsen/logrus"
)

// EvaluatorConfig bounds evaluation work
type EvaluatorConfig struct {
	Timeout            time.Duration
	MaxConcurrentEvals int
}

// Evaluator runs due rules against the metric store and drives the state
// machine with the result
type Evaluator struct {
	store     *database.Store
	metrics   metricstore.Store
	filter    *SuppressionFilter
	machine   *StateMachine
	history   *HistoryLogger
	notifier  Notifier
	publisher Publisher
	collector *metrics.PrometheusCollector
	locks     *ruleLocks
	clock     clock.Clock
	config    EvaluatorConfig
	logger    *logrus.Logger
}

// CycleSummary counts what one RunDue pass did
type CycleSummary struct {
	Due       int
	Evaluated int
	Failed    int
	Opened    int
}

// RunDue evaluates every enabled rule whose frequency has elapsed.
// Rules are evaluated concurrently; a failing rule never aborts the cycle.
func (e *Evaluator) RunDue(ctx context.Context) (CycleSummary, error) {
	var summary CycleSummary
	rules, err := e.store.Rules.ListEnabled(ctx)
	if err != nil {
		return summary, fmt.Errorf("load enabled rules: %w", err)
	}

	now := e.clock.Now()
	var due []*models.AlertRule
	for _, rule := range rules {
		if rule.Due(now) {
			due = append(due, rule)
		}
	}
	summary.Due = len(due)

	semaphore := make(chan struct{}, e.config.MaxConcurrentEvals)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, rule := range due {
		semaphore <- struct{}{}
		wg.Add(1)

		go func(r *models.AlertRule) {
			defer func() {
				<-semaphore
				wg.Done()
			}()

			evaluation, err := e.EvaluateRule(ctx, r.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.WithError(err).WithField("rule_id", r.ID).Error("Rule evaluation aborted")
				summary.Failed++
				return
			}
			if evaluation == nil {
				return
			}
			summary.Evaluated++
			switch evaluation.Outcome {
			case models.OutcomeFailed:
				summary.Failed++
			case models.OutcomeOpened:
				summary.Opened++
			}
		}(rule)
	}
	wg.Wait()

	if open, err := e.store.Instances.CountOpen(ctx); err == nil {
		e.collector.SetOpenAlerts(open)
	}

	e.logger.WithFields(logrus.Fields{
		"due":       summary.Due,
		"evaluated": summary.Evaluated,
		"failed":    summary.Failed,
		"opened":    summary.Opened,
	}).Debug("Evaluation cycle complete")
	return summary, nil
}

// EvaluateRule runs one evaluation cycle for a rule under its lock and
// records exactly one evaluation row. It returns nil when the rule is
// disabled or not yet due.
func (e *Evaluator) EvaluateRule(ctx context.Context, ruleID int64) (*models.AlertEvaluation, error) {
	unlock := e.locks.Lock(ruleID)
	defer unlock()

	rule, err := e.store.Rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	if !rule.Due(now) {
		return nil, nil
	}

	started := time.Now()
	evalCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	evaluation := &models.AlertEvaluation{
		RuleID:      rule.ID,
		EvaluatedAt: now,
		Threshold:   rule.Threshold,
	}
	cursor := repositories.RuleCursor{
		BreachStartedAt: rule.BreachStartedAt,
		LastEvaluatedAt: now,
		LastTriggeredAt: rule.LastTriggeredAt,
	}
	log := e.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "rule": rule.Name})

	var transition Transition
	value, err := e.computeValue(evalCtx, rule, now)
	if err == nil {
		evaluation.Value = &value
		transition, err = e.decide(evalCtx, rule, value, evaluation, &cursor, now)
	}
	if err != nil {
		evaluation.Outcome = models.OutcomeFailed
		evaluation.Error = err.Error()
		log.WithError(err).Warn("Rule evaluation failed")
	} else {
		evaluation.Outcome = transition.Outcome
	}

	switch evaluation.Outcome {
	case models.OutcomeSuppressed, models.OutcomeRateLimited, models.OutcomeCooldown:
		evaluation.Suppressed = true
	case models.OutcomeOpened:
		evaluation.AlertTriggered = true
		cursor.LastTriggeredAt = &now
	}
	if transition.Instance != nil {
		id := transition.Instance.ID
		evaluation.InstanceID = &id
	}

	elapsed := time.Since(started)
	evaluation.DurationMS = elapsed.Milliseconds()
	if err := e.history.Record(ctx, evaluation); err != nil {
		log.WithError(err).Error("Evaluation not recorded")
	}
	if err := e.store.Rules.UpdateCursor(ctx, rule.ID, cursor); err != nil {
		log.WithError(err).Error("Failed to persist evaluation cursor")
	}
	e.collector.RecordEvaluation(string(evaluation.Outcome), elapsed)

	e.afterTransition(ctx, rule, transition, now)
	return evaluation, nil
}

// decide applies the breach/min-duration rules and runs the resulting
// transition in its own transaction
func (e *Evaluator) decide(ctx context.Context, rule *models.AlertRule, value float64, evaluation *models.AlertEvaluation, cursor *repositories.RuleCursor, now time.Time) (Transition, error) {
	breached, err := Compare(rule.Operator, value, rule.Threshold)
	if err != nil {
		return Transition{}, err
	}
	evaluation.Breached = breached

	if !breached {
		cursor.BreachStartedAt = nil
		return e.transition(ctx, func(repos *database.Repositories) (Transition, error) {
			return e.machine.HandleClear(ctx, repos, rule, now)
		})
	}

	if cursor.BreachStartedAt == nil {
		start := now
		cursor.BreachStartedAt = &start
	}
	if now.Sub(*cursor.BreachStartedAt) < rule.MinDuration() {
		return Transition{Outcome: models.OutcomePendingDuration}, nil
	}

	suppression, err := e.filter.Active(ctx, rule, now)
	if err != nil {
		e.logger.WithError(err).WithField("rule_id", rule.ID).Warn("Suppression check failed, treating breach as unsuppressed")
		suppression = nil
	}
	return e.transition(ctx, func(repos *database.Repositories) (Transition, error) {
		return e.machine.HandleBreach(ctx, repos, rule, value, suppression, now)
	})
}

func (e *Evaluator) transition(ctx context.Context, fn func(repos *database.Repositories) (Transition, error)) (Transition, error) {
	var result Transition
	err := e.store.WithTx(ctx, func(repos *database.Repositories) error {
		t, err := fn(repos)
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return Transition{}, fmt.Errorf("transition: %w", err)
	}
	return result, nil
}

func (e *Evaluator) computeValue(ctx context.Context, rule *models.AlertRule, now time.Time) (float64, error) {
	plan, err := PlanWindows(rule, now)
	if err != nil {
		return 0, err
	}
	values, err := FetchWindows(ctx, e.metrics, rule, plan)
	if err != nil {
		return 0, err
	}
	return Compute(rule.ComparisonMode, values)
}

// afterTransition publishes the committed transition and sends
// notifications for alerts that became visible
func (e *Evaluator) afterTransition(ctx context.Context, rule *models.AlertRule, t Transition, now time.Time) {
	if t.Event == "" {
		return
	}
	e.collector.RecordTransition(string(t.Event))
	if e.publisher != nil {
		e.publisher.Publish(newEvent(t.Event, rule, t.Instance, now))
	}

	if e.notifier == nil {
		return
	}
	var reason string
	switch t.Event {
	case EventOpened:
		reason = "opened"
	case EventReactivated:
		reason = "reactivated"
	default:
		return
	}
	if err := e.notifier.NotifyInstance(ctx, rule, t.Instance, reason); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"rule_id":     rule.ID,
			"instance_id": t.Instance.ID,
		}).Error("Failed to dispatch notifications")
	}
}
