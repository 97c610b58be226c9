package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/core/notify"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_SustainedBreachOpensOneInstance(t *testing.T) {
	h := newHarness(t)
	rule := h.createRule(t, func(r *models.AlertRule) {
		r.WindowSeconds = 300
		r.MinDurationSeconds = 300
	})

	var evaluations []*models.AlertEvaluation
	for i := 0; i <= 6; i++ {
		evaluations = append(evaluations, h.tick(t, rule, 150))
	}

	assert.Equal(t, []models.EvaluationOutcome{
		models.OutcomePendingDuration,
		models.OutcomePendingDuration,
		models.OutcomePendingDuration,
		models.OutcomePendingDuration,
		models.OutcomePendingDuration,
		models.OutcomeOpened,
		models.OutcomeUpdated,
	}, outcomes(evaluations...))
	for _, e := range evaluations {
		assert.True(t, e.Breached)
		require.NotNil(t, e.Value)
		assert.Equal(t, 150.0, *e.Value)
	}
	assert.True(t, evaluations[5].AlertTriggered)
	assert.False(t, evaluations[6].AlertTriggered)

	instances := h.instances(t, rule.ID)
	require.Len(t, instances, 1)
	assert.Equal(t, models.InstanceActive, instances[0].State)
	assert.Equal(t, models.LevelCritical, instances[0].Level)
	assert.True(t, instances[0].StartedAt.Equal(t0.Add(5*time.Minute)))
	assert.Equal(t, "volume:data", instances[0].Context["scope"])

	stored, err := h.store.Rules.GetByID(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RuleActive, stored.State)
	require.NotNil(t, stored.LastTriggeredAt)
	assert.True(t, stored.LastTriggeredAt.Equal(t0.Add(5*time.Minute)))

	assert.Equal(t, []string{"opened"}, h.notifier.reasons())
	assert.Equal(t, []EventType{EventOpened, EventUpdated}, h.publisher.types())

	history, err := h.engine.Service().ListEvaluations(context.Background(), rule.ID, t0.Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, history, 7)
}

func TestEvaluator_AcknowledgeHaltsEscalationAndClearResolves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := h.engine.Service()

	channel := h.createChannel(t, "ops-log")
	policy, err := svc.CreatePolicy(ctx, &models.EscalationPolicy{
		Name:    "storage-oncall",
		Enabled: true,
		Steps: []models.EscalationStep{
			{DelaySeconds: 60, ChannelIDs: models.IntSet{channel.ID}},
			{DelaySeconds: 60, ChannelIDs: models.IntSet{channel.ID}},
			{DelaySeconds: 60, ChannelIDs: models.IntSet{channel.ID}},
		},
	})
	require.NoError(t, err)
	rule := h.createRule(t, func(r *models.AlertRule) {
		r.MinDurationSeconds = 300
		r.EscalationPolicyID = &policy.ID
	})

	for i := 0; i <= 5; i++ {
		h.tick(t, rule, 150)
	}
	instance := h.openInstance(t, rule.ID)
	require.NotNil(t, instance)
	openedAt := instance.StartedAt

	// one minute after opening the first step fires
	n, err := h.engine.Escalation().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.clock.Set(openedAt.Add(2 * time.Minute))
	acked, err := svc.Acknowledge(ctx, instance.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceAcknowledged, acked.State)
	assert.Equal(t, "alice", acked.AcknowledgedBy)

	h.clock.Advance(10 * time.Minute)
	n, err = h.engine.Escalation().Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	cleared := h.tick(t, rule, 50)
	assert.Equal(t, models.OutcomeResolved, cleared.Outcome)
	assert.False(t, cleared.Breached)

	resolved, err := svc.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceResolved, resolved.State)
	assert.Equal(t, 1, resolved.EscalationLevel)
	assert.Equal(t, systemActor, resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)

	// a fresh breach needs its own min_duration before anything opens
	again := h.tick(t, rule, 150)
	assert.Equal(t, models.OutcomePendingDuration, again.Outcome)
	assert.Len(t, h.instances(t, rule.ID), 1)

	var levels []int
	for _, s := range h.notifier.sent {
		if s.reason == "escalation" {
			levels = append(levels, s.level)
			assert.Equal(t, []int64{channel.ID}, s.channels)
		}
	}
	assert.Equal(t, []int{1}, levels)
}

func TestEvaluator_SuppressionWindowDefersOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Service().CreateSuppression(ctx, &models.SuppressionRule{
		Name:      "nightly-maintenance",
		Enabled:   true,
		StartTime: "00:00",
		EndTime:   "06:00",
	})
	require.NoError(t, err)
	rule := h.createRule(t, func(r *models.AlertRule) {
		r.MinDurationSeconds = 300
		r.EvaluationFrequencySeconds = 600
	})

	h.clock.Set(time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC))
	six := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

	first := h.tick(t, rule, 150)
	assert.Equal(t, models.OutcomePendingDuration, first.Outcome)
	for h.clock.Now().Before(six) {
		e := h.tick(t, rule, 150)
		assert.Equal(t, models.OutcomeSuppressed, e.Outcome, "at %s", e.EvaluatedAt)
		assert.True(t, e.Breached)
		assert.True(t, e.Suppressed)
		assert.Nil(t, e.InstanceID)
	}
	assert.Empty(t, h.instances(t, rule.ID))

	opened := h.observe(t, rule, 150)
	assert.Equal(t, models.OutcomeOpened, opened.Outcome)
	instance := h.openInstance(t, rule.ID)
	require.NotNil(t, instance)
	assert.True(t, instance.StartedAt.Equal(six))
	assert.Equal(t, []string{"opened"}, h.notifier.reasons())
}

func TestEvaluator_DailyLimitSuppressesSecondOpen(t *testing.T) {
	h := newHarness(t)
	rule := h.createRule(t, func(r *models.AlertRule) {
		r.MaxAlertsPerDay = 1
	})

	got := outcomes(
		h.tick(t, rule, 150),
		h.tick(t, rule, 150),
		h.tick(t, rule, 50),
		h.tick(t, rule, 150),
	)
	assert.Equal(t, []models.EvaluationOutcome{
		models.OutcomePendingDuration,
		models.OutcomeOpened,
		models.OutcomeResolved,
		models.OutcomePendingDuration,
	}, got)

	limited := h.tick(t, rule, 150)
	assert.Equal(t, models.OutcomeRateLimited, limited.Outcome)
	assert.True(t, limited.Breached)
	assert.True(t, limited.Suppressed)
	assert.False(t, limited.AlertTriggered)
	assert.Nil(t, limited.InstanceID)
	assert.Len(t, h.instances(t, rule.ID), 1)

	// the limit resets at local midnight; the breach never cleared, so the
	// first cycle of the new day opens straight away
	h.clock.Set(time.Date(2026, 3, 3, 0, 1, 0, 0, time.UTC))
	assert.Equal(t, models.OutcomeOpened, h.tick(t, rule, 150).Outcome)
	assert.Len(t, h.instances(t, rule.ID), 2)

	stats, err := h.engine.Service().RuleStats(context.Background(), rule.ID, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 5, stats.Breached)
	assert.Equal(t, 2, stats.Triggered)
	assert.Equal(t, 1, stats.Suppressed)
	assert.InDelta(t, 5.0/6.0, stats.BreachRate, 1e-9)
	assert.InDelta(t, 0.6, stats.FalsePositiveRate, 1e-9)
}

func TestEvaluator_ShortBreachNeverOpens(t *testing.T) {
	h := newHarness(t)
	rule := h.createRule(t, func(r *models.AlertRule) {
		r.MinDurationSeconds = 300
	})

	for i := 0; i < 4; i++ {
		assert.Equal(t, models.OutcomePendingDuration, h.tick(t, rule, 500).Outcome)
	}
	assert.Equal(t, models.OutcomeOK, h.tick(t, rule, 10).Outcome)
	for i := 0; i < 4; i++ {
		assert.Equal(t, models.OutcomePendingDuration, h.tick(t, rule, 500).Outcome)
	}

	assert.Empty(t, h.instances(t, rule.ID))
	assert.Empty(t, h.notifier.reasons())
}

func TestEvaluator_CooldownDefersReopen(t *testing.T) {
	h := newHarness(t)
	rule := h.createRule(t, func(r *models.AlertRule) {
		r.CooldownSeconds = 300
	})

	got := outcomes(
		h.tick(t, rule, 150), // t0
		h.tick(t, rule, 150), // +1m opened
		h.tick(t, rule, 50),  // +2m resolved
		h.tick(t, rule, 150), // +3m
		h.tick(t, rule, 150), // +4m
		h.tick(t, rule, 150),
		h.tick(t, rule, 150),
		h.tick(t, rule, 150), // +7m cooldown over
	)
	assert.Equal(t, []models.EvaluationOutcome{
		models.OutcomePendingDuration,
		models.OutcomeOpened,
		models.OutcomeResolved,
		models.OutcomePendingDuration,
		models.OutcomeCooldown,
		models.OutcomeCooldown,
		models.OutcomeCooldown,
		models.OutcomeOpened,
	}, got)
	assert.Len(t, h.instances(t, rule.ID), 2)
}

func TestEvaluator_SuppressionPausesAndReactivatesOpenInstance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := h.engine.Service()
	rule := h.createRule(t, nil)

	h.tick(t, rule, 150)
	require.Equal(t, models.OutcomeOpened, h.tick(t, rule, 150).Outcome)

	sr, err := svc.CreateSuppression(ctx, &models.SuppressionRule{
		Name:    "freeze",
		Enabled: true,
		RuleIDs: models.IntSet{rule.ID},
	})
	require.NoError(t, err)

	e := h.tick(t, rule, 150)
	assert.Equal(t, models.OutcomeSuppressed, e.Outcome)
	instance := h.openInstance(t, rule.ID)
	assert.Equal(t, models.InstanceSuppressed, instance.State)
	stored, err := svc.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RuleSuppressed, stored.State)

	// still suppressed: nothing observable happens
	assert.Equal(t, models.OutcomeSuppressed, h.tick(t, rule, 150).Outcome)

	sr.Enabled = false
	_, err = svc.UpdateSuppression(ctx, sr.ID, sr)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeReactivated, h.tick(t, rule, 150).Outcome)
	assert.Equal(t, models.InstanceActive, h.openInstance(t, rule.ID).State)
	assert.Len(t, h.instances(t, rule.ID), 1)

	assert.Equal(t, []string{"opened", "reactivated"}, h.notifier.reasons())
	assert.Equal(t, []EventType{EventOpened, EventSuppressed, EventReactivated}, h.publisher.types())
}

func TestEvaluator_FailedReadIsRecordedNotBreached(t *testing.T) {
	h := newHarness(t)
	rule := h.createRule(t, nil)

	h.tick(t, rule, 150)
	h.metrics.SetError(errors.New("metric store unavailable"))
	failed := h.tick(t, rule, 150)

	assert.Equal(t, models.OutcomeFailed, failed.Outcome)
	assert.False(t, failed.Breached)
	assert.Nil(t, failed.Value)
	assert.Contains(t, failed.Error, "metric store unavailable")
	assert.Empty(t, h.instances(t, rule.ID))

	// breach tracking survives the failed cycle
	h.metrics.SetError(nil)
	assert.Equal(t, models.OutcomeOpened, h.tick(t, rule, 150).Outcome)
}

func TestEvaluator_EmptyWindowFails(t *testing.T) {
	h := newHarness(t)
	rule := h.createRule(t, nil)

	evaluation, err := h.engine.Evaluator().EvaluateRule(context.Background(), rule.ID)
	require.NoError(t, err)
	require.NotNil(t, evaluation)
	assert.Equal(t, models.OutcomeFailed, evaluation.Outcome)
	assert.Contains(t, evaluation.Error, "no samples")
}

func TestEvaluator_SkipsRulesNotDue(t *testing.T) {
	h := newHarness(t)
	rule := h.createRule(t, nil)

	h.observe(t, rule, 150)
	h.clock.Advance(30 * time.Second)
	evaluation, err := h.engine.Evaluator().EvaluateRule(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Nil(t, evaluation)

	_, err = h.engine.Service().SetRuleEnabled(context.Background(), rule.ID, false)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	summary, err := h.engine.Evaluator().RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Due)
}

func TestRunDue_ConcurrentCyclesEvaluateEachRuleOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rules := []*models.AlertRule{
		h.createRule(t, func(r *models.AlertRule) { r.Name = "a"; r.Scope = "volume:a" }),
		h.createRule(t, func(r *models.AlertRule) { r.Name = "b"; r.Scope = "volume:b" }),
		h.createRule(t, func(r *models.AlertRule) { r.Name = "c"; r.Scope = "volume:c" }),
	}

	for step := 0; step < 3; step++ {
		for _, r := range rules {
			h.metrics.Add(r.MetricType, r.Scope, 150, h.clock.Now())
		}
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.engine.Evaluator().RunDue(ctx)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		h.clock.Advance(time.Minute)
	}

	for _, r := range rules {
		history, err := h.store.Evaluations.ListByRule(ctx, r.ID, t0.Add(-time.Hour), 100)
		require.NoError(t, err)
		assert.Len(t, history, 3, "rule %s", r.Name)
		for i := 1; i < len(history); i++ {
			assert.True(t, history[i-1].EvaluatedAt.After(history[i].EvaluatedAt))
		}
		assert.Len(t, h.instances(t, r.ID), 1, "rule %s", r.Name)
	}

	open, err := h.store.Instances.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, open)
}

type acceptingSender struct {
	mu    sync.Mutex
	calls int
}

func (s *acceptingSender) Send(context.Context, *models.NotificationChannel, *notify.Message) (notify.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return notify.Result{}, nil
}

func TestEvaluator_DeliveriesFollowSeverityAndSuppression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender := &acceptingSender{}
	dispatcher := notify.NewDispatcher(h.store, notify.Senders{models.ChannelLog: sender}, nil, h.clock, logger.NewDiscard(), time.Second)
	h.engine.evaluator.notifier = dispatcher
	h.engine.escalation.notifier = dispatcher

	all := h.createChannel(t, "all")
	urgent := h.createChannel(t, "urgent")
	quiet := h.createChannel(t, "quiet")
	bindings := []models.RuleChannelBinding{
		{ChannelID: all.ID},
		{ChannelID: urgent.ID, SeverityFilter: models.StringSet{"high", "critical"}},
		{ChannelID: quiet.ID, SeverityFilter: models.StringSet{"low"}},
	}
	loud := h.createRule(t, func(r *models.AlertRule) { r.Name = "loud"; r.Scope = "volume:loud" }, bindings...)
	muted := h.createRule(t, func(r *models.AlertRule) { r.Name = "muted"; r.Scope = "volume:muted" }, bindings...)

	_, err := h.engine.Service().CreateSuppression(ctx, &models.SuppressionRule{
		Name:    "mute",
		Enabled: true,
		RuleIDs: models.IntSet{muted.ID},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.observe(t, loud, 150)
		h.observe(t, muted, 150)
		h.clock.Advance(time.Minute)
	}

	assert.Empty(t, h.instances(t, muted.ID))
	instance := h.openInstance(t, loud.ID)
	require.NotNil(t, instance)

	deliveries, err := h.engine.Service().ListDeliveries(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	channels := []int64{deliveries[0].ChannelID, deliveries[1].ChannelID}
	assert.ElementsMatch(t, []int64{all.ID, urgent.ID}, channels)
	for _, d := range deliveries {
		assert.Equal(t, instance.ID, d.InstanceID)
		assert.Equal(t, models.DeliverySent, d.Status)
		assert.Equal(t, "opened", d.Reason)
	}
	assert.Equal(t, 2, sender.calls)
}
