package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func breach(t *testing.T, h *harness, m *StateMachine, rule *models.AlertRule, value float64, suppression *models.SuppressionRule) Transition {
	t.Helper()
	var out Transition
	err := h.store.WithTx(context.Background(), func(repos *database.Repositories) error {
		var err error
		out, err = m.HandleBreach(context.Background(), repos, rule, value, suppression, h.clock.Now())
		return err
	})
	require.NoError(t, err)
	return out
}

func TestStateMachine_SecondBreachUpdatesOpenInstance(t *testing.T) {
	h := newHarness(t)
	m := NewStateMachine(time.UTC, logger.NewDiscard())
	rule := h.createRule(t, nil)

	opened := breach(t, h, m, rule, 120, nil)
	assert.Equal(t, models.OutcomeOpened, opened.Outcome)
	assert.Equal(t, EventOpened, opened.Event)

	h.clock.Advance(time.Minute)
	updated := breach(t, h, m, rule, 180, nil)
	assert.Equal(t, models.OutcomeUpdated, updated.Outcome)
	assert.Equal(t, opened.Instance.ID, updated.Instance.ID)
	assert.Equal(t, 180.0, updated.Instance.Value)
	assert.True(t, updated.Instance.StartedAt.Equal(t0))

	assert.Len(t, h.instances(t, rule.ID), 1)
}

func TestStateMachine_SuppressedBreachWithoutInstance(t *testing.T) {
	h := newHarness(t)
	m := NewStateMachine(time.UTC, logger.NewDiscard())
	rule := h.createRule(t, nil)
	sr := &models.SuppressionRule{ID: 7, Name: "hold"}

	got := breach(t, h, m, rule, 120, sr)
	assert.Equal(t, models.OutcomeSuppressed, got.Outcome)
	assert.Empty(t, got.Event)
	assert.Nil(t, got.Instance)
	assert.Same(t, sr, got.Suppression)
	assert.Empty(t, h.instances(t, rule.ID))
}

func TestService_AcknowledgeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := h.engine.Service()
	rule := h.createRule(t, nil)
	h.tick(t, rule, 150)
	h.observe(t, rule, 150)
	instance := h.openInstance(t, rule.ID)
	require.NotNil(t, instance)

	first, err := svc.Acknowledge(ctx, instance.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceAcknowledged, first.State)

	h.clock.Advance(time.Minute)
	second, err := svc.Acknowledge(ctx, instance.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", second.AcknowledgedBy)
	require.NotNil(t, second.AcknowledgedAt)
	assert.True(t, second.AcknowledgedAt.Equal(first.AcknowledgedAt.UTC()))

	stored, err := svc.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RuleAcknowledged, stored.State)
	assert.Equal(t, []EventType{EventOpened, EventAcknowledged}, h.publisher.types())
}

func TestService_AcknowledgeResolvedIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := h.engine.Service()
	rule := h.createRule(t, nil)
	h.tick(t, rule, 150)
	h.observe(t, rule, 150)
	instance := h.openInstance(t, rule.ID)
	require.NotNil(t, instance)

	resolved, err := svc.Resolve(ctx, instance.ID, "carol", "disk replaced")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceResolved, resolved.State)
	assert.Equal(t, "disk replaced", resolved.Resolution)

	acked, err := svc.Acknowledge(ctx, instance.ID, "dave")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceResolved, acked.State)
	assert.Nil(t, acked.AcknowledgedAt)
	assert.Empty(t, acked.AcknowledgedBy)

	again, err := svc.Resolve(ctx, instance.ID, "erin", "")
	require.NoError(t, err)
	assert.Equal(t, "carol", again.ResolvedBy)

	stored, err := svc.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RuleInactive, stored.State)
	assert.Nil(t, stored.BreachStartedAt)
}

func TestService_ResolveSuppressedInstance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := h.engine.Service()
	rule := h.createRule(t, nil)
	h.tick(t, rule, 150)
	h.tick(t, rule, 150)
	_, err := svc.CreateSuppression(ctx, &models.SuppressionRule{Name: "hold", Enabled: true})
	require.NoError(t, err)
	h.observe(t, rule, 150)

	instance := h.openInstance(t, rule.ID)
	require.NotNil(t, instance)
	require.Equal(t, models.InstanceSuppressed, instance.State)

	resolved, err := svc.Resolve(ctx, instance.ID, "frank", "")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceResolved, resolved.State)
	assert.Nil(t, h.openInstance(t, rule.ID))
}

func TestService_TransitionUnknownInstance(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Service().Acknowledge(context.Background(), 404, "alice")
	assert.Error(t, err)
}
