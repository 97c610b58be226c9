package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/clock"
	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/database/databasetest"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/metricstore"
	"github.com/frostdev-ops/pma-alerting/pkg/logger"
	"github.com/stretchr/testify/require"
)

// Monday
var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type notification struct {
	instanceID int64
	reason     string
	level      int
	channels   []int64
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) NotifyInstance(_ context.Context, _ *models.AlertRule, instance *models.AlertInstance, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{instanceID: instance.ID, reason: reason})
	return nil
}

func (n *recordingNotifier) NotifyEscalation(_ context.Context, _ *models.AlertRule, instance *models.AlertInstance, step models.EscalationStep) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{instanceID: instance.ID, reason: "escalation", level: instance.EscalationLevel, channels: step.ChannelIDs})
	return nil
}

func (n *recordingNotifier) reasons() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.reason)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	store     *database.Store
	clock     *clock.Manual
	metrics   *metricstore.MemoryStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
	engine    *Engine
}

// harnessOptions overrides the defaults of newHarness
type harnessOptions struct {
	store   *database.Store
	metrics metricstore.Store
	config  config.AlertingConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, harnessOptions{})
}

func newHarnessWith(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	h := &harness{
		store:     opts.store,
		clock:     clock.NewManual(t0),
		metrics:   metricstore.NewMemoryStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	if h.store == nil {
		h.store = databasetest.NewStore(t)
	}
	var samples metricstore.Store = h.metrics
	if opts.metrics != nil {
		samples = opts.metrics
	}
	cfg := opts.config
	if cfg.MinEvaluationInterval == "" {
		cfg.MinEvaluationInterval = "10s"
	}
	if cfg.EvaluationTimeout == "" {
		cfg.EvaluationTimeout = "5s"
	}
	if cfg.MaxConcurrentEvals == 0 {
		cfg.MaxConcurrentEvals = 4
	}
	h.engine = NewEngine(Options{
		Store:     h.store,
		Metrics:   samples,
		Notifier:  h.notifier,
		Publisher: h.publisher,
		Clock:     h.clock,
		Logger:    logger.NewDiscard(),
		Config:    cfg,
	})
	return h
}

// createRule stores "storage_used_bytes > 100" with a one minute window,
// duration and frequency unless mutate says otherwise
func (h *harness) createRule(t *testing.T, mutate func(r *models.AlertRule), bindings ...models.RuleChannelBinding) *models.AlertRule {
	t.Helper()
	rule := &models.AlertRule{
		Name:                       "disk-usage",
		MetricType:                 "storage_used_bytes",
		Scope:                      "volume:data",
		Aggregation:                models.AggregationMax,
		ComparisonMode:             models.ComparisonAbsolute,
		WindowSeconds:              60,
		Operator:                   models.OpGreater,
		Threshold:                  100,
		MinDurationSeconds:         60,
		EvaluationFrequencySeconds: 60,
		Severity:                   models.SeverityHigh,
		Enabled:                    true,
	}
	if mutate != nil {
		mutate(rule)
	}
	created, err := h.engine.Service().CreateRule(context.Background(), rule, bindings)
	require.NoError(t, err)
	return created
}

// observe records value at the current time and evaluates the rule
func (h *harness) observe(t *testing.T, rule *models.AlertRule, value float64) *models.AlertEvaluation {
	t.Helper()
	h.metrics.Add(rule.MetricType, rule.Scope, value, h.clock.Now())
	evaluation, err := h.engine.Evaluator().EvaluateRule(context.Background(), rule.ID)
	require.NoError(t, err)
	require.NotNil(t, evaluation, "rule %d was not due at %s", rule.ID, h.clock.Now())
	return evaluation
}

// tick observes value and then advances the clock by the rule's frequency
func (h *harness) tick(t *testing.T, rule *models.AlertRule, value float64) *models.AlertEvaluation {
	t.Helper()
	evaluation := h.observe(t, rule, value)
	h.clock.Advance(rule.Frequency())
	return evaluation
}

func (h *harness) instances(t *testing.T, ruleID int64) []*models.AlertInstance {
	t.Helper()
	all, err := h.store.Instances.ListByStates(context.Background(),
		models.InstanceActive, models.InstanceAcknowledged, models.InstanceSuppressed, models.InstanceResolved)
	require.NoError(t, err)
	var out []*models.AlertInstance
	for _, instance := range all {
		if instance.RuleID == ruleID {
			out = append(out, instance)
		}
	}
	return out
}

func (h *harness) openInstance(t *testing.T, ruleID int64) *models.AlertInstance {
	t.Helper()
	instance, err := h.store.Instances.FindOpenByRule(context.Background(), ruleID)
	require.NoError(t, err)
	return instance
}

func (h *harness) createChannel(t *testing.T, name string) *models.NotificationChannel {
	t.Helper()
	channel, err := h.engine.Service().CreateChannel(context.Background(), &models.NotificationChannel{
		Name:    name,
		Type:    models.ChannelLog,
		Enabled: true,
	})
	require.NoError(t, err)
	return channel
}

func outcomes(evaluations ...*models.AlertEvaluation) []models.EvaluationOutcome {
	out := make([]models.EvaluationOutcome, 0, len(evaluations))
	for _, e := range evaluations {
		out = append(out, e.Outcome)
	}
	return out
}
