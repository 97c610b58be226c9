package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/clock"
	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/database/databasetest"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/metricstore"
	"github.com/frostdev-ops/pma-alerting/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundleYAML = `
channels:
  - name: ops-log
    type: log
  - name: oncall-hook
    type: webhook
    config:
      url: https://hooks.example.com/alerts
      headers:
        X-Token: abc
    max_retries: 5
    retry_delay: 30s
    rate_limit_per_hour: 20

escalation_policies:
  - name: storage-critical
    severities: [critical]
    steps:
      - delay: 5m
        channels: [oncall-hook]
      - delay: 15m
        channels: [oncall-hook, ops-log]

rules:
  - name: quota-near-limit
    metric_type: quota_used_percent
    scope: user:42
    aggregation: max
    window: 5m
    operator: ">="
    threshold: 90
    min_duration: 10m
    evaluation_frequency: 1m
    severity: critical
    cooldown: 1h
    escalation_policy: storage-critical
    channels:
      - channel: oncall-hook
        severities: [high, critical]
      - channel: ops-log
  - name: ingest-drop
    metric_type: ingest_bytes
    aggregation: sum
    comparison_mode: period_over_period
    comparison_period: week
    window: 1h
    operator: "<"
    threshold: -50
    min_duration: 1h
    evaluation_frequency: 15m
    severity: medium
    enabled: false

suppression_rules:
  - name: nightly-backup
    rules: [quota-near-limit]
    days_of_week: [mon, tue, wed, thu, fri]
    start_time: "01:00"
    end_time: "03:00"
    timezone: Europe/Berlin
    comment: backup window
`

func newImporter(t *testing.T) (*Importer, *database.Store) {
	t.Helper()
	store := databasetest.NewStore(t)
	engine := alerting.NewEngine(alerting.Options{
		Store:   store,
		Metrics: metricstore.NewMemoryStore(),
		Clock:   clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		Logger:  logger.NewDiscard(),
	})
	return NewImporter(engine.Service(), store, logger.NewDiscard()), store
}

func TestImportBundle(t *testing.T) {
	im, store := newImporter(t)
	ctx := context.Background()

	bundle, err := Parse([]byte(bundleYAML))
	require.NoError(t, err)

	res, err := im.Import(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"channels": 2, "escalation_policies": 1, "rules": 2, "suppression_rules": 1}, res.Created)
	assert.Empty(t, res.Skipped)

	hook, err := store.Channels.GetByName(ctx, "oncall-hook")
	require.NoError(t, err)
	assert.True(t, hook.Enabled)
	assert.Equal(t, int64(30), hook.RetryDelaySeconds)
	assert.Equal(t, 5, hook.MaxRetries)
	assert.Equal(t, "https://hooks.example.com/alerts", hook.Config.String("url"))

	rule, err := store.Rules.GetByName(ctx, "quota-near-limit")
	require.NoError(t, err)
	assert.Equal(t, int64(300), rule.WindowSeconds)
	assert.Equal(t, int64(600), rule.MinDurationSeconds)
	assert.Equal(t, int64(3600), rule.CooldownSeconds)
	assert.Equal(t, models.ComparisonAbsolute, rule.ComparisonMode)
	require.NotNil(t, rule.EscalationPolicyID)

	bindings, err := store.Channels.ListBindings(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, bindings, 2)

	policy, err := store.Escalations.GetByID(ctx, *rule.EscalationPolicyID)
	require.NoError(t, err)
	require.Len(t, policy.Steps, 2)
	assert.Equal(t, int64(900), policy.Steps[1].DelaySeconds)
	assert.Len(t, policy.Steps[1].ChannelIDs, 2)

	drop, err := store.Rules.GetByName(ctx, "ingest-drop")
	require.NoError(t, err)
	assert.False(t, drop.Enabled)

	sr, err := store.Suppressions.GetByName(ctx, "nightly-backup")
	require.NoError(t, err)
	assert.Equal(t, models.IntSet{rule.ID}, sr.RuleIDs)

	// Re-importing changes nothing
	res, err = im.Import(ctx, bundle)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, map[string]int{"channels": 2, "escalation_policies": 1, "rules": 2, "suppression_rules": 1}, res.Skipped)
}

func TestImportFile(t *testing.T) {
	im, store := newImporter(t)
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bundleYAML), 0o644))

	_, err := im.ImportFile(context.Background(), path)
	require.NoError(t, err)

	rules, err := store.Rules.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = im.ImportFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name   string
		bundle string
		errMsg string
	}{
		{
			name:   "unknown channel reference",
			bundle: "rules:\n  - name: r\n    metric_type: m\n    aggregation: max\n    window: 1m\n    operator: \">\"\n    min_duration: 1m\n    evaluation_frequency: 1m\n    severity: low\n    channels:\n      - channel: nowhere\n",
			errMsg: `unknown channel "nowhere"`,
		},
		{
			name:   "bad duration",
			bundle: "rules:\n  - name: r\n    metric_type: m\n    window: soon\n",
			errMsg: `window: invalid duration "soon"`,
		},
		{
			name:   "invalid channel",
			bundle: "channels:\n  - name: hook\n    type: webhook\n",
			errMsg: `channel "hook"`,
		},
		{
			name:   "unknown policy",
			bundle: "rules:\n  - name: r\n    metric_type: m\n    aggregation: max\n    window: 1m\n    operator: \">\"\n    min_duration: 1m\n    evaluation_frequency: 1m\n    severity: low\n    escalation_policy: missing\n",
			errMsg: `unknown escalation policy "missing"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im, _ := newImporter(t)
			bundle, err := Parse([]byte(tt.bundle))
			require.NoError(t, err)

			_, err = im.Import(context.Background(), bundle)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - name: r\n    treshold: 5\n"))
	assert.Error(t, err)

	b, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, b.Rules)
}
