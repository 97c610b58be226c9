package notify

import (
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_DefaultTemplates(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rule := &models.AlertRule{ID: 3, Name: "quota-high", MetricType: "quota_used_percent", Scope: "user:42", Severity: models.SeverityCritical, Operator: models.OpGreater}
	instance := &models.AlertInstance{ID: 9, Level: models.LevelCritical, State: models.InstanceActive, Value: 97.5, Threshold: 90, StartedAt: start, EscalationLevel: 2}

	subject, body, err := Render(&models.NotificationChannel{Name: "c"}, NewTemplateData(rule, instance, "opened", start.Add(90*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, "[CRITICAL] quota-high opened", subject)
	assert.Contains(t, body, "Value: 97.50 > 90.00")
	assert.Contains(t, body, "scope=user:42")
	assert.Contains(t, body, "Open for 1.5m")
	assert.Contains(t, body, "Escalation level: 2")
}

func TestRender_ChannelTemplates(t *testing.T) {
	channel := &models.NotificationChannel{
		Name:            "custom",
		SubjectTemplate: `{{ .RuleName }}/{{ .Reason }}`,
		BodyTemplate:    `{{ json .Context }}`,
	}
	data := TemplateData{RuleName: "r", Reason: "escalated to level 1", Context: models.JSONMap{"scope": "user:1"}}

	subject, body, err := Render(channel, data)
	require.NoError(t, err)
	assert.Equal(t, "r/escalated to level 1", subject)
	assert.Equal(t, `{"scope":"user:1"}`, body)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{30 * time.Second, "30.0s"},
		{90 * time.Second, "1.5m"},
		{-2 * time.Hour, "2.0h"},
		{"nope", "0.0s"},
		{(*time.Duration)(nil), "0.0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}
