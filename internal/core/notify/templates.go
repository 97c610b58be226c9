package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
)

const (
	defaultSubjectTemplate = `[{{ upper .Severity }}] {{ .RuleName }} {{ .Reason }}`
	defaultBodyTemplate    = `Alert "{{ .RuleName }}" is {{ .State }} ({{ .Level }}).
Metric: {{ .MetricType }}{{ if .Scope }} scope={{ .Scope }}{{ end }}
Value: {{ printf "%.2f" .Value }} {{ .Operator }} {{ printf "%.2f" .Threshold }}
Open for {{ fmtDuration .Duration }} since {{ .StartedAt.Format "2006-01-02 15:04:05 MST" }}
{{- if gt .EscalationLevel 0 }}
Escalation level: {{ .EscalationLevel }}
{{- end }}`
)

// TemplateData is the value channel templates render against
type TemplateData struct {
	Reason          string         `json:"reason"`
	RuleID          int64          `json:"rule_id"`
	RuleName        string         `json:"rule_name"`
	Description     string         `json:"description,omitempty"`
	MetricType      string         `json:"metric_type"`
	Scope           string         `json:"scope,omitempty"`
	Severity        string         `json:"severity"`
	Operator        string         `json:"operator"`
	InstanceID      int64          `json:"instance_id"`
	Level           string         `json:"level"`
	State           string         `json:"state"`
	Value           float64        `json:"value"`
	Threshold       float64        `json:"threshold"`
	StartedAt       time.Time      `json:"started_at"`
	Duration        time.Duration  `json:"duration_ns"`
	EscalationLevel int            `json:"escalation_level"`
	Context         models.JSONMap `json:"context,omitempty"`
}

// NewTemplateData flattens rule and instance for rendering
func NewTemplateData(rule *models.AlertRule, instance *models.AlertInstance, reason string, now time.Time) TemplateData {
	return TemplateData{
		Reason:          reason,
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		Description:     rule.Description,
		MetricType:      rule.MetricType,
		Scope:           rule.Scope,
		Severity:        string(rule.Severity),
		Operator:        string(rule.Operator),
		InstanceID:      instance.ID,
		Level:           string(instance.Level),
		State:           string(instance.State),
		Value:           instance.Value,
		Threshold:       instance.Threshold,
		StartedAt:       instance.StartedAt,
		Duration:        now.Sub(instance.StartedAt),
		EscalationLevel: instance.EscalationLevel,
		Context:         instance.Context,
	}
}

// FuncMap returns the helpers available to channel templates
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration": FormatDuration,
		"json":        marshalJSON,
		"upper":       strings.ToUpper,
	}
}

// ParseTemplate compiles one channel template with the shared helpers
func ParseTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// Render produces the subject and body for channel, falling back to the
// default templates where the channel defines none
func Render(channel *models.NotificationChannel, data TemplateData) (subject, body string, err error) {
	subjectTmpl := channel.SubjectTemplate
	if strings.TrimSpace(subjectTmpl) == "" {
		subjectTmpl = defaultSubjectTemplate
	}
	bodyTmpl := channel.BodyTemplate
	if strings.TrimSpace(bodyTmpl) == "" {
		bodyTmpl = defaultBodyTemplate
	}

	if subject, err = execute(channel.Name+".subject", subjectTmpl, data); err != nil {
		return "", "", err
	}
	if body, err = execute(channel.Name+".body", bodyTmpl, data); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(subject), body, nil
}

func execute(name, text string, data TemplateData) (string, error) {
	tmpl, err := ParseTemplate(name, text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out.String(), nil
}

// FormatDuration renders a duration compactly with one decimal
func FormatDuration(value interface{}) string {
	var d time.Duration
	switch v := value.(type) {
	case time.Duration:
		d = v
	case *time.Duration:
		if v == nil {
			return "0.0s"
		}
		d = *v
	default:
		return "0.0s"
	}
	if d < 0 {
		d = -d
	}
	seconds := d.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

func marshalJSON(value interface{}) string {
	b, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(b)
}
