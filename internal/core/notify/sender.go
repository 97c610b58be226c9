package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries        = 3
	defaultRetryDelaySeconds = 60
	defaultTimeoutSeconds    = 10
)

// Message is one rendered notification handed to a sender
type Message struct {
	ID      string       `json:"message_id"`
	Subject string       `json:"subject"`
	Body    string       `json:"body"`
	Alert   TemplateData `json:"alert"`
}

// Result describes an accepted send. Delivered is set when the channel
// confirmed receipt.
type Result struct {
	Delivered   bool
	ExternalRef string
}

// Sender delivers a message through one channel type. Errors wrapped with
// Permanent are not retried.
type Sender interface {
	Send(ctx context.Context, channel *models.NotificationChannel, msg *Message) (Result, error)
}

// Senders maps channel types to their implementation
type Senders map[models.ChannelType]Sender

// NewSenders builds the default sender set. natsSender may be nil when no
// NATS server is configured.
func NewSenders(cfg config.NotifyConfig, natsSender *NATSSender, logger *logrus.Logger) Senders {
	senders := Senders{
		models.ChannelEmail:   NewEmailSender(cfg.SMTP),
		models.ChannelWebhook: NewWebhookSender(cfg.Webhook),
		models.ChannelSlack:   NewSlackSender(cfg.Webhook),
		models.ChannelLog:     NewLogSender(logger),
	}
	if natsSender != nil {
		senders[models.ChannelNATS] = natsSender
	} else {
		senders[models.ChannelNATS] = unavailableSender{reason: "nats is not configured"}
	}
	return senders
}

type unavailableSender struct {
	reason string
}

func (s unavailableSender) Send(context.Context, *models.NotificationChannel, *Message) (Result, error) {
	return Result{}, Permanent(fmt.Errorf("%s", s.reason))
}

// ApplyChannelDefaults fills unset retry and timeout settings
func ApplyChannelDefaults(channel *models.NotificationChannel) {
	channel.Name = strings.TrimSpace(channel.Name)
	if channel.Config == nil {
		channel.Config = models.JSONMap{}
	}
	if channel.MaxRetries == 0 {
		channel.MaxRetries = defaultMaxRetries
	}
	if channel.RetryDelaySeconds == 0 {
		channel.RetryDelaySeconds = defaultRetryDelaySeconds
	}
	if channel.TimeoutSeconds == 0 {
		channel.TimeoutSeconds = defaultTimeoutSeconds
	}
}

// ValidateChannel checks a channel definition and its type-specific config
func ValidateChannel(channel *models.NotificationChannel) error {
	if channel.Name == "" {
		return fmt.Errorf("name is required")
	}
	if channel.RateLimitPerHour < 0 {
		return fmt.Errorf("rate_limit_per_hour must not be negative")
	}
	if channel.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if channel.RetryDelaySeconds < 0 || channel.TimeoutSeconds < 0 {
		return fmt.Errorf("retry_delay_seconds and timeout_seconds must not be negative")
	}

	switch channel.Type {
	case models.ChannelEmail:
		if len(stringList(channel.Config, "to")) == 0 {
			return fmt.Errorf("email channel requires config.to")
		}
	case models.ChannelWebhook, models.ChannelSlack:
		if err := validateURL(channel.Config.String("url")); err != nil {
			return fmt.Errorf("%s channel: %w", channel.Type, err)
		}
	case models.ChannelNATS:
		if strings.TrimSpace(channel.Config.String("subject")) == "" {
			return fmt.Errorf("nats channel requires config.subject")
		}
	case models.ChannelLog:
	default:
		return fmt.Errorf("unknown channel type %q", channel.Type)
	}

	if _, err := ParseTemplate("subject", channel.SubjectTemplate); err != nil {
		return fmt.Errorf("subject_template: %w", err)
	}
	if _, err := ParseTemplate("body", channel.BodyTemplate); err != nil {
		return fmt.Errorf("body_template: %w", err)
	}
	return nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("config.url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid config.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config.url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("config.url must include a host")
	}
	return nil
}

// stringList reads a string or list of strings from channel config.
// Comma separated strings are split.
func stringList(cfg models.JSONMap, key string) []string {
	var raw []string
	switch v := cfg[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
