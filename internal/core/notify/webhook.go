package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
)

// WebhookSender posts the message as JSON to config.url
type WebhookSender struct {
	client    *http.Client
	userAgent string
}

func NewWebhookSender(cfg config.WebhookConfig) *WebhookSender {
	return &WebhookSender{client: &http.Client{}, userAgent: cfg.UserAgent}
}

func (s *WebhookSender) Send(ctx context.Context, channel *models.NotificationChannel, msg *Message) (Result, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("encode webhook payload: %w", err))
	}

	method := strings.ToUpper(strings.TrimSpace(channel.Config.String("method")))
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, channel.Config.String("url"), bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Message-ID", msg.ID)
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if headers, ok := channel.Config["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if v, ok := value.(string); ok {
				req.Header.Set(key, v)
			}
		}
	}
	return doPost(s.client, req, "webhook")
}

// SlackSender posts to a Slack incoming webhook
type SlackSender struct {
	client    *http.Client
	userAgent string
}

func NewSlackSender(cfg config.WebhookConfig) *SlackSender {
	return &SlackSender{client: &http.Client{}, userAgent: cfg.UserAgent}
}

func (s *SlackSender) Send(ctx context.Context, channel *models.NotificationChannel, msg *Message) (Result, error) {
	payload := struct {
		Text     string `json:"text"`
		Channel  string `json:"channel,omitempty"`
		Username string `json:"username,omitempty"`
	}{
		Text:     fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body),
		Channel:  channel.Config.String("channel"),
		Username: channel.Config.String("username"),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("encode slack payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.Config.String("url"), bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("build slack request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	return doPost(s.client, req, "slack")
}

// doPost sends req and classifies the response: 2xx is accepted, 4xx other
// than 408 and 429 is a permanent rejection, everything else is transient
func doPost(client *http.Client, req *http.Request, prefix string) (Result, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s send: %w", prefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return Result{}, nil
	}
	err = unexpectedStatus(prefix, resp)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return Result{}, Permanent(err)
	}
	return Result{}, err
}

func unexpectedStatus(prefix string, resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, resp.StatusCode, err)
	}
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fmt.Errorf("%s status=%d", prefix, resp.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, resp.StatusCode, body)
}
