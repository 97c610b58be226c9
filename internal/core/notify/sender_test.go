package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSender_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		permanent bool
	}{
		{"accepted", http.StatusAccepted, false, false},
		{"bad request bounces", http.StatusBadRequest, true, true},
		{"gone bounces", http.StatusGone, true, true},
		{"throttled retries", http.StatusTooManyRequests, true, false},
		{"server error retries", http.StatusBadGateway, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Message
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "secret", r.Header.Get("X-Token"))
				assert.Equal(t, "pma-alerting-test", r.UserAgent())
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender := NewWebhookSender(config.WebhookConfig{UserAgent: "pma-alerting-test"})
			channel := &models.NotificationChannel{
				Name: "hook",
				Type: models.ChannelWebhook,
				Config: models.JSONMap{
					"url":     srv.URL,
					"headers": map[string]interface{}{"X-Token": "secret"},
				},
			}
			_, err := sender.Send(context.Background(), channel, &Message{ID: "m-1", Subject: "s", Body: "b"})
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "m-1", got.ID)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestSlackSender_PostsText(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	channel := &models.NotificationChannel{
		Name:   "slack",
		Type:   models.ChannelSlack,
		Config: models.JSONMap{"url": srv.URL, "channel": "#storage"},
	}
	_, err := NewSlackSender(config.WebhookConfig{}).Send(context.Background(), channel, &Message{Subject: "[HIGH] quota", Body: "details"})
	require.NoError(t, err)
	assert.Equal(t, "*[HIGH] quota*\ndetails", payload["text"])
	assert.Equal(t, "#storage", payload["channel"])
}

func TestEmailSender_WithoutRelayIsPermanent(t *testing.T) {
	channel := &models.NotificationChannel{Type: models.ChannelEmail, Config: models.JSONMap{"to": "ops@example.com"}}
	_, err := NewEmailSender(config.SMTPConfig{}).Send(context.Background(), channel, &Message{})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestBuildEmail(t *testing.T) {
	msg := &Message{ID: "abc", Subject: "[CRITICAL] disk", Body: "line one\nline two"}
	raw := string(buildEmail("alerts@example.com", []string{"a@example.com", "b@example.com"}, msg, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	assert.Contains(t, raw, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, raw, "Subject: [CRITICAL] disk\r\n")
	assert.Contains(t, raw, "Message-ID: <abc@pma-alerting>\r\n")
	assert.True(t, strings.HasSuffix(raw, "line one\r\nline two\r\n"))
}

func TestPermanent(t *testing.T) {
	base := errors.New("rejected")
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(base))

	wrapped := Permanent(base)
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.True(t, IsPermanent(errors.Join(errors.New("other"), wrapped)))
}

func TestValidateChannel(t *testing.T) {
	tests := []struct {
		name    string
		channel models.NotificationChannel
		wantErr string
	}{
		{"valid webhook", models.NotificationChannel{Name: "w", Type: models.ChannelWebhook, Config: models.JSONMap{"url": "https://example.com/hook"}}, ""},
		{"valid email list", models.NotificationChannel{Name: "e", Type: models.ChannelEmail, Config: models.JSONMap{"to": []interface{}{"ops@example.com"}}}, ""},
		{"valid log", models.NotificationChannel{Name: "l", Type: models.ChannelLog}, ""},
		{"missing name", models.NotificationChannel{Type: models.ChannelLog}, "name is required"},
		{"unknown type", models.NotificationChannel{Name: "x", Type: "pigeon"}, "unknown channel type"},
		{"webhook without url", models.NotificationChannel{Name: "w", Type: models.ChannelWebhook}, "config.url is required"},
		{"webhook bad scheme", models.NotificationChannel{Name: "w", Type: models.ChannelWebhook, Config: models.JSONMap{"url": "ftp://example.com"}}, "http or https"},
		{"email without recipients", models.NotificationChannel{Name: "e", Type: models.ChannelEmail, Config: models.JSONMap{"to": " , "}}, "config.to"},
		{"nats without subject", models.NotificationChannel{Name: "n", Type: models.ChannelNATS}, "config.subject"},
		{"broken template", models.NotificationChannel{Name: "l", Type: models.ChannelLog, BodyTemplate: "{{ .Value "}, "body_template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := tt.channel
			ApplyChannelDefaults(&ch)
			err := ValidateChannel(&ch)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
