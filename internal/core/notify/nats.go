package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/nats-io/nats.go"
)

// NATSSender publishes messages to config.subject. With JetStream enabled
// the publish acknowledgement confirms receipt.
type NATSSender struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewNATSSender connects to cfg.URL
func NewNATSSender(cfg config.NATSConfig) (*NATSSender, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("pma-alerting"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	sender := &NATSSender{conn: conn}
	if cfg.JetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("jetstream init: %w", err)
		}
		sender.js = js
	}
	return sender, nil
}

func (s *NATSSender) Send(ctx context.Context, channel *models.NotificationChannel, msg *Message) (Result, error) {
	subject := strings.TrimSpace(channel.Config.String("subject"))
	if subject == "" {
		return Result{}, Permanent(errors.New("nats channel has no subject"))
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("encode nats payload: %w", err))
	}

	out := nats.NewMsg(subject)
	out.Data = data
	if msg.ID != "" {
		out.Header.Set("Nats-Msg-Id", msg.ID)
	}

	if s.js != nil {
		ack, err := s.js.PublishMsg(out, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, nats.ErrNoStreamResponse) {
				return Result{}, Permanent(fmt.Errorf("no stream bound to %s: %w", subject, err))
			}
			return Result{}, fmt.Errorf("jetstream publish: %w", err)
		}
		return Result{Delivered: true, ExternalRef: fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence)}, nil
	}

	if err := s.conn.PublishMsg(out); err != nil {
		return Result{}, fmt.Errorf("nats publish: %w", err)
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return Result{}, fmt.Errorf("nats flush: %w", err)
	}
	return Result{}, nil
}

// Close drains the connection
func (s *NATSSender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// Ping reports whether the connection is currently up
func (s *NATSSender) Ping(ctx context.Context) error {
	if !s.conn.IsConnected() {
		return fmt.Errorf("nats connection is %s", s.conn.Status())
	}
	return s.conn.FlushWithContext(ctx)
}
