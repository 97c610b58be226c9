package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
)

// EmailSender delivers messages through the configured SMTP relay
type EmailSender struct {
	cfg config.SMTPConfig
}

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) Send(ctx context.Context, channel *models.NotificationChannel, msg *Message) (Result, error) {
	if s.cfg.Host == "" {
		return Result{}, Permanent(errors.New("smtp host is not configured"))
	}
	to := stringList(channel.Config, "to")
	if len(to) == 0 {
		return Result{}, Permanent(errors.New("email channel has no recipients"))
	}
	from := channel.Config.String("from")
	if from == "" {
		from = s.cfg.From
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return Result{}, fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return Result{}, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return Result{}, classifySMTP("smtp auth", err)
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return Result{}, classifySMTP("smtp mail from", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return Result{}, classifySMTP("smtp rcpt "+rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return Result{}, classifySMTP("smtp data", err)
	}
	if _, err := w.Write(buildEmail(from, to, msg, time.Now())); err != nil {
		return Result{}, fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return Result{}, classifySMTP("smtp data", err)
	}
	client.Quit()
	return Result{}, nil
}

// classifySMTP treats 5xx replies as permanent
func classifySMTP(op string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return Permanent(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func buildEmail(from string, to []string, msg *Message, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@pma-alerting>\r\n", msg.ID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
