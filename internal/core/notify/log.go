package notify

import (
	"context"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/sirupsen/logrus"
)

// LogSender writes notifications to the service log
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, channel *models.NotificationChannel, msg *Message) (Result, error) {
	level, err := logrus.ParseLevel(channel.Config.String("level"))
	if err != nil {
		level = logrus.WarnLevel
	}
	s.logger.WithFields(logrus.Fields{
		"channel":     channel.Name,
		"message_id":  msg.ID,
		"rule_id":     msg.Alert.RuleID,
		"instance_id": msg.Alert.InstanceID,
		"severity":    msg.Alert.Severity,
		"body":        msg.Body,
	}).Log(level, msg.Subject)
	return Result{Delivered: true}, nil
}
