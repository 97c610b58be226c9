package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/clock"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultScanBatch   = 100
	defaultSendTimeout = 10 * time.Second
)

// Dispatcher renders notifications, records one delivery row per attempt
// and retries transient failures from a periodic re-scan
type Dispatcher struct {
	store       *database.Store
	senders     Senders
	collector   *metrics.PrometheusCollector
	clock       clock.Clock
	logger      *logrus.Logger
	sendTimeout time.Duration
	batchSize   int
}

// NewDispatcher creates a dispatcher. sendTimeout applies to channels
// without their own timeout.
func NewDispatcher(store *database.Store, senders Senders, collector *metrics.PrometheusCollector, clk clock.Clock, logger *logrus.Logger, sendTimeout time.Duration) *Dispatcher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		store:       store,
		senders:     senders,
		collector:   collector,
		clock:       clk,
		logger:      logger,
		sendTimeout: sendTimeout,
		batchSize:   defaultScanBatch,
	}
}

// NotifyInstance sends to every channel bound to rule whose severity filter
// accepts the rule's severity
func (d *Dispatcher) NotifyInstance(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance, reason string) error {
	bindings, err := d.store.Channels.ListBindings(ctx, rule.ID)
	if err != nil {
		return fmt.Errorf("load channel bindings: %w", err)
	}
	var channelIDs []int64
	for _, b := range bindings {
		if b.Accepts(rule.Severity) {
			channelIDs = append(channelIDs, b.ChannelID)
		}
	}
	return d.dispatch(ctx, rule, instance, channelIDs, reason)
}

// NotifyEscalation sends to the channels of an escalation step
func (d *Dispatcher) NotifyEscalation(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance, step models.EscalationStep) error {
	reason := fmt.Sprintf("escalated to level %d", instance.EscalationLevel)
	return d.dispatch(ctx, rule, instance, step.ChannelIDs, reason)
}

func (d *Dispatcher) dispatch(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance, channelIDs []int64, reason string) error {
	var errs []error
	for _, channelID := range channelIDs {
		if err := d.dispatchOne(ctx, rule, instance, channelID, reason); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"instance_id": instance.ID,
				"channel_id":  channelID,
			}).Error("Failed to queue notification")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance, channelID int64, reason string) error {
	channel, err := d.store.Channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}
	if !channel.Enabled {
		d.logger.WithField("channel_id", channelID).Debug("Skipping disabled channel")
		return nil
	}

	now := d.clock.Now()
	data := NewTemplateData(rule, instance, reason, now)
	subject, body, err := Render(channel, data)
	if err != nil {
		return fmt.Errorf("render notification: %w", err)
	}

	delivery := &models.NotificationDelivery{
		InstanceID:      instance.ID,
		ChannelID:       channel.ID,
		Attempt:         1,
		Status:          models.DeliveryPending,
		Reason:          reason,
		EscalationLevel: instance.EscalationLevel,
		Subject:         subject,
		Message:         body,
		MessageID:       uuid.NewString(),
		NextAttemptAt:   d.lease(channel, now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := d.store.Deliveries.Create(ctx, delivery); err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return d.attempt(ctx, channel, delivery, data)
}

// ProcessDue attempts pending deliveries whose next attempt time has come:
// queued rate-limited sends, retries and deliveries abandoned mid-send.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	now := d.clock.Now()
	due, err := d.store.Deliveries.ListDue(ctx, now, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load due deliveries: %w", err)
	}

	processed := 0
	for _, delivery := range due {
		if err := d.retry(ctx, delivery); err != nil {
			d.logger.WithError(err).WithField("delivery_id", delivery.ID).Error("Failed to process delivery")
			continue
		}
		processed++
	}
	return processed, nil
}

func (d *Dispatcher) retry(ctx context.Context, delivery *models.NotificationDelivery) error {
	channel, err := d.store.Channels.GetByID(ctx, delivery.ChannelID)
	if err != nil {
		return err
	}
	instance, err := d.store.Instances.GetByID(ctx, delivery.InstanceID)
	if err != nil {
		return err
	}
	rule, err := d.store.Rules.GetByID(ctx, instance.RuleID)
	if err != nil {
		return err
	}

	now := d.clock.Now()
	if !channel.Enabled {
		delivery.Status = models.DeliveryFailed
		delivery.Error = "channel disabled"
		delivery.Permanent = true
		delivery.FailedAt = &now
		delivery.NextAttemptAt = nil
		delivery.UpdatedAt = now
		return d.store.Deliveries.Update(ctx, delivery)
	}

	delivery.NextAttemptAt = d.lease(channel, now)
	delivery.UpdatedAt = now
	if err := d.store.Deliveries.Update(ctx, delivery); err != nil {
		return err
	}
	return d.attempt(ctx, channel, delivery, NewTemplateData(rule, instance, delivery.Reason, now))
}

// attempt sends a pending delivery once and records the outcome. A
// transient failure below the attempt limit queues a follow-up row.
func (d *Dispatcher) attempt(ctx context.Context, channel *models.NotificationChannel, delivery *models.NotificationDelivery, data TemplateData) error {
	log := d.logger.WithFields(logrus.Fields{
		"delivery_id": delivery.ID,
		"channel_id":  channel.ID,
		"instance_id": delivery.InstanceID,
		"attempt":     delivery.Attempt,
	})

	now := d.clock.Now()
	if channel.RateLimitPerHour > 0 {
		sent, err := d.store.Deliveries.CountAttemptsSince(ctx, channel.ID, now.Add(-time.Hour))
		if err != nil {
			return err
		}
		if sent >= channel.RateLimitPerHour {
			next := now.Add(time.Hour / time.Duration(channel.RateLimitPerHour))
			delivery.NextAttemptAt = &next
			delivery.UpdatedAt = now
			log.WithField("next_attempt_at", next).Info("Channel rate limit reached, delivery queued")
			return d.store.Deliveries.Update(ctx, delivery)
		}
	}

	sender, ok := d.senders[channel.Type]
	if !ok {
		sender = unavailableSender{reason: fmt.Sprintf("no sender for channel type %q", channel.Type)}
	}

	timeout := channel.Timeout()
	if timeout <= 0 {
		timeout = d.sendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now()
	result, sendErr := sender.Send(sendCtx, channel, &Message{
		ID:      delivery.MessageID,
		Subject: delivery.Subject,
		Body:    delivery.Message,
		Alert:   data,
	})
	cancel()

	now = d.clock.Now()
	delivery.NextAttemptAt = nil
	delivery.UpdatedAt = now

	var retry *models.NotificationDelivery
	switch {
	case sendErr == nil:
		delivery.Status = models.DeliverySent
		delivery.SentAt = &now
		delivery.Error = ""
		if result.Delivered {
			delivery.Status = models.DeliveryDelivered
			delivery.DeliveredAt = &now
		}
		log.WithField("status", delivery.Status).Debug("Notification sent")
	case IsPermanent(sendErr):
		delivery.Status = models.DeliveryBounced
		delivery.Error = sendErr.Error()
		delivery.Permanent = true
		delivery.FailedAt = &now
		log.WithError(sendErr).Error("Notification rejected by channel")
	default:
		delivery.Status = models.DeliveryFailed
		delivery.Error = sendErr.Error()
		delivery.FailedAt = &now
		if delivery.Attempt >= channel.MaxRetries {
			delivery.Permanent = true
			log.WithError(sendErr).Error("Notification failed permanently")
		} else {
			next := now.Add(channel.RetryDelay())
			retry = &models.NotificationDelivery{
				InstanceID:      delivery.InstanceID,
				ChannelID:       delivery.ChannelID,
				Attempt:         delivery.Attempt + 1,
				Status:          models.DeliveryPending,
				Reason:          delivery.Reason,
				EscalationLevel: delivery.EscalationLevel,
				Subject:         delivery.Subject,
				Message:         delivery.Message,
				MessageID:       delivery.MessageID,
				NextAttemptAt:   &next,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			log.WithError(sendErr).WithField("next_attempt_at", next).Warn("Notification failed, retry scheduled")
		}
	}
	d.collector.RecordDelivery(string(channel.Type), string(delivery.Status), time.Since(started))

	if err := d.store.Deliveries.Update(ctx, delivery); err != nil {
		return fmt.Errorf("record delivery outcome: %w", err)
	}
	if retry != nil {
		if err := d.store.Deliveries.Create(ctx, retry); err != nil {
			return fmt.Errorf("schedule delivery retry: %w", err)
		}
	}
	return nil
}

// lease keeps a delivery out of the re-scan while it is being sent
func (d *Dispatcher) lease(channel *models.NotificationChannel, now time.Time) *time.Time {
	timeout := channel.Timeout()
	if timeout <= 0 {
		timeout = d.sendTimeout
	}
	until := now.Add(2 * timeout)
	return &until
}
