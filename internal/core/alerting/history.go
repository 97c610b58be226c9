package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/sirupsen/logrus"
)

const defaultHistoryLimit = 100

// HistoryLogger is the append-only sink for evaluation records and the read
// side used for rule tuning
type HistoryLogger struct {
	repo   repositories.EvaluationRepository
	logger *logrus.Logger
}

// NewHistoryLogger creates a history logger on repo
func NewHistoryLogger(repo repositories.EvaluationRepository, logger *logrus.Logger) *HistoryLogger {
	return &HistoryLogger{repo: repo, logger: logger}
}

// Record appends one evaluation
func (h *HistoryLogger) Record(ctx context.Context, evaluation *models.AlertEvaluation) error {
	if err := h.repo.Create(ctx, evaluation); err != nil {
		h.logger.WithError(err).WithField("rule_id", evaluation.RuleID).Error("Failed to record evaluation")
		return fmt.Errorf("record evaluation: %w", err)
	}
	return nil
}

// List returns a rule's evaluations since the given time, newest first
func (h *HistoryLogger) List(ctx context.Context, ruleID int64, since time.Time, limit int) ([]*models.AlertEvaluation, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return h.repo.ListByRule(ctx, ruleID, since, limit)
}

// Stats summarizes a rule's evaluations since the given time. The false
// positive rate is the share of breached cycles that did not open an alert.
func (h *HistoryLogger) Stats(ctx context.Context, ruleID int64, since time.Time) (*models.EvaluationStats, error) {
	stats, err := h.repo.Stats(ctx, ruleID, since)
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.BreachRate = float64(stats.Breached) / float64(stats.Total)
	}
	if stats.Breached > 0 {
		stats.FalsePositiveRate = float64(stats.Breached-stats.Triggered) / float64(stats.Breached)
	}
	return stats, nil
}

// Prune deletes evaluations older than before
func (h *HistoryLogger) Prune(ctx context.Context, before time.Time) (int64, error) {
	n, err := h.repo.DeleteBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		h.logger.WithFields(logrus.Fields{"deleted": n, "before": before}).Info("Pruned evaluation history")
	}
	return n, nil
}
