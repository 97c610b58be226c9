package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	apperrors "github.com/frostdev-ops/pma-alerting/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Result counts what an import did per entity kind
type Result struct {
	Created map[string]int `json:"created"`
	Skipped map[string]int `json:"skipped"`
}

func newResult() *Result {
	return &Result{Created: map[string]int{}, Skipped: map[string]int{}}
}

// Importer creates bundle entities through the alerting service so they are
// validated like API input. Entities whose name already exists are left
// untouched, which makes re-importing a bundle a no-op.
type Importer struct {
	service *alerting.Service
	store   *database.Store
	logger  *logrus.Logger
}

func NewImporter(service *alerting.Service, store *database.Store, logger *logrus.Logger) *Importer {
	return &Importer{service: service, store: store, logger: logger}
}

// ImportFile loads and imports a bundle file
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	bundle, err := Load(path)
	if err != nil {
		return nil, err
	}
	return im.Import(ctx, bundle)
}

// Import creates channels, then policies, rules and suppression rules so
// that every name reference resolves. It stops at the first invalid entity.
func (im *Importer) Import(ctx context.Context, b *Bundle) (*Result, error) {
	res := newResult()

	for _, spec := range b.Channels {
		if err := im.importChannel(ctx, spec, res); err != nil {
			return res, fmt.Errorf("channel %q: %w", spec.Name, err)
		}
	}
	for _, spec := range b.Policies {
		if err := im.importPolicy(ctx, spec, res); err != nil {
			return res, fmt.Errorf("escalation policy %q: %w", spec.Name, err)
		}
	}
	for _, spec := range b.Rules {
		if err := im.importRule(ctx, spec, res); err != nil {
			return res, fmt.Errorf("rule %q: %w", spec.Name, err)
		}
	}
	for _, spec := range b.Suppressions {
		if err := im.importSuppression(ctx, spec, res); err != nil {
			return res, fmt.Errorf("suppression rule %q: %w", spec.Name, err)
		}
	}

	im.logger.WithFields(logrus.Fields{
		"created": res.Created,
		"skipped": res.Skipped,
	}).Info("Alerting bundle imported")
	return res, nil
}

// exists reports whether lookup found an entity. Not-found is the only
// error it swallows.
func exists(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (im *Importer) importChannel(ctx context.Context, spec ChannelSpec, res *Result) error {
	_, err := im.store.Channels.GetByName(ctx, spec.Name)
	if found, err := exists(err); err != nil || found {
		if found {
			res.Skipped["channels"]++
		}
		return err
	}
	channel, err := spec.model()
	if err != nil {
		return err
	}
	if _, err := im.service.CreateChannel(ctx, channel); err != nil {
		return err
	}
	res.Created["channels"]++
	return nil
}

func (im *Importer) channelIDs(ctx context.Context, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		ch, err := im.store.Channels.GetByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("unknown channel %q: %w", name, err)
		}
		ids = append(ids, ch.ID)
	}
	return ids, nil
}

func (im *Importer) importPolicy(ctx context.Context, spec PolicySpec, res *Result) error {
	_, err := im.store.Escalations.GetByName(ctx, spec.Name)
	if found, err := exists(err); err != nil || found {
		if found {
			res.Skipped["escalation_policies"]++
		}
		return err
	}

	policy := &models.EscalationPolicy{
		Name:        spec.Name,
		Description: spec.Description,
		Enabled:     enabled(spec.Enabled),
		Severities:  models.StringSet(spec.Severities),
		AlertTypes:  models.StringSet(spec.AlertTypes),
	}
	for i, step := range spec.Steps {
		delay, err := seconds(fmt.Sprintf("steps[%d].delay", i), step.Delay)
		if err != nil {
			return err
		}
		ids, err := im.channelIDs(ctx, step.Channels)
		if err != nil {
			return err
		}
		policy.Steps = append(policy.Steps, models.EscalationStep{
			StepOrder:    i + 1,
			DelaySeconds: delay,
			ChannelIDs:   models.IntSet(ids),
		})
	}

	if _, err := im.service.CreatePolicy(ctx, policy); err != nil {
		return err
	}
	res.Created["escalation_policies"]++
	return nil
}

func (im *Importer) importRule(ctx context.Context, spec RuleSpec, res *Result) error {
	_, err := im.store.Rules.GetByName(ctx, spec.Name)
	if found, err := exists(err); err != nil || found {
		if found {
			res.Skipped["rules"]++
		}
		return err
	}

	rule, err := spec.model()
	if err != nil {
		return err
	}
	if spec.EscalationPolicy != "" {
		policy, err := im.store.Escalations.GetByName(ctx, spec.EscalationPolicy)
		if err != nil {
			return fmt.Errorf("unknown escalation policy %q: %w", spec.EscalationPolicy, err)
		}
		rule.EscalationPolicyID = &policy.ID
	}

	var bindings []models.RuleChannelBinding
	for _, b := range spec.Channels {
		ids, err := im.channelIDs(ctx, []string{b.Channel})
		if err != nil {
			return err
		}
		bindings = append(bindings, models.RuleChannelBinding{
			ChannelID:      ids[0],
			SeverityFilter: models.StringSet(b.Severities),
		})
	}

	if _, err := im.service.CreateRule(ctx, rule, bindings); err != nil {
		return err
	}
	res.Created["rules"]++
	return nil
}

func (im *Importer) importSuppression(ctx context.Context, spec SuppressionSpec, res *Result) error {
	_, err := im.store.Suppressions.GetByName(ctx, spec.Name)
	if found, err := exists(err); err != nil || found {
		if found {
			res.Skipped["suppression_rules"]++
		}
		return err
	}

	sr := &models.SuppressionRule{
		Name:       spec.Name,
		Enabled:    enabled(spec.Enabled),
		AlertTypes: models.StringSet(spec.AlertTypes),
		Severities: models.StringSet(spec.Severities),
		DaysOfWeek: models.StringSet(spec.DaysOfWeek),
		StartTime:  spec.StartTime,
		EndTime:    spec.EndTime,
		Timezone:   spec.Timezone,
		StartsAt:   spec.StartsAt,
		EndsAt:     spec.EndsAt,
		Comment:    spec.Comment,
	}
	for _, name := range spec.Rules {
		rule, err := im.store.Rules.GetByName(ctx, name)
		if err != nil {
			return fmt.Errorf("unknown rule %q: %w", name, err)
		}
		sr.RuleIDs = append(sr.RuleIDs, rule.ID)
	}

	if _, err := im.service.CreateSuppression(ctx, sr); err != nil {
		return err
	}
	res.Created["suppression_rules"]++
	return nil
}
