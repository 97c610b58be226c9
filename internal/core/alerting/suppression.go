package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/internal/database/repositories"
	"github.com/sirupsen/logrus"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// SuppressionFilter decides whether a breach may open or keep notifying an alert
type SuppressionFilter struct {
	rules       repositories.SuppressionRepository
	defaultZone *time.Location
	logger      *logrus.Logger
}

// NewSuppressionFilter creates a filter reading suppression rules from repo.
// defaultZone applies when neither the suppression rule nor the alert rule
// names a timezone.
func NewSuppressionFilter(repo repositories.SuppressionRepository, defaultZone *time.Location, logger *logrus.Logger) *SuppressionFilter {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	return &SuppressionFilter{rules: repo, defaultZone: defaultZone, logger: logger}
}

// Active returns the first enabled suppression rule covering rule at now,
// or nil. Misconfigured suppression rules never suppress.
func (f *SuppressionFilter) Active(ctx context.Context, rule *models.AlertRule, now time.Time) (*models.SuppressionRule, error) {
	candidates, err := f.rules.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("load suppression rules: %w", err)
	}

	for _, sr := range candidates {
		if !ScopeMatches(sr, rule) {
			continue
		}
		loc, err := f.location(sr, rule)
		if err != nil {
			f.warnMisconfigured(sr, err)
			continue
		}
		active, err := WindowActive(sr, now.In(loc))
		if err != nil {
			f.warnMisconfigured(sr, err)
			continue
		}
		if active {
			return sr, nil
		}
	}
	return nil, nil
}

// Location resolves the timezone used for rule's calendar calculations
func (f *SuppressionFilter) Location(rule *models.AlertRule) *time.Location {
	return ruleLocation(rule, f.defaultZone)
}

func ruleLocation(rule *models.AlertRule, fallback *time.Location) *time.Location {
	if rule.Timezone != "" {
		if loc, err := time.LoadLocation(rule.Timezone); err == nil {
			return loc
		}
	}
	return fallback
}

func (f *SuppressionFilter) location(sr *models.SuppressionRule, rule *models.AlertRule) (*time.Location, error) {
	if sr.Timezone != "" {
		loc, err := time.LoadLocation(sr.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", sr.Timezone, err)
		}
		return loc, nil
	}
	return f.Location(rule), nil
}

func (f *SuppressionFilter) warnMisconfigured(sr *models.SuppressionRule, err error) {
	f.logger.WithFields(logrus.Fields{
		"suppression_rule_id": sr.ID,
		"suppression_rule":    sr.Name,
	}).WithError(err).Warn("Ignoring misconfigured suppression rule")
}

// ScopeMatches reports whether sr applies to rule. Empty sets match anything.
func ScopeMatches(sr *models.SuppressionRule, rule *models.AlertRule) bool {
	if len(sr.RuleIDs) > 0 && !sr.RuleIDs.Contains(rule.ID) {
		return false
	}
	if len(sr.AlertTypes) > 0 && !sr.AlertTypes.Contains(rule.MetricType) {
		return false
	}
	if len(sr.Severities) > 0 && !sr.Severities.Contains(string(rule.Severity)) {
		return false
	}
	return true
}

type dailyWindow struct {
	days  map[time.Weekday]bool
	start int
	end   int
	clock bool
}

func (w dailyWindow) dayAllowed(wd time.Weekday) bool {
	return len(w.days) == 0 || w.days[wd]
}

func parseDailyWindow(sr *models.SuppressionRule) (dailyWindow, error) {
	w := dailyWindow{days: make(map[time.Weekday]bool, len(sr.DaysOfWeek))}
	for _, d := range sr.DaysOfWeek {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return w, fmt.Errorf("invalid day of week %q", d)
		}
		w.days[wd] = true
	}

	if sr.StartTime == "" && sr.EndTime == "" {
		return w, nil
	}
	var err error
	if w.start, err = parseClock(sr.StartTime); err != nil {
		return w, fmt.Errorf("start_time: %w", err)
	}
	if w.end, err = parseClock(sr.EndTime); err != nil {
		return w, fmt.Errorf("end_time: %w", err)
	}
	if w.start == w.end {
		return w, fmt.Errorf("empty daily window %s-%s", sr.StartTime, sr.EndTime)
	}
	w.clock = true
	return w, nil
}

// WindowActive evaluates the temporal conditions of sr at local time now.
// The daily window is [start, end) and wraps midnight when end < start;
// the day-of-week check uses the day the window opened.
func WindowActive(sr *models.SuppressionRule, now time.Time) (bool, error) {
	w, err := parseDailyWindow(sr)
	if err != nil {
		return false, err
	}
	if sr.StartsAt != nil && now.Before(*sr.StartsAt) {
		return false, nil
	}
	if sr.EndsAt != nil && !now.Before(*sr.EndsAt) {
		return false, nil
	}

	if !w.clock {
		return w.dayAllowed(now.Weekday()), nil
	}

	minute := now.Hour()*60 + now.Minute()
	if w.start < w.end {
		return minute >= w.start && minute < w.end && w.dayAllowed(now.Weekday()), nil
	}
	// Window wraps midnight
	if minute >= w.start {
		return w.dayAllowed(now.Weekday()), nil
	}
	if minute < w.end {
		return w.dayAllowed(now.AddDate(0, 0, -1).Weekday()), nil
	}
	return false, nil
}

// parseClock converts "HH:MM" to minutes after midnight
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidateSuppressionRule reports configuration errors that would make the
// rule fail open at evaluation time
func ValidateSuppressionRule(sr *models.SuppressionRule) error {
	if strings.TrimSpace(sr.Name) == "" {
		return invalid("name is required")
	}
	if sr.Timezone != "" {
		if _, err := time.LoadLocation(sr.Timezone); err != nil {
			return invalid(fmt.Sprintf("timezone %q is not a valid location", sr.Timezone))
		}
	}
	if sr.StartsAt != nil && sr.EndsAt != nil && !sr.EndsAt.After(*sr.StartsAt) {
		return invalid("ends_at must be after starts_at")
	}
	if (sr.StartTime == "") != (sr.EndTime == "") {
		return invalid("start_time and end_time must be set together")
	}
	if _, err := parseDailyWindow(sr); err != nil {
		return invalid(err.Error())
	}
	return nil
}

// startOfDay returns local midnight of the day containing now
func startOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
