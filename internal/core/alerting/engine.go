package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/clock"
	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/metricstore"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultEvaluationInterval = time.Minute
	defaultEscalationInterval = 30 * time.Second
	defaultDeliveryInterval   = 15 * time.Second
	defaultEvaluationTimeout  = 10 * time.Second
	defaultConcurrentEvals    = 10
)

// Options wires the engine's collaborators. Notifier, Deliveries, Publisher
// and Collector are optional.
type Options struct {
	Store      *database.Store
	Metrics    metricstore.Store
	Notifier   Notifier
	Deliveries DeliveryProcessor
	Publisher  Publisher
	Collector  *metrics.PrometheusCollector
	Clock      clock.Clock
	Logger     *logrus.Logger
	Config     config.AlertingConfig
}

// Engine schedules evaluation, escalation, delivery re-scans and history
// pruning on independent cron entries
type Engine struct {
	evaluator  *Evaluator
	escalation *EscalationScheduler
	history    *HistoryLogger
	service    *Service
	deliveries DeliveryProcessor
	store      *database.Store
	clock      clock.Clock
	cfg        config.AlertingConfig
	logger     *logrus.Logger

	cron         *cron.Cron
	mu           sync.Mutex
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	evalEntry    cron.EntryID
	evalInterval time.Duration
}

// NewEngine builds the alerting components around one set of per-rule locks
func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	cfg := opts.Config
	zone := cfg.Location()
	locks := newRuleLocks()
	machine := NewStateMachine(zone, opts.Logger)
	history := NewHistoryLogger(opts.Store.Evaluations, opts.Logger)

	concurrency := cfg.MaxConcurrentEvals
	if concurrency <= 0 {
		concurrency = defaultConcurrentEvals
	}

	e := &Engine{
		history:    history,
		deliveries: opts.Deliveries,
		store:      opts.Store,
		clock:      opts.Clock,
		cfg:        cfg,
		logger:     opts.Logger,
		cron: cron.New(
			cron.WithLocation(zone),
			cron.WithChain(
				cron.SkipIfStillRunning(cron.PrintfLogger(opts.Logger)),
				cron.Recover(cron.PrintfLogger(opts.Logger)),
			),
		),
	}
	e.evaluator = &Evaluator{
		store:     opts.Store,
		metrics:   opts.Metrics,
		filter:    NewSuppressionFilter(opts.Store.Suppressions, zone, opts.Logger),
		machine:   machine,
		history:   history,
		notifier:  opts.Notifier,
		publisher: opts.Publisher,
		collector: opts.Collector,
		locks:     locks,
		clock:     opts.Clock,
		config: EvaluatorConfig{
			Timeout:            config.Duration(cfg.EvaluationTimeout, defaultEvaluationTimeout),
			MaxConcurrentEvals: concurrency,
		},
		logger: opts.Logger,
	}
	e.escalation = &EscalationScheduler{
		store:     opts.Store,
		notifier:  opts.Notifier,
		publisher: opts.Publisher,
		collector: opts.Collector,
		locks:     locks,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	e.service = &Service{
		store:     opts.Store,
		machine:   machine,
		history:   history,
		publisher: opts.Publisher,
		collector: opts.Collector,
		locks:     locks,
		clock:     opts.Clock,
		logger:    opts.Logger,
		onRulesChanged: func(ctx context.Context) {
			if err := e.Reschedule(ctx); err != nil {
				opts.Logger.WithError(err).Warn("Failed to reschedule rule evaluation")
			}
		},
	}
	return e
}

func (e *Engine) Evaluator() *Evaluator { return e.evaluator }

func (e *Engine) Escalation() *EscalationScheduler { return e.escalation }

func (e *Engine) History() *HistoryLogger { return e.history }

func (e *Engine) Service() *Service { return e.service }

// Start registers the periodic jobs and starts the scheduler
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("alerting engine is already running")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	interval, err := e.EvaluationInterval(ctx)
	if err != nil {
		e.cancel()
		return err
	}
	if err := e.scheduleEvaluation(interval); err != nil {
		e.cancel()
		return err
	}

	escalationEvery := config.Duration(e.cfg.EscalationInterval, defaultEscalationInterval)
	if _, err := e.cron.AddFunc(every(escalationEvery), e.runEscalation); err != nil {
		e.cancel()
		return fmt.Errorf("failed to schedule escalation: %w", err)
	}

	if e.deliveries != nil {
		deliveryEvery := config.Duration(e.cfg.DeliveryScanInterval, defaultDeliveryInterval)
		if _, err := e.cron.AddFunc(every(deliveryEvery), e.runDeliveries); err != nil {
			e.cancel()
			return fmt.Errorf("failed to schedule delivery scan: %w", err)
		}
	}

	if retention := config.Duration(e.cfg.HistoryRetention, 0); retention > 0 {
		if _, err := e.cron.AddFunc("@daily", func() { e.runPrune(retention) }); err != nil {
			e.cancel()
			return fmt.Errorf("failed to schedule history pruning: %w", err)
		}
	}

	e.cron.Start()
	e.running = true
	e.logger.WithField("evaluation_interval", interval).Info("Alerting engine started")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return fmt.Errorf("alerting engine is not running")
	}

	ctx := e.cron.Stop()
	select {
	case <-ctx.Done():
		e.logger.Info("All alerting jobs completed")
	case <-time.After(30 * time.Second):
		e.logger.Warn("Timeout waiting for alerting jobs to complete")
	}
	e.cancel()

	e.running = false
	e.logger.Info("Alerting engine stopped")
	return nil
}

// EvaluationInterval is the smallest evaluation frequency among enabled
// rules, never below alerting.min_evaluation_interval
func (e *Engine) EvaluationInterval(ctx context.Context) (time.Duration, error) {
	floor := config.Duration(e.cfg.MinEvaluationInterval, time.Second)
	rules, err := e.store.Rules.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("load enabled rules: %w", err)
	}
	if len(rules) == 0 {
		if floor > defaultEvaluationInterval {
			return floor, nil
		}
		return defaultEvaluationInterval, nil
	}

	interval := rules[0].Frequency()
	for _, rule := range rules[1:] {
		if f := rule.Frequency(); f < interval {
			interval = f
		}
	}
	if interval < floor {
		interval = floor
	}
	return interval, nil
}

// Reschedule recomputes the evaluation cadence after rules change
func (e *Engine) Reschedule(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	interval, err := e.EvaluationInterval(ctx)
	if err != nil {
		return err
	}
	if interval == e.evalInterval {
		return nil
	}
	e.cron.Remove(e.evalEntry)
	if err := e.scheduleEvaluation(interval); err != nil {
		return err
	}
	e.logger.WithField("evaluation_interval", interval).Info("Rule evaluation rescheduled")
	return nil
}

func (e *Engine) scheduleEvaluation(interval time.Duration) error {
	id, err := e.cron.AddFunc(every(interval), e.runEvaluation)
	if err != nil {
		return fmt.Errorf("failed to schedule rule evaluation: %w", err)
	}
	e.evalEntry = id
	e.evalInterval = interval
	return nil
}

func (e *Engine) runEvaluation() {
	if _, err := e.evaluator.RunDue(e.ctx); err != nil {
		e.logger.WithError(err).Error("Evaluation cycle failed")
	}
}

func (e *Engine) runEscalation() {
	n, err := e.escalation.Run(e.ctx)
	if err != nil {
		e.logger.WithError(err).Error("Escalation scan failed")
		return
	}
	if n > 0 {
		e.logger.WithField("escalated", n).Debug("Escalation scan complete")
	}
}

func (e *Engine) runDeliveries() {
	n, err := e.deliveries.ProcessDue(e.ctx)
	if err != nil {
		e.logger.WithError(err).Error("Delivery scan failed")
		return
	}
	if n > 0 {
		e.logger.WithField("processed", n).Debug("Delivery scan complete")
	}
}

func (e *Engine) runPrune(retention time.Duration) {
	if _, err := e.history.Prune(e.ctx, e.clock.Now().Add(-retention)); err != nil {
		e.logger.WithError(err).Error("History pruning failed")
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
