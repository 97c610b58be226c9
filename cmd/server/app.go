package main

import (
	"context"
	"fmt"
	"io"

	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/frostdev-ops/pma-alerting/internal/core/notify"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/frostdev-ops/pma-alerting/internal/metricstore"
	"github.com/frostdev-ops/pma-alerting/internal/websocket"
	"github.com/frostdev-ops/pma-alerting/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// app holds the wired components shared by the subcommands
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	logCloser  io.Closer
	db         *sqlx.DB
	store      *database.Store
	samples    *metricstore.SQLStore
	nats       *notify.NATSSender
	collector  *metrics.PrometheusCollector
	health     *metrics.HealthChecker
	hub        *websocket.Hub
	dispatcher *notify.Dispatcher
	engine     *alerting.Engine
}

// newApp loads configuration and wires storage, notification and the
// alerting engine. Nothing is started.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	a := &app{cfg: cfg, log: log, logCloser: logCloser, health: metrics.NewHealthChecker()}

	a.db, err = database.Initialize(cfg.Database)
	if err != nil {
		a.close()
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(a.db); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	a.store = database.NewStore(a.db)
	a.health.Register("database", func(ctx context.Context) error { return database.Ping(ctx, a.db) })

	a.samples, err = metricstore.Open(cfg.MetricStore, a.db)
	if err != nil {
		a.close()
		return nil, err
	}
	a.health.Register("metric_store", a.samples.Ping)

	if cfg.Monitoring.Enabled {
		a.collector = metrics.NewPrometheusCollector(cfg.Monitoring.MetricPrefix)
	}

	if cfg.Notify.NATS.URL != "" {
		a.nats, err = notify.NewNATSSender(cfg.Notify.NATS)
		if err != nil {
			// NATS channels fail their deliveries until the server is reachable
			log.WithError(err).Warn("NATS unavailable, nats channels disabled")
		} else {
			a.health.Register("nats", a.nats.Ping)
		}
	}

	senders := notify.NewSenders(cfg.Notify, a.nats, log)
	sendTimeout := config.Duration(cfg.Notify.SendTimeout, 0)
	a.dispatcher = notify.NewDispatcher(a.store, senders, a.collector, nil, log, sendTimeout)
	a.hub = websocket.NewHub(log, a.collector)

	a.engine = alerting.NewEngine(alerting.Options{
		Store:      a.store,
		Metrics:    a.samples,
		Notifier:   a.dispatcher,
		Deliveries: a.dispatcher,
		Publisher:  a.hub,
		Collector:  a.collector,
		Logger:     log,
		Config:     cfg.Alerting,
	})
	return a, nil
}

func (a *app) close() {
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to drain NATS connection")
		}
	}
	if a.samples != nil {
		a.samples.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}
