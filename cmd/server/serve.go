package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/api"
	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/seed"
	"github.com/frostdev-ops/pma-alerting/pkg/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alerting engine and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	log.WithFields(logrus.Fields{
		"version": version.Get().Version,
		"port":    a.cfg.Server.Port,
	}).Info("Starting PMA alerting engine")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if seedFile := a.cfg.Alerting.SeedFile; seedFile != "" {
		result, err := seed.NewImporter(a.engine.Service(), a.store, log).ImportFile(ctx, seedFile)
		if err != nil {
			return fmt.Errorf("seed import failed: %w", err)
		}
		log.WithFields(logrus.Fields{
			"created": result.Created,
			"skipped": result.Skipped,
		}).Info("Seed bundle imported")
	}

	go a.hub.Run(ctx)

	if a.cfg.Alerting.Enabled {
		if err := a.engine.Start(ctx); err != nil {
			return fmt.Errorf("failed to start alerting engine: %w", err)
		}
		defer func() {
			if err := a.engine.Stop(); err != nil {
				log.WithError(err).Warn("Alerting engine stop failed")
			}
		}()
	} else {
		log.Warn("Alerting engine disabled, serving API only")
	}

	router := api.NewRouter(a.cfg, api.Dependencies{
		Service:   a.engine.Service(),
		Hub:       a.hub,
		Collector: a.collector,
		Health:    a.health,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down server...")
	}

	timeout := config.Duration(a.cfg.Server.ShutdownTimeout, 30*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
	return nil
}
