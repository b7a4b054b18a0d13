// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tomtom215/almoner/internal/api"
	"github.com/tomtom215/almoner/internal/events"
	"github.com/tomtom215/almoner/internal/logging"
	"github.com/tomtom215/almoner/internal/metrics"
	"github.com/tomtom215/almoner/internal/supervisor"
	"github.com/tomtom215/almoner/internal/supervisor/services"
)

// trainMargin is added to the engine's own training timeout to bound the
// persist and export steps that follow a fit.
const trainMargin = 5 * time.Minute

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervised service",
		Long: `Run the HTTP API, scheduled and event-triggered retraining, the donation
event bus and ledger maintenance under one supervisor tree.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	c, err := a.openComponents(ctx, openOptions{ledger: true, engine: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing stores failed")
		}
	}()

	provider := services.NewGuardedProvider(c.db, services.GuardedProviderConfig{
		Name:        "dataset-provider",
		MaxFailures: cfg.Retrain.BreakerFailures,
		Timeout:     cfg.Retrain.BreakerTimeout,
	}, logger)
	c.engine.SetDataProvider(provider)

	// Trending and availability need data before the first model set.
	if err := c.engine.RefreshData(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial dataset load failed; serving will wait for training")
	}

	retrain := services.NewRecommendService(c.engine, c.store, c.db, services.RecommendServiceConfig{
		TrainOnStartup:    cfg.Retrain.OnStartup,
		LoadOnStartup:     cfg.Models.LoadOnStartup,
		TrainInterval:     cfg.Retrain.Interval,
		TrainTimeout:      cfg.Recommend.Training.Timeout + trainMargin,
		DonationThreshold: cfg.Retrain.DonationThreshold,
		MinInterval:       cfg.Retrain.MinInterval,
		KeepVersions:      cfg.Models.KeepVersions,
	}, logger)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(logger), supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}
	tree.AddDataService(services.NewLedgerGCService(c.ledger, cfg.Ledger.GCInterval, logger))
	tree.AddEngineService(retrain)

	checks := map[string]api.ReadinessCheck{"database": c.db.Ping}
	apiCfg := api.HandlerConfig{
		Engine:       c.engine,
		Ledger:       c.ledger,
		Reporter:     c.ledger,
		Retrainer:    retrain,
		Checks:       checks,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}

	if cfg.Events.Enabled {
		handler, err := events.NewHandler(events.HandlerConfig{
			Engine:          c.engine,
			Refresher:       c.engine,
			Ledger:          c.ledger,
			Store:           c.db,
			OnCompleted:     retrain.NotifyCompleted,
			RefreshInterval: cfg.Events.RefreshInterval,
		}, logger)
		if err != nil {
			return err
		}
		eventsSvc := services.NewEventsService(func() (*events.Bus, error) {
			return events.NewBus(cfg.Events, handler, logger)
		}, handler, cfg.Events.RefreshInterval, logger)
		tree.AddEngineService(eventsSvc)

		apiCfg.Publisher = eventsSvc
		checks["events"] = func(context.Context) error {
			if !eventsSvc.Ready() {
				return services.ErrBusUnavailable
			}
			return nil
		}
	}

	if cfg.Server.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(metrics.NewEngineCollector(c.engine))
		apiCfg.Gatherer = prometheus.Gatherers{prometheus.DefaultGatherer, registry}

		handler, err := api.NewHandler(apiCfg, logger)
		if err != nil {
			return err
		}
		router := api.NewRouter(handler, api.RouterConfig{
			RateLimitRequests: cfg.Server.RateLimitRequests,
			RateLimitWindow:   cfg.Server.RateLimitWindow,
			RequestTimeout:    cfg.Server.WriteTimeout,
		})
		server := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:           router,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.Server.WriteTimeout,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout, logger))
	}

	logger.Info().
		Str("version", version).
		Bool("api", cfg.Server.Enabled).
		Bool("events", cfg.Events.Enabled).
		Msg("almoner starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logger.Warn().Int("services", len(report)).Msg("services did not stop before the shutdown timeout")
	}
	logger.Info().Msg("almoner stopped")
	return nil
}
