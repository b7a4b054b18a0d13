// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

// Command almoner is the charity case recommendation engine.
//
// It ranks open cases for donors by blending content similarity, donor
// segments and category association rules, scores donation likelihood and
// fraud risk, and records every shown recommendation in a ledger.
//
// # Commands
//
//	almoner serve                      supervised service: HTTP API, retraining, events
//	almoner train                      fit and save one model set
//	almoner import <snapshot.json>     upsert platform records into the read model
//	almoner rank --donor 42            rank cases for a donor
//	almoner search "clean water"       text search over cases
//	almoner fraud --case 7 --case 9    fraud probability for cases
//	almoner segments                   donor cluster profiles
//	almoner ledger stats               CTR and conversion per algorithm
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority
// wins): environment variables, the config file (--config, CONFIG_PATH or
// ./config.yaml), built-in defaults.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the command context. serve stops accepting
// requests, drains in-flight ones and closes the ledger and read model.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tomtom215/almoner/internal/config"
	"github.com/tomtom215/almoner/internal/logging"
)

var version = "dev"

// globalFlags are shared by every command.
type globalFlags struct {
	ConfigPath string `flag:"config"`
	LogLevel   string `flag:"log-level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	LogFormat  string `flag:"log-format" validate:"omitempty,oneof=json console"`
}

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "almoner",
		Short: "Charity case recommendation engine",
		Long: `almoner ranks open charity cases for donors, scores donation likelihood
and fraud risk, and records every shown recommendation for outcome analytics.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.flags.ConfigPath, "config", "", "config file (default: $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().StringVar(&a.flags.LogLevel, "log-level", "", "override logging.level")
	root.PersistentFlags().StringVar(&a.flags.LogFormat, "log-format", "", "override logging.format (json, console)")

	root.AddCommand(
		serveCmd(a),
		trainCmd(a),
		importCmd(a),
		rankCmd(a),
		searchCmd(a),
		fraudCmd(a),
		segmentsCmd(a),
		ledgerCmd(a),
	)
	return root
}

func (a *app) init() error {
	if err := validateFlags(&a.flags); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if a.flags.ConfigPath != "" {
		cfg, err = config.LoadFile(a.flags.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if a.flags.LogLevel != "" {
		cfg.Logging.Level = a.flags.LogLevel
	}
	if a.flags.LogFormat != "" {
		cfg.Logging.Format = a.flags.LogFormat
	}

	logging.Init(cfg.Logging)
	a.cfg = cfg
	a.logger = logging.Logger()
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "almoner:", err)
		os.Exit(1)
	}
}
