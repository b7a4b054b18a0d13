// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/almoner/internal/metrics"
	"github.com/tomtom215/almoner/internal/recommend"
)

type trainFlags struct {
	Keep       int  `flag:"keep" validate:"gte=0"`
	NoSave     bool `flag:"no-save"`
	NoSegments bool `flag:"no-segments"`
	JSON       bool `flag:"json"`
}

func trainCmd(a *app) *cobra.Command {
	var f trainFlags
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit and save one model set",
		Long: `Load the read model, fit every component and save the model set. Versions
continue from the newest saved set. Donor segment assignments are written back
to the read model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFlags(&f); err != nil {
				return err
			}
			return a.train(cmd.Context(), f)
		},
	}
	cmd.Flags().IntVar(&f.Keep, "keep", 0, "saved versions to keep per component (default: models.keep_versions)")
	cmd.Flags().BoolVar(&f.NoSave, "no-save", false, "fit without saving")
	cmd.Flags().BoolVar(&f.NoSegments, "no-segments", false, "do not write donor segments to the read model")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the training status as JSON")
	return cmd
}

func (a *app) train(ctx context.Context, f trainFlags) error {
	c, err := a.openComponents(ctx, openOptions{ledger: true, engine: true})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if _, err := c.loadLatest(ctx); err != nil {
		return err
	}

	start := time.Now()
	err = c.engine.Train(ctx)
	status := c.engine.Status()
	metrics.RecordTraining(status, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if !f.NoSave {
		keep := f.Keep
		if keep == 0 {
			keep = a.cfg.Models.KeepVersions
		}
		if err := c.engine.SaveModels(ctx, c.store); err != nil {
			return err
		}
		for _, name := range recommend.SnapshotNames() {
			if err := c.store.Prune(ctx, name, keep); err != nil {
				return err
			}
		}
	}

	if !f.NoSegments {
		assignments, err := c.engine.DonorClusters()
		switch {
		case err == nil:
			if err := c.db.SaveDonorClusters(ctx, assignments); err != nil {
				return err
			}
		case errors.Is(err, recommend.ErrInsufficientData), errors.Is(err, recommend.ErrModelNotFitted):
			a.logger.Info().Err(err).Msg("no donor segments written")
		default:
			return err
		}
	}

	if f.JSON {
		return printJSON(os.Stdout, status)
	}
	return printTrainingStatus(status)
}

func printTrainingStatus(s recommend.TrainingStatus) error { //nolint:gocritic // read-only snapshot
	t := newTable(os.Stdout)
	t.row("version", s.ModelVersion)
	t.row("duration", (time.Duration(s.LastDurationMS) * time.Millisecond).String())
	t.row("cases", s.Cases)
	t.row("donors", s.Donors)
	t.row("donations", s.Donations)

	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cs := s.Components[name]
		state := "fitted"
		switch {
		case !cs.Fitted:
			state = "not fitted: " + cs.Error
		case cs.Degenerate:
			state = "fitted (degenerate)"
		}
		t.row(name, state)
	}
	return t.flush()
}
