// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/almoner/internal/database"
)

type importFlags struct {
	Path string `flag:"file" validate:"required"`
}

func importCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot.json>",
		Short: "Upsert platform records into the read model",
		Long: `Read a JSON document {"cases": [...], "donors": [...], "donations": [...]}
and upsert it into the read model in one transaction. "-" reads stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := importFlags{Path: args[0]}
			if err := validateFlags(&f); err != nil {
				return err
			}
			return a.importSnapshot(cmd.Context(), f, cmd.InOrStdin())
		},
	}
}

func (a *app) importSnapshot(ctx context.Context, f importFlags, stdin io.Reader) error {
	snap, err := readSnapshot(f.Path, stdin)
	if err != nil {
		return err
	}
	for i := range snap.Cases {
		if err := snap.Cases[i].Validate(); err != nil {
			return err
		}
	}

	c, err := a.openComponents(ctx, openOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.db.Import(ctx, snap); err != nil {
		return err
	}
	a.logger.Info().
		Int("cases", len(snap.Cases)).
		Int("donors", len(snap.Donors)).
		Int("donations", len(snap.Donations)).
		Msg("snapshot imported")
	return nil
}

func readSnapshot(path string, stdin io.Reader) (*database.Snapshot, error) {
	r := stdin
	if path != "-" {
		file, err := os.Open(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}
	var snap database.Snapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}
