// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/almoner/internal/ledger"
)

type ledgerStatsFlags struct {
	Days  int  `flag:"days" validate:"gte=1,lte=366"`
	Daily bool `flag:"daily"`
	JSON  bool `flag:"json"`
}

func ledgerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the recommendation ledger",
	}
	cmd.AddCommand(ledgerStatsCmd(a))
	return cmd
}

func ledgerStatsCmd(a *app) *cobra.Command {
	f := ledgerStatsFlags{Days: 30}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "CTR and conversion per algorithm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFlags(&f); err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openLedger(a)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			until := time.Now().UTC()
			report, err := store.Analytics(ctx, until.AddDate(0, 0, -f.Days), until)
			if err != nil {
				return err
			}
			if f.JSON {
				return printJSON(os.Stdout, report)
			}

			total, err := store.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d entries in ledger, %d shown in the last %d days\n\n", total, report.Total.Shown, f.Days)

			t := newTable(os.Stdout)
			if f.Daily {
				t.header("DATE", "ALGORITHM", "SHOWN", "CLICKED", "DONATED", "CTR", "CONVERSION")
				for _, d := range report.Daily {
					t.row(d.Date, d.Algorithm, d.Shown, d.Clicked, d.Donated, d.CTR, d.Conversion)
				}
				return t.flush()
			}
			t.header("ALGORITHM", "SHOWN", "VIEWED", "CLICKED", "DONATED", "CTR", "CONVERSION")
			rows := make([]ledger.AlgorithmStats, 0, len(report.Algorithms)+1)
			rows = append(rows, report.Algorithms...)
			rows = append(rows, report.Total)
			for _, s := range rows {
				t.row(s.Algorithm, s.Shown, s.Viewed, s.Clicked, s.Donated, s.CTR, s.Conversion)
			}
			return t.flush()
		},
	}
	cmd.Flags().IntVar(&f.Days, "days", f.Days, "report window in days")
	cmd.Flags().BoolVar(&f.Daily, "daily", false, "break down per day")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

func openLedger(a *app) (*ledger.Store, error) {
	return ledger.Open(a.cfg.Ledger, a.logger)
}
