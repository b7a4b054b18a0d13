// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/almoner/internal/recommend"
)

type rankFlags struct {
	Donor  int  `flag:"donor" validate:"gt=0"`
	Limit  int  `flag:"limit" validate:"gte=0,lte=100"`
	Record bool `flag:"record"`
	Train  bool `flag:"train"`
	JSON   bool `flag:"json"`
}

func rankCmd(a *app) *cobra.Command {
	var f rankFlags
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank cases for a donor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFlags(&f); err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.servingEngine(ctx, f.Train)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ranking, err := c.engine.Recommend(ctx, f.Donor, f.Limit)
			if err != nil {
				return err
			}
			if f.Record {
				if c.ledger == nil {
					c.ledger, err = openLedger(a)
					if err != nil {
						return err
					}
				}
				if _, err := c.ledger.Record(ctx, recommend.EntriesFromRanking(ranking, time.Now().UTC())); err != nil {
					return err
				}
			}

			if f.JSON {
				return printJSON(os.Stdout, ranking)
			}
			fmt.Printf("donor %d  model v%d  %s", ranking.DonorID, ranking.ModelVersion, ranking.Reason)
			if ranking.Degraded {
				fmt.Print("  (degraded)")
			}
			fmt.Println()
			t := newTable(os.Stdout)
			t.header("RANK", "CASE", "CATEGORY", "SCORE", "ALGORITHM", "TITLE")
			for i := range ranking.Items {
				item := &ranking.Items[i]
				t.row(i+1, item.CaseID, item.Category, item.Score, item.Algorithm, item.Title)
			}
			return t.flush()
		},
	}
	cmd.Flags().IntVar(&f.Donor, "donor", 0, "donor id (required)")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 0, "number of cases (default: recommend.hybrid.top_n)")
	cmd.Flags().BoolVar(&f.Record, "record", false, "record the ranking in the ledger")
	cmd.Flags().BoolVar(&f.Train, "train", false, "train when no saved model set exists")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("donor")
	return cmd
}

type searchFlags struct {
	Query string `flag:"query" validate:"required,max=500"`
	Limit int    `flag:"limit" validate:"gte=1,lte=100"`
	Train bool   `flag:"train"`
	JSON  bool   `flag:"json"`
}

func searchCmd(a *app) *cobra.Command {
	f := searchFlags{Limit: 20}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search cases by text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Query = strings.TrimSpace(strings.Join(args, " "))
			if err := validateFlags(&f); err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.servingEngine(ctx, f.Train)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			hits, err := c.engine.Search(ctx, f.Query, f.Limit)
			if err != nil {
				return err
			}
			if f.JSON {
				return printJSON(os.Stdout, hits)
			}
			t := newTable(os.Stdout)
			t.header("CASE", "CATEGORY", "SCORE", "TITLE")
			for _, h := range hits {
				t.row(h.CaseID, h.Category, h.Score, h.Title)
			}
			return t.flush()
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", f.Limit, "maximum hits")
	cmd.Flags().BoolVar(&f.Train, "train", false, "train when no saved model set exists")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

type fraudFlags struct {
	Cases []int `flag:"case" validate:"required,min=1,dive,gt=0"`
	Train bool  `flag:"train"`
	JSON  bool  `flag:"json"`
}

func fraudCmd(a *app) *cobra.Command {
	var f fraudFlags
	cmd := &cobra.Command{
		Use:   "fraud",
		Short: "Score fraud risk for cases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFlags(&f); err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.servingEngine(ctx, f.Train)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			assessments, skipped, err := c.engine.AssessFraudBatch(ctx, f.Cases)
			if err != nil {
				return err
			}
			if f.JSON {
				return printJSON(os.Stdout, map[string]any{"assessments": assessments, "skipped": skipped})
			}
			t := newTable(os.Stdout)
			t.header("CASE", "PROBABILITY", "REVIEW", "FALLBACK")
			for _, fa := range assessments {
				t.row(fa.CaseID, fa.Probability, fa.NeedsReview, fa.Fallback)
			}
			if err := t.flush(); err != nil {
				return err
			}
			if len(skipped) > 0 {
				fmt.Fprintf(os.Stderr, "unknown cases skipped: %v\n", skipped)
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&f.Cases, "case", nil, "case id, repeatable (required)")
	cmd.Flags().BoolVar(&f.Train, "train", false, "train when no saved model set exists")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

type segmentsFlags struct {
	Train bool `flag:"train"`
	JSON  bool `flag:"json"`
}

func segmentsCmd(a *app) *cobra.Command {
	var f segmentsFlags
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "Show donor cluster profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.servingEngine(ctx, f.Train)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			profiles, err := c.engine.Clusters()
			if err != nil {
				return err
			}
			if f.JSON {
				return printJSON(os.Stdout, profiles)
			}
			t := newTable(os.Stdout)
			t.header("CLUSTER", "DONORS", "TOP CATEGORIES")
			for _, p := range profiles {
				t.row(p.ID, p.Size, topCategories(p.Preferences, 3))
			}
			return t.flush()
		},
	}
	cmd.Flags().BoolVar(&f.Train, "train", false, "train when no saved model set exists")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

// topCategories formats the k most frequent categories, ties by name.
func topCategories(prefs map[recommend.Category]int, k int) string {
	cats := make([]recommend.Category, 0, len(prefs))
	for c := range prefs {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if prefs[cats[i]] != prefs[cats[j]] {
			return prefs[cats[i]] > prefs[cats[j]]
		}
		return cats[i] < cats[j]
	})
	if len(cats) > k {
		cats = cats[:k]
	}
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = fmt.Sprintf("%s(%d)", c, prefs[c])
	}
	return strings.Join(parts, " ")
}
