// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/almoner/internal/config"
	"github.com/tomtom215/almoner/internal/database"
	"github.com/tomtom215/almoner/internal/recommend"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"serve", "train", "import", "rank", "search", "fraud", "segments", "ledger"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	stats, _, err := root.Find([]string{"ledger", "stats"})
	if err != nil || stats.Name() != "stats" {
		t.Error("ledger stats not registered")
	}
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   any
		wantErr string
	}{
		{"rank ok", &rankFlags{Donor: 3, Limit: 10}, ""},
		{"rank without donor", &rankFlags{}, "donor"},
		{"rank limit too large", &rankFlags{Donor: 3, Limit: 101}, "limit"},
		{"search empty", &searchFlags{Limit: 20}, "query"},
		{"fraud no cases", &fraudFlags{}, "case"},
		{"fraud zero id", &fraudFlags{Cases: []int{4, 0}}, "case"},
		{"ledger days", &ledgerStatsFlags{Days: 0}, "days"},
		{"log level", &globalFlags{LogLevel: "loud"}, "log-level"},
		{"train ok", &trainFlags{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(tt.flags)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validateFlags() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateFlags() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte(`{"cases":[{"id":1,"category":"cancer"}],"donors":[{"id":2}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"cases":[],"payments":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	snap, err := readSnapshot(good, nil)
	if err != nil {
		t.Fatalf("readSnapshot() error = %v", err)
	}
	if len(snap.Cases) != 1 || len(snap.Donors) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	if _, err := readSnapshot(bad, nil); err == nil {
		t.Error("unknown top-level field should fail")
	}
	if _, err := readSnapshot(filepath.Join(dir, "missing.json"), nil); err == nil {
		t.Error("missing file should fail")
	}

	snap, err = readSnapshot("-", strings.NewReader(`{"donations":[{"id":9,"donor_id":2,"case_id":1,"amount":5,"status":"pending"}]}`))
	if err != nil || len(snap.Donations) != 1 {
		t.Errorf("stdin snapshot = %+v, %v", snap, err)
	}
}

func TestTopCategories(t *testing.T) {
	prefs := map[recommend.Category]int{
		recommend.CategoryCancer:    4,
		recommend.CategoryAccident:  4,
		recommend.CategoryEducation: 1,
		recommend.CategoryMedical:   2,
	}
	got := topCategories(prefs, 3)
	want := "accident(4) cancer(4) medical(2)"
	if got != want {
		t.Errorf("topCategories() = %q, want %q", got, want)
	}
	if got := topCategories(nil, 3); got != "" {
		t.Errorf("empty prefs = %q", got)
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf)
	tbl.header("CASE", "SCORE")
	tbl.row(12, 0.5)
	if err := tbl.flush(); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[2], "0.5000") {
		t.Errorf("float row = %q, want 4 decimals", lines[2])
	}
}

func testApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database = database.Config{Path: filepath.Join(dir, "platform.duckdb"), Threads: 1}
	cfg.Ledger.Path = filepath.Join(dir, "ledger")
	cfg.Models.Dir = filepath.Join(dir, "models")
	return &app{cfg: cfg, logger: zerolog.Nop()}
}

func TestImportTrainServe(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	snap := database.Snapshot{
		Cases: []recommend.Case{
			{ID: 1, Title: "Chemotherapy support", Description: "Six cycles of treatment",
				Category: recommend.CategoryCancer, TargetAmount: 8000, Status: recommend.CaseStatusApproved, CreatedAt: created},
			{ID: 2, Title: "Rebuild after the fire", Description: "Family home destroyed",
				Category: recommend.CategoryAccident, TargetAmount: 3000, Status: recommend.CaseStatusApproved, CreatedAt: created},
		},
		Donors: []recommend.Donor{{ID: 7}, {ID: 8}},
		Donations: []recommend.Donation{
			{ID: 100, DonorID: 7, CaseID: 1, Amount: 50, Status: recommend.DonationCompleted,
				CreatedAt: created.Add(time.Hour), CompletedAt: created.Add(2 * time.Hour)},
		},
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := a.importSnapshot(ctx, importFlags{Path: path}, nil); err != nil {
		t.Fatalf("import error = %v", err)
	}

	if _, err := a.servingEngine(ctx, false); err == nil {
		t.Fatal("serving without saved models and without --train should fail")
	}

	if err := a.train(ctx, trainFlags{JSON: true}); err != nil {
		t.Fatalf("train error = %v", err)
	}
	if err := a.train(ctx, trainFlags{JSON: true}); err != nil {
		t.Fatalf("second train error = %v", err)
	}

	c, err := a.servingEngine(ctx, false)
	if err != nil {
		t.Fatalf("servingEngine() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	if got := c.engine.Status().ModelVersion; got != 2 {
		t.Errorf("loaded version = %d, want 2 (versions continue across runs)", got)
	}
	ranking, err := c.engine.Recommend(ctx, 8, 5)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(ranking.Items) == 0 {
		t.Error("ranking should not be empty with open cases")
	}
}
