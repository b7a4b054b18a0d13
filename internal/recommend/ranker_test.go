// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
)

func newTestRanker() *HybridRanker {
	return NewHybridRanker(DefaultConfig(), testLogger())
}

// mixedSignals gives donor 1 a cluster, a content signal that also scores the
// donated and the closed case, and an education rule.
func mixedSignals() *stubConfig {
	return &stubConfig{
		textScores: map[int]float64{1: 0.99, 4: 0.3, 7: 0.9},
		clusters:   map[int]int{1: 0},
		shares:     map[Category]float64{CategoryCancer: 1.0, CategoryMedical: 0.5},
		recs:       []CategoryScore{{Category: CategoryEducation, Confidence: 0.8}},
	}
}

func TestHybridRanker_BlendedScore(t *testing.T) {
	sc := &stubConfig{textScores: map[int]float64{4: 0.8}}
	models := sc.fittedModels(t)

	ranking, err := newTestRanker().Rank(context.Background(), models, newTestDataset(t), 1, 10, testNow)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if len(ranking.Items) != 1 {
		t.Fatalf("items = %v, want only case 4", caseIDs(ranking.Items))
	}

	item := ranking.Items[0]
	if math.Abs(item.Score-0.32) > 1e-9 {
		t.Errorf("Score = %f, want 0.32", item.Score)
	}
	for _, name := range []string{SignalContent, SignalCluster, SignalAssociation} {
		if _, ok := item.Scores[name]; !ok {
			t.Errorf("Scores missing %q", name)
		}
	}
	if item.Scores[SignalCluster] != 0 || item.Scores[SignalAssociation] != 0 {
		t.Errorf("absent signals should be 0, got %v", item.Scores)
	}
	if item.Algorithm != SignalContent || item.RawScore != 0.8 {
		t.Errorf("Algorithm = %q RawScore = %f", item.Algorithm, item.RawScore)
	}
	if ranking.Reason != ReasonHistory || ranking.Fallback {
		t.Errorf("Reason = %q Fallback = %v", ranking.Reason, ranking.Fallback)
	}
	if ranking.Signals[SignalCluster] != SignalSkipped {
		t.Errorf("cluster signal = %q, want skipped for a donor without a segment", ranking.Signals[SignalCluster])
	}
	if ranking.Degraded {
		t.Error("ranking should not be degraded")
	}
}

func TestHybridRanker_OrderAndExclusion(t *testing.T) {
	models := mixedSignals().fittedModels(t)
	ds := newTestDataset(t)

	ranking, err := newTestRanker().Rank(context.Background(), models, ds, 1, 10, testNow)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}

	// 4: 0.4*0.3 + 0.3*1.0 = 0.42. 5 and 2 tie at 0.3*0.8, newer first.
	// 6: 0.3*0.5. 3 scores 0 but was returned by the cluster signal.
	want := []int{4, 5, 2, 6, 3}
	if got := caseIDs(ranking.Items); !equalInts(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if math.Abs(ranking.Items[0].Score-0.42) > 1e-9 {
		t.Errorf("top score = %f, want 0.42", ranking.Items[0].Score)
	}
	if ranking.Items[0].Algorithm != SignalCluster || ranking.Items[0].RawScore != 1.0 {
		t.Errorf("top algorithm = %q raw = %f", ranking.Items[0].Algorithm, ranking.Items[0].RawScore)
	}

	for _, item := range ranking.Items {
		if item.CaseID == 1 {
			t.Error("donated case 1 was recommended")
		}
		if item.CaseID == 7 {
			t.Error("closed case 7 was recommended")
		}
	}
}

func TestHybridRanker_TopN(t *testing.T) {
	models := mixedSignals().fittedModels(t)

	tests := []struct {
		name string
		n    int
		want []int
	}{
		{"truncates", 2, []int{4, 5}},
		{"zero uses default", 0, []int{4, 5, 2, 6, 3}},
		{"larger than candidates", 50, []int{4, 5, 2, 6, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranking, err := newTestRanker().Rank(context.Background(), models, newTestDataset(t), 1, tt.n, testNow)
			if err != nil {
				t.Fatalf("Rank() error = %v", err)
			}
			if got := caseIDs(ranking.Items); !equalInts(got, tt.want) {
				t.Errorf("items = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHybridRanker_ColdStart(t *testing.T) {
	var calls atomic.Int32
	sc := mixedSignals()
	sc.similarCalls = &calls
	models := sc.fittedModels(t)

	ranking, err := newTestRanker().Rank(context.Background(), models, newTestDataset(t), 2, 10, testNow)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}

	if ranking.Reason != ReasonTrending {
		t.Errorf("Reason = %q, want %q", ranking.Reason, ReasonTrending)
	}
	if !ranking.Fallback {
		t.Error("Fallback = false")
	}
	if calls.Load() != 0 {
		t.Errorf("content signal called %d times for a cold-start donor", calls.Load())
	}
	for name, state := range ranking.Signals {
		if state != SignalSkipped {
			t.Errorf("signal %s = %q, want skipped", name, state)
		}
	}

	// Cases 2 and 1 have recent donations. Case 3 has only an old one, so it
	// sorts with the rest by recency.
	want := []int{2, 1, 6, 5, 4, 3}
	if got := caseIDs(ranking.Items); !equalInts(got, want) {
		t.Errorf("trending = %v, want %v", got, want)
	}
	for _, item := range ranking.Items {
		if item.Algorithm != SignalTrending {
			t.Errorf("case %d algorithm = %q", item.CaseID, item.Algorithm)
		}
	}
}

func TestHybridRanker_FallbackWhenNoSignalScores(t *testing.T) {
	sc := &stubConfig{}
	models := sc.fittedModels(t)

	ranking, err := newTestRanker().Rank(context.Background(), models, newTestDataset(t), 1, 10, testNow)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if !ranking.Fallback || ranking.Reason != ReasonTrending {
		t.Fatalf("Fallback = %v Reason = %q", ranking.Fallback, ranking.Reason)
	}
	// The donor's own case 1 stays excluded from the fallback.
	want := []int{2, 6, 5, 4, 3}
	if got := caseIDs(ranking.Items); !equalInts(got, want) {
		t.Errorf("trending = %v, want %v", got, want)
	}
}

func TestHybridRanker_DegradedSignals(t *testing.T) {
	tests := []struct {
		name   string
		models func(t *testing.T) *Models
		want   map[string]SignalState
	}{
		{
			name: "unfitted content index",
			models: func(t *testing.T) *Models {
				sc := mixedSignals()
				sc.textErr = errors.New("boom")
				return sc.fittedModels(t)
			},
			want: map[string]SignalState{
				SignalContent:     SignalUnavailable,
				SignalCluster:     SignalOK,
				SignalAssociation: SignalOK,
			},
		},
		{
			name: "degenerate segmentation",
			models: func(t *testing.T) *Models {
				sc := mixedSignals()
				sc.degenerate = true
				return sc.fittedModels(t)
			},
			want: map[string]SignalState{
				SignalContent:     SignalOK,
				SignalCluster:     SignalDegenerate,
				SignalAssociation: SignalOK,
			},
		},
		{
			name:   "no models",
			models: func(*testing.T) *Models { return nil },
			want: map[string]SignalState{
				SignalContent:     SignalUnavailable,
				SignalCluster:     SignalUnavailable,
				SignalAssociation: SignalUnavailable,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranking, err := newTestRanker().Rank(context.Background(), tt.models(t), newTestDataset(t), 1, 10, testNow)
			if err != nil {
				t.Fatalf("Rank() error = %v", err)
			}
			for name, want := range tt.want {
				if got := ranking.Signals[name]; got != want {
					t.Errorf("signal %s = %q, want %q", name, got, want)
				}
			}
			if !ranking.Degraded {
				t.Error("Degraded = false")
			}
			if len(ranking.DegradedSignals()) == 0 {
				t.Error("DegradedSignals() is empty")
			}
			for _, item := range ranking.Items {
				if item.CaseID == 1 {
					t.Error("donated case recommended")
				}
			}
		})
	}
}

func TestHybridRanker_Errors(t *testing.T) {
	models := mixedSignals().fittedModels(t)
	ds := newTestDataset(t)
	r := newTestRanker()

	if _, err := r.Rank(context.Background(), models, ds, 99, 10, testNow); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("unknown donor error = %v, want ErrUnknownEntity", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Rank(ctx, models, ds, 1, 10, testNow); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context error = %v", err)
	}
}

func TestHybridRanker_Deterministic(t *testing.T) {
	models := mixedSignals().fittedModels(t)
	ds := newTestDataset(t)
	r := newTestRanker()

	first, _ := r.Rank(context.Background(), models, ds, 1, 10, testNow)
	for i := 0; i < 5; i++ {
		again, err := r.Rank(context.Background(), models, ds, 1, 10, testNow)
		if err != nil {
			t.Fatalf("Rank() error = %v", err)
		}
		if !equalInts(caseIDs(first.Items), caseIDs(again.Items)) {
			t.Fatalf("run %d order %v differs from %v", i, caseIDs(again.Items), caseIDs(first.Items))
		}
	}
}

func TestIsFallbackError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&InsufficientDataError{Component: "x"}, true},
		{&UnknownEntityError{Kind: EntityDonor, ID: 1}, true},
		{&ModelNotFittedError{Component: "x"}, false},
		{&ConfigurationError{Field: "x"}, false},
		{errors.New("other"), false},
	}
	for _, tt := range tests {
		if got := IsFallbackError(tt.err); got != tt.want {
			t.Errorf("IsFallbackError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
