// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// testRecords returns the fixture records. Donor 1 gave to case 1, donor 2
// has only a pending donation and donor 3 gave to cases 2 and 3.
func testRecords() ([]Case, []Donor, []Donation) {
	cases := []Case{
		{ID: 1, Title: "Chemotherapy for Sara", Category: CategoryCancer, TargetAmount: 5000, Status: CaseStatusApproved, CreatedAt: testNow.Add(-60 * day)},
		{ID: 2, Title: "School books for the village", Category: CategoryEducation, TargetAmount: 800, Status: CaseStatusApproved, CreatedAt: testNow.Add(-50 * day)},
		{ID: 3, Title: "Flood relief", Category: CategoryDisaster, TargetAmount: 20000, Status: CaseStatusApproved, CreatedAt: testNow.Add(-45 * day)},
		{ID: 4, Title: "Leukemia treatment", Category: CategoryCancer, TargetAmount: 9000, Status: CaseStatusApproved, CreatedAt: testNow.Add(-20 * day)},
		{ID: 5, Title: "Tuition support", Category: CategoryEducation, TargetAmount: 1200, Status: CaseStatusApproved, CreatedAt: testNow.Add(-10 * day)},
		{ID: 6, Title: "Surgery costs", Category: CategoryMedical, TargetAmount: 3000, Status: CaseStatusApproved, CreatedAt: testNow.Add(-5 * day)},
		{ID: 7, Title: "Closed appeal", Category: CategoryMedical, TargetAmount: 100, CollectedAmount: 100, Status: CaseStatusCompleted, CreatedAt: testNow.Add(-90 * day)},
	}
	donors := []Donor{
		{ID: 1, AgeRange: Age26To35},
		{ID: 2},
		{ID: 3, IncomeRange: IncomeHigh},
	}
	donations := []Donation{
		{ID: 1, DonorID: 1, CaseID: 1, Amount: 50, Status: DonationCompleted, CreatedAt: testNow.Add(-5 * day), CompletedAt: testNow.Add(-5 * day)},
		{ID: 2, DonorID: 3, CaseID: 2, Amount: 200, Status: DonationCompleted, CreatedAt: testNow.Add(-2 * day), CompletedAt: testNow.Add(-2 * day)},
		{ID: 3, DonorID: 3, CaseID: 3, Amount: 75, Status: DonationCompleted, CreatedAt: testNow.Add(-40 * day), CompletedAt: testNow.Add(-40 * day)},
		{ID: 4, DonorID: 2, CaseID: 4, Amount: 30, Status: DonationPending, CreatedAt: testNow.Add(-1 * day)},
	}
	return cases, donors, donations
}

func newTestDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := NewDataset(testRecords())
	if err != nil {
		t.Fatalf("NewDataset() error = %v", err)
	}
	return ds
}

func caseIDs(items []RankedCase) []int {
	ids := make([]int, len(items))
	for i, item := range items {
		ids[i] = item.CaseID
	}
	return ids
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stubBase implements Model for the stub components below.
type stubBase struct {
	name   string
	fitted bool
	fitErr error
}

func (s *stubBase) Name() string   { return s.name }
func (s *stubBase) IsFitted() bool { return s.fitted }

func (s *stubBase) fit() error {
	if s.fitErr != nil {
		s.fitted = false
		return s.fitErr
	}
	s.fitted = true
	return nil
}

func (s *stubBase) MarshalModel() ([]byte, error) {
	return json.Marshal(struct {
		Name   string `json:"name"`
		Fitted bool   `json:"fitted"`
	}{s.name, s.fitted})
}

func (s *stubBase) UnmarshalModel(data []byte) error {
	var st struct {
		Name   string `json:"name"`
		Fitted bool   `json:"fitted"`
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if st.Name != s.name {
		return fmt.Errorf("state for %q, want %q", st.Name, s.name)
	}
	s.fitted = st.Fitted
	return nil
}

func sortedScores(scores map[int]float64, k int) []CaseScore {
	out := make([]CaseScore, 0, len(scores))
	for id, s := range scores {
		out = append(out, CaseScore{CaseID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CaseID < out[j].CaseID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// stubText returns its fixed scores from SimilarTo and ignores anchors and
// exclusions, so the ranker's own candidate filtering is what gets tested.
type stubText struct {
	stubBase
	scores map[int]float64
	calls  *atomic.Int32
}

func (s *stubText) Fit(context.Context, []Document) error { return s.fit() }

func (s *stubText) SimilarTo(_ []int, _ map[int]struct{}, k int) ([]CaseScore, error) {
	if s.calls != nil {
		s.calls.Add(1)
	}
	if !s.fitted {
		return nil, &ModelNotFittedError{Component: s.name}
	}
	return sortedScores(s.scores, k), nil
}

func (s *stubText) Query(text string, _ map[int]struct{}, k int) ([]CaseScore, error) {
	if !s.fitted {
		return nil, &ModelNotFittedError{Component: s.name}
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	positive := make(map[int]float64)
	for id, v := range s.scores {
		if v > 0 {
			positive[id] = v
		}
	}
	return sortedScores(positive, k), nil
}

func (s *stubText) Similarity(a, b int) (float64, error) {
	if !s.fitted {
		return 0, &ModelNotFittedError{Component: s.name}
	}
	if a == b {
		return 1, nil
	}
	return s.scores[b], nil
}

type stubSegments struct {
	stubBase
	degenerate bool
	clusters   map[int]int
	shares     map[Category]float64
}

func (s *stubSegments) Fit(context.Context, []DonorSample, int) error {
	if s.degenerate {
		s.fitted = false
		return &InsufficientDataError{Component: s.name, Reason: "no usable feature columns"}
	}
	return s.fit()
}

func (s *stubSegments) PredictCluster(FeatureVector) (int, error) { return 0, nil }

func (s *stubSegments) ClusterOf(donorID int) (int, bool) {
	c, ok := s.clusters[donorID]
	return c, ok
}

func (s *stubSegments) RecommendForCluster(_ int, candidates []Case, k int) ([]CaseScore, error) {
	scores := make(map[int]float64, len(candidates))
	for i := range candidates {
		scores[candidates[i].ID] = s.shares[candidates[i].Category]
	}
	return sortedScores(scores, k), nil
}

func (s *stubSegments) Profiles() []ClusterProfile {
	return []ClusterProfile{{ID: 0, Size: len(s.clusters)}}
}

func (s *stubSegments) Degenerate() bool { return s.degenerate }

type stubRules struct {
	stubBase
	recs []CategoryScore
}

func (s *stubRules) Fit(context.Context, [][]Category) error { return s.fit() }

func (s *stubRules) RecommendCategories(donated []Category) ([]CategoryScore, error) {
	if !s.fitted {
		return nil, &ModelNotFittedError{Component: s.name}
	}
	have := make(map[Category]struct{}, len(donated))
	for _, c := range donated {
		have[c] = struct{}{}
	}
	var out []CategoryScore
	for _, r := range s.recs {
		if _, ok := have[r.Category]; !ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubRules) Rules() []Rule { return nil }

type stubLikelihood struct {
	stubBase
	prob float64
}

func (s *stubLikelihood) Fit(context.Context, []FeatureVector, []bool) error { return s.fit() }

func (s *stubLikelihood) PredictProbability(rows []FeatureVector) ([]float64, error) {
	if !s.fitted {
		return nil, &ModelNotFittedError{Component: s.name}
	}
	out := make([]float64, len(rows))
	for i := range out {
		out[i] = s.prob
	}
	return out, nil
}

type stubFraud struct {
	stubBase
	prob float64
}

func (s *stubFraud) Fit(context.Context, []Case, []bool) error { return s.fit() }

func (s *stubFraud) PredictFraudProbability(cases []Case) ([]float64, error) {
	if !s.fitted {
		return nil, &ModelNotFittedError{Component: s.name}
	}
	out := make([]float64, len(cases))
	for i := range out {
		out[i] = s.prob
	}
	return out, nil
}

// stubConfig describes the behaviour of every stub component. factory
// builds a fresh set from it on each call.
type stubConfig struct {
	textScores    map[int]float64
	textErr       error
	similarCalls  *atomic.Int32
	degenerate    bool
	clusters      map[int]int
	shares        map[Category]float64
	segmentsErr   error
	recs          []CategoryScore
	likelihood    float64
	likelihoodErr error
	fraud         float64
	fraudErr      error
}

func (sc *stubConfig) factory(*Config) *Models {
	return &Models{
		Text:       &stubText{stubBase: stubBase{name: ComponentTextIndex, fitErr: sc.textErr}, scores: sc.textScores, calls: sc.similarCalls},
		Search:     &stubText{stubBase: stubBase{name: ComponentSearchIndex}, scores: sc.textScores},
		Segments:   &stubSegments{stubBase: stubBase{name: ComponentSegments, fitErr: sc.segmentsErr}, degenerate: sc.degenerate, clusters: sc.clusters, shares: sc.shares},
		Rules:      &stubRules{stubBase: stubBase{name: ComponentRules}, recs: sc.recs},
		Likelihood: &stubLikelihood{stubBase: stubBase{name: ComponentLikelihood, fitErr: sc.likelihoodErr}, prob: sc.likelihood},
		Fraud:      &stubFraud{stubBase: stubBase{name: ComponentFraud, fitErr: sc.fraudErr}, prob: sc.fraud},
	}
}

// fittedModels returns a model set with every component fitted, except
// those configured to fail.
func (sc *stubConfig) fittedModels(t *testing.T) *Models {
	t.Helper()
	m := sc.factory(nil)
	ctx := context.Background()
	fits := []error{
		m.Text.Fit(ctx, nil),
		m.Search.Fit(ctx, nil),
		m.Segments.Fit(ctx, nil, 1),
		m.Rules.Fit(ctx, nil),
		m.Likelihood.Fit(ctx, nil, nil),
		m.Fraud.Fit(ctx, nil, nil),
	}
	for _, err := range fits {
		if err != nil && !errors.Is(err, ErrInsufficientData) && !errors.Is(err, sc.textErr) {
			t.Fatalf("stub fit error = %v", err)
		}
	}
	m.Version = 1
	return m
}

// stubProvider builds a fresh fixture dataset on every load.
type stubProvider struct {
	err     error
	loads   atomic.Int32
	started chan struct{}
	release chan struct{}
	build   func() (*Dataset, error)
}

func (p *stubProvider) LoadDataset(ctx context.Context) (*Dataset, error) {
	p.loads.Add(1)
	if p.started != nil {
		p.started <- struct{}{}
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.build != nil {
		return p.build()
	}
	return NewDataset(testRecords())
}

type stubLabels struct {
	pairs []ShownPair
	err   error
}

func (l *stubLabels) ShownPairs(context.Context, time.Time) ([]ShownPair, error) {
	return l.pairs, l.err
}

// memStore is an in-memory ModelStore.
type memStore struct {
	mu   sync.Mutex
	data map[string]map[int][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[int][]byte)}
}

func (s *memStore) SaveModel(_ context.Context, name string, version int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[name] == nil {
		s.data[name] = make(map[int][]byte)
	}
	s.data[name][version] = append([]byte(nil), payload...)
	return nil
}

func (s *memStore) LoadModel(_ context.Context, name string, version int) ([]byte, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.data[name]
	if version == 0 {
		for v := range versions {
			if v > version {
				version = v
			}
		}
	}
	payload, ok := versions[version]
	if !ok {
		return nil, 0, fmt.Errorf("model %s version %d not found", name, version)
	}
	return payload, version, nil
}
