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
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Signal names used in score breakdowns and ledger algorithm tags.
const (
	SignalContent     = "content"
	SignalCluster     = "cluster"
	SignalAssociation = "association"
	SignalTrending    = "trending"
)

// Reasons attached to rankings so callers can frame the results.
const (
	ReasonHistory  = "Based on your history"
	ReasonTrending = "Popular this month"
)

// SignalState reports what happened to one signal during ranking.
type SignalState string

const (
	// SignalOK means the signal ran and contributed scores.
	SignalOK SignalState = "ok"
	// SignalSkipped means the signal did not apply to this donor.
	SignalSkipped SignalState = "skipped"
	// SignalDegenerate means the model was fitted on unusable data and
	// scores every case 0.
	SignalDegenerate SignalState = "degenerate"
	// SignalUnavailable means the model was missing or failed.
	SignalUnavailable SignalState = "unavailable"
)

// RankedCase is one entry of a ranking.
type RankedCase struct {
	CaseID    int                `json:"case_id"`
	Title     string             `json:"title"`
	Category  Category           `json:"category"`
	Score     float64            `json:"score"`
	Scores    map[string]float64 `json:"scores"`
	Algorithm string             `json:"algorithm"`
	RawScore  float64            `json:"raw_score"`
	CreatedAt time.Time          `json:"created_at"`
}

// Ranking is the ordered result for one donor.
type Ranking struct {
	RequestID string       `json:"request_id,omitempty"`
	DonorID   int          `json:"donor_id"`
	Items     []RankedCase `json:"items"`
	Reason    string       `json:"reason"`

	// Fallback is set when the list came from the trending fallback.
	Fallback bool `json:"fallback"`

	// Degraded is set when at least one signal was unavailable or degenerate.
	Degraded bool                   `json:"degraded"`
	Signals  map[string]SignalState `json:"signals"`

	ModelVersion int       `json:"model_version"`
	CacheHit     bool      `json:"cache_hit"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// DegradedSignals lists the signals that were unavailable or degenerate.
func (r *Ranking) DegradedSignals() []string {
	var out []string
	for _, name := range []string{SignalContent, SignalCluster, SignalAssociation} {
		switch r.Signals[name] {
		case SignalUnavailable, SignalDegenerate:
			out = append(out, name)
		}
	}
	return out
}

// HybridRanker blends the content, cluster and association signals into one
// ranked list. Ranking is a pure function of the models and the dataset.
type HybridRanker struct {
	cfg    *Config
	logger zerolog.Logger
}

// NewHybridRanker creates a ranker. The configuration must already be valid.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHybridRanker(cfg *Config, logger zerolog.Logger) *HybridRanker {
	return &HybridRanker{
		cfg:    cfg,
		logger: logger.With().Str("component", "hybrid_ranker").Logger(),
	}
}

// signalResult holds the outcome of one signal.
type signalResult struct {
	name   string
	scores map[int]float64
	state  SignalState
	err    error
}

// Rank produces the top n cases for a donor. Donors without completed
// donations get the trending fallback. Failing signals contribute 0 and mark
// the ranking degraded instead of failing the call.
func (r *HybridRanker) Rank(ctx context.Context, models *Models, ds *Dataset, donorID, n int, now time.Time) (*Ranking, error) {
	donor, err := ds.Donor(donorID)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = r.cfg.Hybrid.TopN
	}

	ranking := &Ranking{
		DonorID:     donorID,
		Signals:     make(map[string]SignalState, 3),
		GeneratedAt: now,
	}
	if models != nil {
		ranking.ModelVersion = models.Version
	}

	history := ds.DonorHistory(donorID)
	donated := make(map[int]struct{}, len(history))
	for _, id := range history {
		donated[id] = struct{}{}
	}

	if len(history) == 0 {
		for _, name := range []string{SignalContent, SignalCluster, SignalAssociation} {
			ranking.Signals[name] = SignalSkipped
		}
		r.fillTrending(ranking, ds, donated, n, now)
		return ranking, nil
	}

	candidates := make(map[int]*Case)
	for i := range ds.Cases {
		c := &ds.Cases[i]
		if !c.IsAvailable() {
			continue
		}
		if _, ok := donated[c.ID]; ok {
			continue
		}
		candidates[c.ID] = c
	}

	limit := n * r.cfg.Hybrid.CandidateMultiplier
	results := r.runSignals(ctx, models, ds, donor, history, donated, candidates, limit)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rank donor %d: %w", donorID, err)
	}

	weights := r.cfg.Hybrid.Weights.ToMap()
	breakdown := make(map[int]map[string]float64)
	for _, res := range results {
		ranking.Signals[res.name] = res.state
		if res.err != nil {
			r.logger.Warn().
				Str("signal", res.name).
				Int("donor_id", donorID).
				Err(res.err).
				Msg("signal unavailable, contributing 0")
		}
		for caseID, score := range res.scores {
			if _, ok := candidates[caseID]; !ok {
				continue
			}
			if breakdown[caseID] == nil {
				breakdown[caseID] = map[string]float64{
					SignalContent:     0,
					SignalCluster:     0,
					SignalAssociation: 0,
				}
			}
			breakdown[caseID][res.name] = score
		}
	}
	ranking.Degraded = len(ranking.DegradedSignals()) > 0

	items := make([]RankedCase, 0, len(breakdown))
	for caseID, scores := range breakdown {
		c := candidates[caseID]
		item := RankedCase{
			CaseID:    caseID,
			Title:     c.Title,
			Category:  c.Category,
			Scores:    scores,
			CreatedAt: c.CreatedAt,
		}
		best := -1.0
		for _, name := range []string{SignalContent, SignalCluster, SignalAssociation} {
			contribution := weights[name] * scores[name]
			item.Score += contribution
			if contribution > best {
				best = contribution
				item.Algorithm = name
				item.RawScore = scores[name]
			}
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		r.logger.Debug().Int("donor_id", donorID).Msg("no blended candidates, using trending fallback")
		r.fillTrending(ranking, ds, donated, n, now)
		return ranking, nil
	}

	sortRanked(items)
	if len(items) > n {
		items = items[:n]
	}
	ranking.Items = items
	ranking.Reason = ReasonHistory
	return ranking, nil
}

// runSignals evaluates the three signals in parallel.
func (r *HybridRanker) runSignals(
	ctx context.Context,
	models *Models,
	ds *Dataset,
	donor *Donor,
	history []int,
	donated map[int]struct{},
	candidates map[int]*Case,
	limit int,
) []signalResult {
	results := make([]signalResult, 3)
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		results[0] = r.contentSignal(ctx, models, ds, history, candidates, limit)
	}()
	go func() {
		defer wg.Done()
		results[1] = r.clusterSignal(ctx, models, donor, candidates, limit)
	}()
	go func() {
		defer wg.Done()
		results[2] = r.associationSignal(ctx, models, ds, donor.ID, candidates)
	}()

	wg.Wait()
	return results
}

func (r *HybridRanker) contentSignal(ctx context.Context, models *Models, ds *Dataset, history []int, candidates map[int]*Case, limit int) signalResult {
	res := signalResult{name: SignalContent}
	if models == nil || models.Text == nil || !models.Text.IsFitted() {
		res.state = SignalUnavailable
		res.err = &ModelNotFittedError{Component: ComponentTextIndex}
		return res
	}
	if err := ctx.Err(); err != nil {
		res.state, res.err = SignalUnavailable, err
		return res
	}

	exclude := make(map[int]struct{})
	for i := range ds.Cases {
		if _, ok := candidates[ds.Cases[i].ID]; !ok {
			exclude[ds.Cases[i].ID] = struct{}{}
		}
	}

	scored, err := models.Text.SimilarTo(history, exclude, limit)
	if err != nil {
		res.state, res.err = SignalUnavailable, err
		return res
	}
	res.scores = toScoreMap(scored)
	res.state = SignalOK
	return res
}

func (r *HybridRanker) clusterSignal(ctx context.Context, models *Models, donor *Donor, candidates map[int]*Case, limit int) signalResult {
	res := signalResult{name: SignalCluster}
	if models == nil || models.Segments == nil {
		res.state = SignalUnavailable
		res.err = &ModelNotFittedError{Component: ComponentSegments}
		return res
	}
	if models.Segments.Degenerate() {
		res.state = SignalDegenerate
		return res
	}
	if !models.Segments.IsFitted() {
		res.state = SignalUnavailable
		res.err = &ModelNotFittedError{Component: ComponentSegments}
		return res
	}

	clusterID, ok := models.Segments.ClusterOf(donor.ID)
	if !ok && donor.Cluster != nil {
		clusterID, ok = *donor.Cluster, true
	}
	if !ok {
		res.state = SignalSkipped
		return res
	}
	if err := ctx.Err(); err != nil {
		res.state, res.err = SignalUnavailable, err
		return res
	}

	scored, err := models.Segments.RecommendForCluster(clusterID, sortedCases(candidates), limit)
	if err != nil {
		res.state, res.err = SignalUnavailable, err
		return res
	}
	res.scores = toScoreMap(scored)
	res.state = SignalOK
	return res
}

func (r *HybridRanker) associationSignal(ctx context.Context, models *Models, ds *Dataset, donorID int, candidates map[int]*Case) signalResult {
	res := signalResult{name: SignalAssociation}
	if models == nil || models.Rules == nil || !models.Rules.IsFitted() {
		res.state = SignalUnavailable
		res.err = &ModelNotFittedError{Component: ComponentRules}
		return res
	}
	if err := ctx.Err(); err != nil {
		res.state, res.err = SignalUnavailable, err
		return res
	}

	recs, err := models.Rules.RecommendCategories(ds.DonorCategories(donorID))
	if err != nil {
		res.state, res.err = SignalUnavailable, err
		return res
	}

	confidence := make(map[Category]float64, len(recs))
	for _, rec := range recs {
		confidence[rec.Category] = rec.Confidence
	}
	res.scores = make(map[int]float64)
	for id, c := range candidates {
		if conf, ok := confidence[c.Category]; ok {
			res.scores[id] = conf
		}
	}
	res.state = SignalOK
	return res
}

// fillTrending replaces the ranking items with the popularity fallback.
func (r *HybridRanker) fillTrending(ranking *Ranking, ds *Dataset, exclude map[int]struct{}, n int, now time.Time) {
	trending := TrendingCases(ds, now, r.cfg.Trending.Window, exclude, n)
	items := make([]RankedCase, 0, len(trending))
	for _, t := range trending {
		c, err := ds.Case(t.CaseID)
		if err != nil {
			continue
		}
		score := t.Score()
		items = append(items, RankedCase{
			CaseID:    c.ID,
			Title:     c.Title,
			Category:  c.Category,
			Score:     score,
			Scores:    map[string]float64{SignalTrending: score},
			Algorithm: SignalTrending,
			RawScore:  score,
			CreatedAt: c.CreatedAt,
		})
	}
	ranking.Items = items
	ranking.Reason = ReasonTrending
	ranking.Fallback = true
}

// sortRanked orders by score, then newer cases first, then id.
func sortRanked(items []RankedCase) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].CaseID < items[j].CaseID
	})
}

func toScoreMap(scored []CaseScore) map[int]float64 {
	m := make(map[int]float64, len(scored))
	for _, s := range scored {
		m[s.CaseID] = s.Score
	}
	return m
}

func sortedCases(m map[int]*Case) []Case {
	out := make([]Case, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsFallbackError reports whether err is one the serving path recovers from
// by falling back to a non-personalised default.
func IsFallbackError(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrUnknownEntity)
}
