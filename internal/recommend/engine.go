// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Note: This package has no dependencies on other internal packages. The
// DataProvider, LabelSource and ModelStore interfaces let the database,
// ledger and storage packages plug in without circular imports.

// DataProvider loads the current system of record into memory.
type DataProvider interface {
	LoadDataset(ctx context.Context) (*Dataset, error)
}

// Engine owns the fitted models and the in-memory dataset, and serves
// rankings and scores from them. It is safe for concurrent use.
type Engine struct {
	config  *Config
	logger  zerolog.Logger
	factory ModelFactory
	ranker  *HybridRanker

	// Published model set, replaced atomically on every successful train.
	models atomic.Pointer[Models]

	// Training state
	trainMu     sync.Mutex
	statusMu    sync.RWMutex
	trainStatus TrainingStatus

	// Dataset, mutated only by ApplyDonation and reloads.
	dataMu sync.RWMutex
	data   *Dataset

	dataProvider DataProvider
	labelSource  LabelSource

	// Cache of rankings per donor and length.
	cache   map[cacheKey]cacheEntry
	cacheMu sync.RWMutex

	// Counters
	requestCount  atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	fallbackCount atomic.Int64
	degradedCount atomic.Int64
	errorCount    atomic.Int64

	now func() time.Time
}

type cacheKey struct {
	donorID int
	n       int
}

type cacheEntry struct {
	ranking   *Ranking
	version   int
	history   int
	expiresAt time.Time
}

// TrainingStatus reports the state of the most recent training run.
type TrainingStatus struct {
	IsTraining     bool                   `json:"is_training"`
	ModelVersion   int                    `json:"model_version"`
	LastTrainedAt  time.Time              `json:"last_trained_at,omitempty"`
	LastDurationMS int64                  `json:"last_duration_ms"`
	LastError      string                 `json:"last_error,omitempty"`
	Components     map[string]ModelStatus `json:"components,omitempty"`
	Cases          int                    `json:"cases"`
	Donors         int                    `json:"donors"`
	Donations      int                    `json:"donations"`
}

// Metrics is a point-in-time snapshot of engine counters.
type Metrics struct {
	Requests     int64 `json:"requests"`
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	CacheEntries int   `json:"cache_entries"`
	Fallbacks    int64 `json:"fallbacks"`
	Degraded     int64 `json:"degraded"`
	Errors       int64 `json:"errors"`
	ModelVersion int   `json:"model_version"`
}

// NewEngine creates an engine. The configuration is validated here so that
// configuration errors surface at startup.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEngine(cfg *Config, factory ModelFactory, logger zerolog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("model factory is required")
	}

	return &Engine{
		config:  cfg,
		logger:  logger.With().Str("component", "recommend").Logger(),
		factory: factory,
		ranker:  NewHybridRanker(cfg, logger),
		cache:   make(map[cacheKey]cacheEntry),
		now:     time.Now,
	}, nil
}

// SetDataProvider sets the source of the dataset.
func (e *Engine) SetDataProvider(dp DataProvider) {
	e.dataProvider = dp
}

// SetLabelSource sets the ledger used to reconstruct likelihood labels.
func (e *Engine) SetLabelSource(ls LabelSource) {
	e.labelSource = ls
}

// SetDataset replaces the in-memory dataset and drops cached rankings.
func (e *Engine) SetDataset(ds *Dataset) {
	e.dataMu.Lock()
	e.data = ds
	e.dataMu.Unlock()
	e.clearCache()
}

// RefreshData reloads the dataset from the provider without refitting.
func (e *Engine) RefreshData(ctx context.Context) error {
	if e.dataProvider == nil {
		return fmt.Errorf("data provider not set")
	}
	ds, err := e.dataProvider.LoadDataset(ctx)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	e.SetDataset(ds)
	return nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// Models returns the currently published model set, or nil before training.
func (e *Engine) Models() *Models {
	return e.models.Load()
}

// Train loads the dataset, fits a fresh model set and publishes it. The
// previous models keep serving until the swap. Returns an error immediately
// when another training run is in progress.
func (e *Engine) Train(ctx context.Context) error {
	if !e.trainMu.TryLock() {
		return fmt.Errorf("training already in progress")
	}
	defer e.trainMu.Unlock()

	if e.dataProvider == nil {
		return fmt.Errorf("data provider not set")
	}

	start := e.now()
	e.setTraining(true)
	e.logger.Info().Msg("starting model training")

	trainCtx, cancel := context.WithTimeout(ctx, e.config.Training.Timeout)
	defer cancel()

	models, ds, err := e.fit(trainCtx)
	if err != nil {
		e.finishTraining(start, nil, nil, err)
		e.logger.Error().Err(err).Msg("model training failed")
		return err
	}

	if prev := e.models.Load(); prev != nil {
		models.Version = prev.Version + 1
	} else {
		models.Version = 1
	}
	models.TrainedAt = e.now()

	e.dataMu.Lock()
	e.data = ds
	e.dataMu.Unlock()
	e.models.Store(models)
	e.clearCache()

	e.finishTraining(start, models, ds, nil)
	e.logger.Info().
		Int("version", models.Version).
		Int("cases", len(ds.Cases)).
		Int("donors", len(ds.Donors)).
		Int64("duration_ms", e.now().Sub(start).Milliseconds()).
		Msg("model training complete")
	return nil
}

// fit loads data and fits every component. Components failing for lack of
// data are recorded and left unfitted; any other failure aborts the run.
func (e *Engine) fit(ctx context.Context) (*Models, *Dataset, error) {
	ds, err := e.dataProvider.LoadDataset(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load dataset: %w", err)
	}
	if len(ds.Cases) < e.config.Training.MinCases {
		return nil, nil, &InsufficientDataError{
			Component: "engine",
			Reason:    "too few cases to train",
			Have:      len(ds.Cases),
			Need:      e.config.Training.MinCases,
		}
	}

	var shown []ShownPair
	if e.labelSource != nil {
		shown, err = e.labelSource.ShownPairs(ctx, time.Time{})
		if err != nil {
			e.logger.Warn().Err(err).Msg("ledger unavailable, sampling likelihood negatives")
			shown = nil
		}
	}

	models := e.factory(e.config)
	models.Status = make(map[string]ModelStatus, 6)
	var statusMu sync.Mutex

	contentDocs, searchDocs := CaseDocuments(ds)
	samples := SegmentationSamples(ds, &e.config.Cluster)
	transactions := ds.Transactions()
	examples := BuildLikelihoodExamples(ds, shown, e.config.Likelihood.NegativesPerPositive, e.config.Seed)
	fraudCases, fraudLabels := FraudTrainingSet(ds)

	jobs := []struct {
		name string
		fit  func(context.Context) error
	}{
		{ComponentTextIndex, func(ctx context.Context) error { return models.Text.Fit(ctx, contentDocs) }},
		{ComponentSearchIndex, func(ctx context.Context) error { return models.Search.Fit(ctx, searchDocs) }},
		{ComponentSegments, func(ctx context.Context) error { return models.Segments.Fit(ctx, samples, e.config.Cluster.K) }},
		{ComponentRules, func(ctx context.Context) error { return models.Rules.Fit(ctx, transactions) }},
		{ComponentLikelihood, func(ctx context.Context) error { return models.Likelihood.Fit(ctx, examples.Rows, examples.Labels) }},
		{ComponentFraud, func(ctx context.Context) error { return models.Fraud.Fit(ctx, fraudCases, fraudLabels) }},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			start := time.Now()
			err := job.fit(gctx)
			status := ModelStatus{Fitted: err == nil, Duration: time.Since(start)}

			var insufficient *InsufficientDataError
			switch {
			case err == nil:
			case errors.As(err, &insufficient):
				status.Error = err.Error()
				status.Degenerate = job.name == ComponentSegments
				e.logger.Warn().Str("model", job.name).Err(err).Msg("model left unfitted")
				err = nil
			default:
				status.Error = err.Error()
				err = fmt.Errorf("fit %s: %w", job.name, err)
			}

			statusMu.Lock()
			models.Status[job.name] = status
			statusMu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return models, ds, nil
}

func (e *Engine) setTraining(on bool) {
	e.statusMu.Lock()
	e.trainStatus.IsTraining = on
	e.statusMu.Unlock()
}

func (e *Engine) finishTraining(start time.Time, models *Models, ds *Dataset, err error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	e.trainStatus.IsTraining = false
	e.trainStatus.LastDurationMS = e.now().Sub(start).Milliseconds()
	if err != nil {
		e.trainStatus.LastError = err.Error()
		return
	}
	e.trainStatus.LastError = ""
	e.trainStatus.ModelVersion = models.Version
	e.trainStatus.LastTrainedAt = models.TrainedAt
	e.trainStatus.Components = models.Status
	e.trainStatus.Cases = len(ds.Cases)
	e.trainStatus.Donors = len(ds.Donors)
	e.trainStatus.Donations = len(ds.Donations)
}

// Recommend returns the top n cases for a donor. n <= 0 selects the
// configured default; larger values are capped.
func (e *Engine) Recommend(ctx context.Context, donorID, n int) (*Ranking, error) {
	e.requestCount.Add(1)

	models := e.models.Load()
	if models == nil {
		e.errorCount.Add(1)
		return nil, &ModelNotFittedError{Component: "engine"}
	}

	if n <= 0 {
		n = e.config.Hybrid.TopN
	}
	if n > e.config.Hybrid.MaxN {
		n = e.config.Hybrid.MaxN
	}

	logger := e.logger.With().Int("donor_id", donorID).Int("n", n).Logger()

	if cached := e.cachedRanking(donorID, n, models.Version); cached != nil {
		e.cacheHits.Add(1)
		logger.Debug().Msg("cache hit")
		return cached, nil
	}
	if e.config.Cache.Enabled {
		e.cacheMisses.Add(1)
	}

	e.dataMu.RLock()
	ds := e.data
	if ds == nil {
		e.dataMu.RUnlock()
		e.errorCount.Add(1)
		return nil, ErrDatasetNotLoaded
	}
	ranking, err := e.ranker.Rank(ctx, models, ds, donorID, n, e.now())
	e.dataMu.RUnlock()
	if err != nil {
		e.errorCount.Add(1)
		return nil, err
	}

	ranking.RequestID = uuid.NewString()
	if ranking.Fallback {
		e.fallbackCount.Add(1)
	}
	if ranking.Degraded {
		e.degradedCount.Add(1)
	}

	e.storeCache(donorID, n, models.Version, ranking)

	logger.Debug().
		Str("request_id", ranking.RequestID).
		Str("reason", ranking.Reason).
		Bool("degraded", ranking.Degraded).
		Int("returned", len(ranking.Items)).
		Msg("ranking complete")

	return copyRanking(ranking), nil
}

// SearchHit is one free-text search result.
type SearchHit struct {
	CaseID   int      `json:"case_id"`
	Title    string   `json:"title"`
	Category Category `json:"category"`
	Score    float64  `json:"score"`
}

// Search ranks cases against a free-text query. Blank queries return nothing.
func (e *Engine) Search(ctx context.Context, query string, n int) ([]SearchHit, error) {
	models := e.models.Load()
	if models == nil || models.Search == nil {
		return nil, &ModelNotFittedError{Component: ComponentSearchIndex}
	}
	if n <= 0 {
		n = 20
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scored, err := models.Search.Query(query, nil, n)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	e.dataMu.RLock()
	defer e.dataMu.RUnlock()
	if e.data == nil {
		return nil, ErrDatasetNotLoaded
	}

	hits := make([]SearchHit, 0, len(scored))
	for _, s := range scored {
		c, err := e.data.Case(s.CaseID)
		if err != nil {
			continue
		}
		hits = append(hits, SearchHit{CaseID: c.ID, Title: c.Title, Category: c.Category, Score: s.Score})
	}
	return hits, nil
}

// RecommendCategories returns the association-rule category recommendations
// for a donor.
func (e *Engine) RecommendCategories(_ context.Context, donorID int) ([]CategoryScore, error) {
	models := e.models.Load()
	if models == nil || models.Rules == nil || !models.Rules.IsFitted() {
		return nil, &ModelNotFittedError{Component: ComponentRules}
	}

	e.dataMu.RLock()
	defer e.dataMu.RUnlock()
	if e.data == nil {
		return nil, ErrDatasetNotLoaded
	}

	if _, err := e.data.Donor(donorID); err != nil {
		return nil, err
	}
	return models.Rules.RecommendCategories(e.data.DonorCategories(donorID))
}

// FraudAssessment is the fraud score of a case and the review decision.
type FraudAssessment struct {
	CaseID      int     `json:"case_id"`
	Probability float64 `json:"probability"`

	// Fallback is set when the classifier could not be fitted and the
	// conservative default was used.
	Fallback bool `json:"fallback"`

	// NeedsReview routes the case to manual review instead of auto-publish.
	NeedsReview bool `json:"needs_review"`
}

// AssessFraud scores a submitted case, which need not be in the dataset.
func (e *Engine) AssessFraud(_ context.Context, c *Case) (*FraudAssessment, error) {
	models := e.models.Load()
	if models == nil || models.Fraud == nil {
		return nil, &ModelNotFittedError{Component: ComponentFraud}
	}

	assessment := &FraudAssessment{CaseID: c.ID}
	if !models.Fraud.IsFitted() {
		assessment.Probability = e.config.Fraud.DefaultScore
		assessment.Fallback = true
	} else {
		probs, err := models.Fraud.PredictFraudProbability([]Case{*c})
		if err != nil {
			return nil, fmt.Errorf("score case %d: %w", c.ID, err)
		}
		assessment.Probability = probs[0]
	}
	assessment.NeedsReview = assessment.Probability > e.config.Fraud.ReviewThreshold
	return assessment, nil
}

// AssessFraudBatch scores dataset cases by id. Unknown ids are skipped and
// returned separately.
func (e *Engine) AssessFraudBatch(ctx context.Context, caseIDs []int) ([]FraudAssessment, []int, error) {
	var (
		out     []FraudAssessment
		skipped []int
	)
	for _, id := range caseIDs {
		e.dataMu.RLock()
		if e.data == nil {
			e.dataMu.RUnlock()
			return nil, nil, ErrDatasetNotLoaded
		}
		c, err := e.data.Case(id)
		var snapshot Case
		if err == nil {
			snapshot = *c
		}
		e.dataMu.RUnlock()

		if err != nil {
			e.logger.Debug().Int("case_id", id).Msg("skipping unknown case")
			skipped = append(skipped, id)
			continue
		}
		a, err := e.AssessFraud(ctx, &snapshot)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, *a)
	}
	return out, skipped, nil
}

// LikelihoodScore is P(donate) for one donor x case pair.
type LikelihoodScore struct {
	CaseID      int     `json:"case_id"`
	Probability float64 `json:"probability"`
}

// Likelihood scores a donor against cases. Unknown case ids are skipped and
// returned separately; an unknown donor is an error.
func (e *Engine) Likelihood(_ context.Context, donorID int, caseIDs []int) ([]LikelihoodScore, []int, error) {
	models := e.models.Load()
	if models == nil || models.Likelihood == nil {
		return nil, nil, &ModelNotFittedError{Component: ComponentLikelihood}
	}
	if !models.Likelihood.IsFitted() {
		if status, ok := models.Status[ComponentLikelihood]; ok && status.Error != "" {
			return nil, nil, &InsufficientDataError{Component: ComponentLikelihood, Reason: status.Error}
		}
		return nil, nil, &ModelNotFittedError{Component: ComponentLikelihood}
	}

	e.dataMu.RLock()
	if e.data == nil {
		e.dataMu.RUnlock()
		return nil, nil, ErrDatasetNotLoaded
	}
	donor, err := e.data.Donor(donorID)
	if err != nil {
		e.dataMu.RUnlock()
		return nil, nil, err
	}
	var (
		rows    []FeatureVector
		ids     []int
		skipped []int
	)
	for _, id := range caseIDs {
		c, err := e.data.Case(id)
		if err != nil {
			skipped = append(skipped, id)
			continue
		}
		rows = append(rows, LikelihoodFeatures(donor, c))
		ids = append(ids, id)
	}
	e.dataMu.RUnlock()

	if len(rows) == 0 {
		return nil, skipped, nil
	}
	probs, err := models.Likelihood.PredictProbability(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("predict likelihood: %w", err)
	}

	out := make([]LikelihoodScore, len(ids))
	for i, id := range ids {
		out[i] = LikelihoodScore{CaseID: id, Probability: probs[i]}
	}
	return out, skipped, nil
}

// CaseSimilarity returns the content similarity of two cases.
func (e *Engine) CaseSimilarity(a, b int) (float64, error) {
	models := e.models.Load()
	if models == nil || models.Text == nil {
		return 0, &ModelNotFittedError{Component: ComponentTextIndex}
	}
	return models.Text.Similarity(a, b)
}

// Clusters returns the fitted donor segment profiles.
func (e *Engine) Clusters() ([]ClusterProfile, error) {
	models := e.models.Load()
	if models == nil || models.Segments == nil {
		return nil, &ModelNotFittedError{Component: ComponentSegments}
	}
	if models.Segments.Degenerate() {
		return nil, &InsufficientDataError{Component: ComponentSegments, Reason: "no usable donor features"}
	}
	if !models.Segments.IsFitted() {
		return nil, &ModelNotFittedError{Component: ComponentSegments}
	}
	return models.Segments.Profiles(), nil
}

// DonorClusters returns the segment assigned to each donor of the current
// dataset during the last fit. Donors added after the fit are absent.
func (e *Engine) DonorClusters() (map[int]int, error) {
	if _, err := e.Clusters(); err != nil {
		return nil, err
	}
	models := e.models.Load()

	e.dataMu.RLock()
	defer e.dataMu.RUnlock()
	if e.data == nil {
		return nil, ErrDatasetNotLoaded
	}
	out := make(map[int]int, len(e.data.Donors))
	for i := range e.data.Donors {
		if c, ok := models.Segments.ClusterOf(e.data.Donors[i].ID); ok {
			out[e.data.Donors[i].ID] = c
		}
	}
	return out, nil
}

// ApplyDonation records a donation state change in the dataset and drops
// the donor's cached rankings when their completed history changed.
func (e *Engine) ApplyDonation(_ context.Context, d Donation) (bool, error) {
	e.dataMu.Lock()
	if e.data == nil {
		e.dataMu.Unlock()
		return false, ErrDatasetNotLoaded
	}
	changed, err := e.data.ApplyDonation(d)
	e.dataMu.Unlock()
	if err != nil {
		return false, err
	}
	if changed {
		e.InvalidateDonor(d.DonorID)
	}
	return changed, nil
}

// Status returns the training status.
func (e *Engine) Status() TrainingStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.trainStatus
}

// Metrics returns a snapshot of engine counters.
func (e *Engine) Metrics() Metrics {
	e.cacheMu.RLock()
	entries := len(e.cache)
	e.cacheMu.RUnlock()

	m := Metrics{
		Requests:     e.requestCount.Load(),
		CacheHits:    e.cacheHits.Load(),
		CacheMisses:  e.cacheMisses.Load(),
		CacheEntries: entries,
		Fallbacks:    e.fallbackCount.Load(),
		Degraded:     e.degradedCount.Load(),
		Errors:       e.errorCount.Load(),
	}
	if models := e.models.Load(); models != nil {
		m.ModelVersion = models.Version
	}
	return m
}

func copyRanking(r *Ranking) *Ranking {
	out := *r
	out.Items = make([]RankedCase, len(r.Items))
	for i, item := range r.Items {
		scores := make(map[string]float64, len(item.Scores))
		for k, v := range item.Scores {
			scores[k] = v
		}
		item.Scores = scores
		out.Items[i] = item
	}
	out.Signals = make(map[string]SignalState, len(r.Signals))
	for k, v := range r.Signals {
		out.Signals[k] = v
	}
	return &out
}
