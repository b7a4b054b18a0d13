// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package algorithms

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/almoner/internal/recommend"
)

// BaseAlgorithm provides the fit state shared by all models.
type BaseAlgorithm struct {
	name      string
	fitted    bool
	fitCount  int
	lastFitAt time.Time
	mu        sync.RWMutex
}

// NewBaseAlgorithm creates a new base with the given component name.
func NewBaseAlgorithm(name string) BaseAlgorithm {
	return BaseAlgorithm{
		name: name,
	}
}

// Name returns the component name.
func (b *BaseAlgorithm) Name() string {
	return b.name
}

// IsFitted returns whether the model has been fitted.
func (b *BaseAlgorithm) IsFitted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fitted
}

// FitCount returns how many times Fit completed on this instance.
func (b *BaseAlgorithm) FitCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fitCount
}

// LastFitAt returns when the model was last fitted.
func (b *BaseAlgorithm) LastFitAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastFitAt
}

// markFitted updates the fit state.
// Must be called while holding the fit lock (acquireFitLock).
func (b *BaseAlgorithm) markFitted() {
	b.fitted = true
	b.fitCount++
	b.lastFitAt = time.Now()
}

// markUnfitted clears the fit state. Must hold the fit lock.
func (b *BaseAlgorithm) markUnfitted() {
	b.fitted = false
}

func (b *BaseAlgorithm) acquireFitLock()     { b.mu.Lock() }
func (b *BaseAlgorithm) releaseFitLock()     { b.mu.Unlock() }
func (b *BaseAlgorithm) acquirePredictLock() { b.mu.RLock() }
func (b *BaseAlgorithm) releasePredictLock() { b.mu.RUnlock() }

// notFitted returns the error for predictions before Fit.
func (b *BaseAlgorithm) notFitted() error {
	return &recommend.ModelNotFittedError{Component: b.name}
}

// envelope wraps encoded model parameters.
type envelope struct {
	Model   string          `json:"model"`
	Format  int             `json:"format"`
	Fitted  bool            `json:"fitted"`
	SavedAt time.Time       `json:"saved_at"`
	State   json.RawMessage `json:"state,omitempty"`
}

// encodeState marshals state into an envelope for the named model.
func encodeState(name string, format int, fitted bool, state any) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode %s state: %w", name, err)
	}
	return json.Marshal(envelope{
		Model:   name,
		Format:  format,
		Fitted:  fitted,
		SavedAt: time.Now().UTC(),
		State:   raw,
	})
}

// decodeState unmarshals an envelope written by encodeState into state.
func decodeState(name string, format int, data []byte, state any) (bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("decode %s envelope: %w", name, err)
	}
	if env.Model != name {
		return false, fmt.Errorf("envelope holds %q, want %q", env.Model, name)
	}
	if env.Format > format {
		return false, fmt.Errorf("%s format %d is newer than supported %d", name, env.Format, format)
	}
	if len(env.State) > 0 {
		if err := json.Unmarshal(env.State, state); err != nil {
			return false, fmt.Errorf("decode %s state: %w", name, err)
		}
	}
	return env.Fitted, nil
}

// cosineSimilarity of two sparse vectors.
func cosineSimilarity(a, b map[int]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}

	var dot float64
	for k, va := range a {
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	na, nb := l2Norm(a), l2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

func l2Norm(v map[int]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// squaredDistance is the squared Euclidean distance of two dense vectors.
func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// clamp01 bounds a probability.
func clamp01(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 0
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// ContextCancelled checks if the context has been cancelled.
func ContextCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// NewModels builds a fresh, unfitted model set. It satisfies
// recommend.ModelFactory.
func NewModels(cfg *recommend.Config) *recommend.Models {
	return &recommend.Models{
		Text: NewTFIDF(recommend.ComponentTextIndex, TFIDFConfig{
			MaxVocab: cfg.Similarity.MaxVocab,
			MinNGram: 1,
			MaxNGram: cfg.Similarity.MaxNGram,
		}),
		Search: NewTFIDF(recommend.ComponentSearchIndex, TFIDFConfig{
			MaxVocab: cfg.Similarity.SearchMaxVocab,
			MinNGram: 1,
			MaxNGram: cfg.Similarity.SearchMaxNGram,
		}),
		Segments: NewKMeans(KMeansConfig{
			MaxIterations: cfg.Cluster.MaxIterations,
			Restarts:      cfg.Cluster.Restarts,
			Seed:          cfg.Seed,
		}),
		Rules: NewApriori(AprioriConfig{
			MinSupport:    cfg.Rules.MinSupport,
			MinConfidence: cfg.Rules.MinConfidence,
		}),
		Likelihood: NewDecisionTree(DecisionTreeConfig{
			MaxDepth:        cfg.Likelihood.MaxDepth,
			MinSamplesSplit: cfg.Likelihood.MinSamplesSplit,
			MinSamplesLeaf:  cfg.Likelihood.MinSamplesLeaf,
		}),
		Fraud: NewNaiveBayes(NaiveBayesConfig{
			Alpha:      cfg.Fraud.Alpha,
			MinLabeled: cfg.Fraud.MinLabeled,
		}),
	}
}

// Interface assertions.
var (
	_ recommend.TextIndex       = (*TFIDF)(nil)
	_ recommend.Segmenter       = (*KMeans)(nil)
	_ recommend.RuleMiner       = (*Apriori)(nil)
	_ recommend.LikelihoodModel = (*DecisionTree)(nil)
	_ recommend.FraudModel      = (*NaiveBayes)(nil)
	_ recommend.ModelFactory    = NewModels
)
