// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"math"
	"time"
)

// weightTolerance is the allowed deviation of the blend weight sum from 1.0.
const weightTolerance = 1e-9

// Config contains all configuration for the recommendation engine.
type Config struct {
	// Similarity contains text index parameters.
	Similarity SimilarityConfig `koanf:"similarity" json:"similarity"`

	// Cluster contains donor segmentation parameters.
	Cluster ClusterConfig `koanf:"cluster" json:"cluster"`

	// Rules contains association rule thresholds.
	Rules RulesConfig `koanf:"rules" json:"rules"`

	// Likelihood contains decision tree parameters.
	Likelihood LikelihoodConfig `koanf:"likelihood" json:"likelihood"`

	// Fraud contains fraud classifier parameters and the review policy.
	Fraud FraudConfig `koanf:"fraud" json:"fraud"`

	// Hybrid contains blending parameters.
	Hybrid HybridConfig `koanf:"hybrid" json:"hybrid"`

	// Trending contains the cold-start fallback parameters.
	Trending TrendingConfig `koanf:"trending" json:"trending"`

	// Training contains batch training parameters.
	Training TrainingConfig `koanf:"training" json:"training"`

	// Cache contains ranking cache parameters.
	Cache CacheConfig `koanf:"cache" json:"cache"`

	// Seed is the random seed shared by every seeded model.
	Seed int64 `koanf:"seed" json:"seed"`
}

// SimilarityConfig configures the two text indexes.
type SimilarityConfig struct {
	// MaxVocab caps the recommendation index vocabulary. Default: 1000.
	MaxVocab int `koanf:"max_vocab" json:"max_vocab"`

	// MaxNGram is the largest n-gram for the recommendation index. Default: 2.
	MaxNGram int `koanf:"max_ngram" json:"max_ngram"`

	// SearchMaxVocab caps the search index vocabulary. Default: 5000.
	SearchMaxVocab int `koanf:"search_max_vocab" json:"search_max_vocab"`

	// SearchMaxNGram is the largest n-gram for the search index. Default: 3.
	SearchMaxNGram int `koanf:"search_max_ngram" json:"search_max_ngram"`
}

// ClusterConfig configures k-means segmentation.
type ClusterConfig struct {
	// K is the number of donor segments. Default: 5.
	K int `koanf:"k" json:"k"`

	// MaxIterations bounds Lloyd iterations per run. Default: 300.
	MaxIterations int `koanf:"max_iterations" json:"max_iterations"`

	// Restarts is the number of seeded k-means++ initialisations. Default: 10.
	Restarts int `koanf:"restarts" json:"restarts"`

	// FeatureGroups selects donor feature groups: amounts, frequency,
	// categories, demographics. Default: all four.
	FeatureGroups []string `koanf:"feature_groups" json:"feature_groups"`
}

// RulesConfig configures association rule mining.
type RulesConfig struct {
	// MinSupport is the co-occurrence floor over all donors. Default: 0.1.
	MinSupport float64 `koanf:"min_support" json:"min_support"`

	// MinConfidence is the confidence floor. Default: 0.5.
	MinConfidence float64 `koanf:"min_confidence" json:"min_confidence"`
}

// LikelihoodConfig configures the donation likelihood tree.
type LikelihoodConfig struct {
	MaxDepth        int `koanf:"max_depth" json:"max_depth"`
	MinSamplesSplit int `koanf:"min_samples_split" json:"min_samples_split"`
	MinSamplesLeaf  int `koanf:"min_samples_leaf" json:"min_samples_leaf"`

	// NegativesPerPositive bounds synthetic negatives when no ledger is
	// available. Default: 3.
	NegativesPerPositive int `koanf:"negatives_per_positive" json:"negatives_per_positive"`
}

// FraudConfig configures the fraud classifier and review policy.
type FraudConfig struct {
	// Alpha is the additive smoothing parameter. Default: 1.0.
	Alpha float64 `koanf:"alpha" json:"alpha"`

	// MinLabeled is the labeled case count required to fit. Default: 50.
	MinLabeled int `koanf:"min_labeled" json:"min_labeled"`

	// DefaultScore is used when the classifier could not be fit. Default: 0.3.
	DefaultScore float64 `koanf:"default_score" json:"default_score"`

	// ReviewThreshold routes cases scoring above it to manual review. Default: 0.7.
	ReviewThreshold float64 `koanf:"review_threshold" json:"review_threshold"`
}

// BlendWeights are the per-signal weights of the hybrid score.
type BlendWeights struct {
	Content     float64 `koanf:"content" json:"content"`
	Cluster     float64 `koanf:"cluster" json:"cluster"`
	Association float64 `koanf:"association" json:"association"`
}

// Sum returns the total of all weights.
func (w BlendWeights) Sum() float64 {
	return w.Content + w.Cluster + w.Association
}

// ToMap returns weights keyed by signal name.
func (w BlendWeights) ToMap() map[string]float64 {
	return map[string]float64{
		SignalContent:     w.Content,
		SignalCluster:     w.Cluster,
		SignalAssociation: w.Association,
	}
}

// HybridConfig configures blending.
type HybridConfig struct {
	Weights BlendWeights `koanf:"weights" json:"weights"`

	// TopN is the default result list length. Default: 10.
	TopN int `koanf:"top_n" json:"top_n"`

	// MaxN caps caller supplied lengths. Default: 100.
	MaxN int `koanf:"max_n" json:"max_n"`

	// CandidateMultiplier sets how many candidates each signal contributes
	// relative to the requested length. Default: 2.
	CandidateMultiplier int `koanf:"candidate_multiplier" json:"candidate_multiplier"`
}

// TrendingConfig configures the popularity fallback.
type TrendingConfig struct {
	// Window is the look-back period for recent donations. Default: 30 days.
	Window time.Duration `koanf:"window" json:"window"`
}

// TrainingConfig contains batch training parameters.
type TrainingConfig struct {
	// Timeout is the maximum time allowed for a training run. Default: 10m.
	Timeout time.Duration `koanf:"timeout" json:"timeout"`

	// MinCases is the minimum number of cases required to train. Default: 1.
	MinCases int `koanf:"min_cases" json:"min_cases"`
}

// CacheConfig contains ranking cache parameters.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled" json:"enabled"`
	TTL        time.Duration `koanf:"ttl" json:"ttl"`
	MaxEntries int           `koanf:"max_entries" json:"max_entries"`
}

// Donor feature groups.
const (
	FeatureGroupAmounts      = "amounts"
	FeatureGroupFrequency    = "frequency"
	FeatureGroupCategories   = "categories"
	FeatureGroupDemographics = "demographics"
)

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Similarity: SimilarityConfig{
			MaxVocab:       1000,
			MaxNGram:       2,
			SearchMaxVocab: 5000,
			SearchMaxNGram: 3,
		},
		Cluster: ClusterConfig{
			K:             5,
			MaxIterations: 300,
			Restarts:      10,
			FeatureGroups: []string{
				FeatureGroupAmounts,
				FeatureGroupFrequency,
				FeatureGroupCategories,
				FeatureGroupDemographics,
			},
		},
		Rules: RulesConfig{
			MinSupport:    0.1,
			MinConfidence: 0.5,
		},
		Likelihood: LikelihoodConfig{
			MaxDepth:             10,
			MinSamplesSplit:      5,
			MinSamplesLeaf:       2,
			NegativesPerPositive: 3,
		},
		Fraud: FraudConfig{
			Alpha:           1.0,
			MinLabeled:      50,
			DefaultScore:    0.3,
			ReviewThreshold: 0.7,
		},
		Hybrid: HybridConfig{
			Weights: BlendWeights{
				Content:     0.4,
				Cluster:     0.3,
				Association: 0.3,
			},
			TopN:                10,
			MaxN:                100,
			CandidateMultiplier: 2,
		},
		Trending: TrendingConfig{
			Window: 30 * 24 * time.Hour,
		},
		Training: TrainingConfig{
			Timeout:  10 * time.Minute,
			MinCases: 1,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
		},
		Seed: 42,
	}
}

// Validate checks the configuration. Every failure is a *ConfigurationError.
func (c *Config) Validate() error {
	if err := validateWeights(c.Hybrid.Weights); err != nil {
		return err
	}
	if c.Hybrid.TopN < 1 {
		return configErrorf("hybrid.top_n", "must be positive, got %d", c.Hybrid.TopN)
	}
	if c.Hybrid.MaxN < c.Hybrid.TopN {
		return configErrorf("hybrid.max_n", "must be >= hybrid.top_n, got %d < %d", c.Hybrid.MaxN, c.Hybrid.TopN)
	}
	if c.Hybrid.CandidateMultiplier < 1 {
		return configErrorf("hybrid.candidate_multiplier", "must be positive, got %d", c.Hybrid.CandidateMultiplier)
	}

	if c.Similarity.MaxVocab < 1 {
		return configErrorf("similarity.max_vocab", "must be positive, got %d", c.Similarity.MaxVocab)
	}
	if c.Similarity.SearchMaxVocab < 1 {
		return configErrorf("similarity.search_max_vocab", "must be positive, got %d", c.Similarity.SearchMaxVocab)
	}
	if c.Similarity.MaxNGram < 1 || c.Similarity.SearchMaxNGram < 1 {
		return configErrorf("similarity.max_ngram", "n-gram sizes must be positive")
	}

	if c.Cluster.K < 1 {
		return configErrorf("cluster.k", "must be positive, got %d", c.Cluster.K)
	}
	if c.Cluster.MaxIterations < 1 {
		return configErrorf("cluster.max_iterations", "must be positive, got %d", c.Cluster.MaxIterations)
	}
	if c.Cluster.Restarts < 1 {
		return configErrorf("cluster.restarts", "must be positive, got %d", c.Cluster.Restarts)
	}
	for _, g := range c.Cluster.FeatureGroups {
		switch g {
		case FeatureGroupAmounts, FeatureGroupFrequency, FeatureGroupCategories, FeatureGroupDemographics:
		default:
			return configErrorf("cluster.feature_groups", "unknown group %q", g)
		}
	}

	if err := validateUnit("rules.min_support", c.Rules.MinSupport); err != nil {
		return err
	}
	if err := validateUnit("rules.min_confidence", c.Rules.MinConfidence); err != nil {
		return err
	}

	if c.Likelihood.MaxDepth < 1 {
		return configErrorf("likelihood.max_depth", "must be positive, got %d", c.Likelihood.MaxDepth)
	}
	if c.Likelihood.MinSamplesSplit < 2 {
		return configErrorf("likelihood.min_samples_split", "must be >= 2, got %d", c.Likelihood.MinSamplesSplit)
	}
	if c.Likelihood.MinSamplesLeaf < 1 {
		return configErrorf("likelihood.min_samples_leaf", "must be positive, got %d", c.Likelihood.MinSamplesLeaf)
	}
	if c.Likelihood.NegativesPerPositive < 0 {
		return configErrorf("likelihood.negatives_per_positive", "must be non-negative, got %d", c.Likelihood.NegativesPerPositive)
	}

	if c.Fraud.Alpha <= 0 {
		return configErrorf("fraud.alpha", "must be positive, got %f", c.Fraud.Alpha)
	}
	if c.Fraud.MinLabeled < 1 {
		return configErrorf("fraud.min_labeled", "must be positive, got %d", c.Fraud.MinLabeled)
	}
	if err := validateUnit("fraud.default_score", c.Fraud.DefaultScore); err != nil {
		return err
	}
	if err := validateUnit("fraud.review_threshold", c.Fraud.ReviewThreshold); err != nil {
		return err
	}

	if c.Trending.Window <= 0 {
		return configErrorf("trending.window", "must be positive, got %v", c.Trending.Window)
	}
	if c.Training.Timeout <= 0 {
		return configErrorf("training.timeout", "must be positive, got %v", c.Training.Timeout)
	}
	if c.Training.MinCases < 0 {
		return configErrorf("training.min_cases", "must be non-negative, got %d", c.Training.MinCases)
	}
	if c.Cache.Enabled && c.Cache.MaxEntries < 1 {
		return configErrorf("cache.max_entries", "must be positive when cache is enabled, got %d", c.Cache.MaxEntries)
	}

	return nil
}

func validateWeights(w BlendWeights) error {
	for name, v := range w.ToMap() {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return configErrorf("hybrid.weights."+name, "must be in [0, 1], got %f", v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return configErrorf("hybrid.weights", "must sum to 1.0, got %.12f", sum)
	}
	return nil
}

func validateUnit(field string, v float64) error {
	if v < 0 || v > 1 || math.IsNaN(v) {
		return configErrorf(field, "must be in [0, 1], got %f", v)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Cluster.FeatureGroups = append([]string(nil), c.Cluster.FeatureGroups...)
	return &out
}

// HasFeatureGroup reports whether the donor feature group is enabled.
func (c *ClusterConfig) HasFeatureGroup(group string) bool {
	for _, g := range c.FeatureGroups {
		if g == group {
			return true
		}
	}
	return false
}
