// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"context"
	"time"
)

// Component names used in logs, errors, metrics and snapshot files.
const (
	ComponentTextIndex   = "text_index"
	ComponentSearchIndex = "search_index"
	ComponentSegments    = "segmentation"
	ComponentRules       = "association_rules"
	ComponentLikelihood  = "donation_likelihood"
	ComponentFraud       = "fraud_risk"
)

// Model is the lifecycle shared by every fitted component. Fit replaces all
// previously learned parameters and must not run concurrently with itself on
// the same instance. Read methods are safe for concurrent use once fitted.
type Model interface {
	// Name returns the component name.
	Name() string

	// IsFitted reports whether Fit completed.
	IsFitted() bool

	// MarshalModel encodes the fitted parameters in a versioned format.
	MarshalModel() ([]byte, error)

	// UnmarshalModel replaces the parameters with a previously marshaled state.
	UnmarshalModel(data []byte) error
}

// Document is one entry of a text corpus.
type Document struct {
	ID   int
	Text string
}

// TextIndex is a term-weighted vector space over case text.
type TextIndex interface {
	Model

	// Fit builds the vocabulary and weights. An empty corpus is valid.
	Fit(ctx context.Context, docs []Document) error

	// SimilarTo ranks documents by cosine similarity to the mean vector of
	// the anchor documents. Anchors and excluded ids never appear in the result.
	SimilarTo(anchorIDs []int, exclude map[int]struct{}, k int) ([]CaseScore, error)

	// Query ranks documents against free text. Zero-similarity documents are
	// dropped.
	Query(text string, exclude map[int]struct{}, k int) ([]CaseScore, error)

	// Similarity returns the cosine similarity of two indexed documents.
	Similarity(a, b int) (float64, error)
}

// DonorSample is one row of the segmentation training set.
type DonorSample struct {
	DonorID    int
	Features   FeatureVector
	Categories []Category
}

// ClusterProfile summarises one fitted segment.
type ClusterProfile struct {
	ID          int              `json:"id"`
	Size        int              `json:"size"`
	Preferences map[Category]int `json:"preferences"`
}

// Segmenter clusters donors into behavioural segments.
type Segmenter interface {
	Model

	// Fit clusters the samples into k segments and records per-segment
	// category counts. Zero feature columns yield *InsufficientDataError and
	// a degenerate model whose scores are all 0.
	Fit(ctx context.Context, samples []DonorSample, k int) error

	// PredictCluster assigns a feature vector to the nearest centroid.
	PredictCluster(v FeatureVector) (int, error)

	// ClusterOf returns the segment assigned to a donor during Fit.
	ClusterOf(donorID int) (int, bool)

	// RecommendForCluster scores candidates by their category's share of the
	// segment's donations. Cases in unseen categories score 0.
	RecommendForCluster(clusterID int, candidates []Case, k int) ([]CaseScore, error)

	// Profiles returns every segment summary.
	Profiles() []ClusterProfile

	// Degenerate reports whether the last Fit had no usable feature columns.
	Degenerate() bool
}

// Rule is a directed category association.
type Rule struct {
	Antecedent Category `json:"antecedent"`
	Consequent Category `json:"consequent"`
	Support    float64  `json:"support"`
	Confidence float64  `json:"confidence"`
}

// RuleMiner mines category co-occurrence rules.
type RuleMiner interface {
	Model

	// Fit mines rules from per-donor category sets.
	Fit(ctx context.Context, transactions [][]Category) error

	// RecommendCategories returns consequents reachable from the donor's
	// categories, excluding those categories, by descending confidence.
	RecommendCategories(donated []Category) ([]CategoryScore, error)

	// Rules returns every retained rule.
	Rules() []Rule
}

// LikelihoodModel predicts the probability that a donor gives to a case.
type LikelihoodModel interface {
	Model

	// Fit trains on labeled donor x case rows. It does not rebalance classes.
	Fit(ctx context.Context, rows []FeatureVector, labels []bool) error

	// PredictProbability returns P(donate) in [0, 1] per row.
	PredictProbability(rows []FeatureVector) ([]float64, error)
}

// FraudModel scores submitted cases for fraud risk.
type FraudModel interface {
	Model

	// Fit trains on labeled cases. Fewer labeled cases than the configured
	// minimum yields *InsufficientDataError and leaves the model unfitted.
	Fit(ctx context.Context, cases []Case, labels []bool) error

	// PredictFraudProbability returns P(fraud) in [0, 1] per case.
	PredictFraudProbability(cases []Case) ([]float64, error)
}

// Models is one complete set of fitted components. A published Models value
// is never mutated.
type Models struct {
	Text       TextIndex
	Search     TextIndex
	Segments   Segmenter
	Rules      RuleMiner
	Likelihood LikelihoodModel
	Fraud      FraudModel

	// Status records the fit outcome per component.
	Status map[string]ModelStatus

	Version   int
	TrainedAt time.Time
}

// ModelStatus is the fit outcome of one component.
type ModelStatus struct {
	Fitted     bool          `json:"fitted"`
	Degenerate bool          `json:"degenerate,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// All returns every component in a stable order.
func (m *Models) All() []Model {
	return []Model{m.Text, m.Search, m.Segments, m.Rules, m.Likelihood, m.Fraud}
}

// ModelFactory builds a fresh, unfitted set of components.
type ModelFactory func(cfg *Config) *Models
