// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package algorithms

import (
	"context"
	"fmt"
	"math"

	"github.com/tomtom215/almoner/internal/recommend"
)

const naiveBayesFormat = 1

// NaiveBayes is a multinomial naive Bayes fraud classifier over the
// structural case features of recommend.FraudEncoder, with additive
// (Laplace) smoothing. Amount and description-length bins are relative to
// the labeled cases seen at fit time.
type NaiveBayes struct {
	BaseAlgorithm

	alpha      float64
	minLabeled int

	// Fitted state
	encoder      *recommend.FraudEncoder
	classPrior   [2]float64   // log P(class)
	featureProbs [2][]float64 // log P(feature | class)
}

// NaiveBayesConfig contains configuration for NaiveBayes.
type NaiveBayesConfig struct {
	Alpha      float64
	MinLabeled int
}

// NewNaiveBayes creates an unfitted classifier.
func NewNaiveBayes(cfg NaiveBayesConfig) *NaiveBayes {
	if cfg.Alpha <= 0 {
		cfg.Alpha = 1.0
	}
	if cfg.MinLabeled <= 0 {
		cfg.MinLabeled = 50
	}

	return &NaiveBayes{
		BaseAlgorithm: NewBaseAlgorithm(recommend.ComponentFraud),
		alpha:         cfg.Alpha,
		minLabeled:    cfg.MinLabeled,
	}
}

// Fit trains on labeled cases. Too few cases, or cases of only one class,
// leave the classifier unfitted.
func (nb *NaiveBayes) Fit(ctx context.Context, cases []recommend.Case, labels []bool) error {
	if len(cases) != len(labels) {
		return fmt.Errorf("%s: %d cases but %d labels", nb.name, len(cases), len(labels))
	}
	if len(cases) < nb.minLabeled {
		nb.reset()
		return &recommend.InsufficientDataError{
			Component: nb.name,
			Reason:    "too few labeled cases",
			Have:      len(cases),
			Need:      nb.minLabeled,
		}
	}

	var classCount [2]int
	for _, fraud := range labels {
		classCount[classIndex(fraud)]++
	}
	if classCount[0] == 0 || classCount[1] == 0 {
		nb.reset()
		return &recommend.InsufficientDataError{Component: nb.name, Reason: "labeled cases cover only one class"}
	}

	enc := recommend.NewFraudEncoder(cases)
	width := len(recommend.FraudFeatureNames)
	var featureCount [2][]float64
	featureCount[0] = make([]float64, width)
	featureCount[1] = make([]float64, width)
	for i := range cases {
		if i%1024 == 0 && ContextCancelled(ctx) {
			return ctx.Err()
		}
		c := classIndex(labels[i])
		for j, v := range enc.Encode(&cases[i]).Numeric {
			featureCount[c][j] += math.Abs(v)
		}
	}

	var prior [2]float64
	var probs [2][]float64
	n := float64(len(cases))
	for c := 0; c < 2; c++ {
		prior[c] = math.Log(float64(classCount[c]) / n)

		var total float64
		for _, v := range featureCount[c] {
			total += v
		}
		denom := total + nb.alpha*float64(width)
		probs[c] = make([]float64, width)
		for j, v := range featureCount[c] {
			probs[c][j] = math.Log((v + nb.alpha) / denom)
		}
	}

	nb.acquireFitLock()
	defer nb.releaseFitLock()

	nb.encoder = enc
	nb.classPrior = prior
	nb.featureProbs = probs
	nb.markFitted()
	return nil
}

func (nb *NaiveBayes) reset() {
	nb.acquireFitLock()
	defer nb.releaseFitLock()

	nb.encoder = nil
	nb.classPrior = [2]float64{}
	nb.featureProbs = [2][]float64{}
	nb.markUnfitted()
}

func classIndex(fraud bool) int {
	if fraud {
		return 1
	}
	return 0
}

// PredictFraudProbability returns P(fraud) per case.
func (nb *NaiveBayes) PredictFraudProbability(cases []recommend.Case) ([]float64, error) {
	nb.acquirePredictLock()
	defer nb.releasePredictLock()

	if !nb.fitted {
		return nil, nb.notFitted()
	}

	out := make([]float64, len(cases))
	for i := range cases {
		x := nb.encoder.Encode(&cases[i]).Numeric
		var jll [2]float64
		for c := 0; c < 2; c++ {
			jll[c] = nb.classPrior[c]
			for j, v := range x {
				jll[c] += math.Abs(v) * nb.featureProbs[c][j]
			}
		}
		hi := math.Max(jll[0], jll[1])
		logNorm := hi + math.Log(math.Exp(jll[0]-hi)+math.Exp(jll[1]-hi))
		out[i] = clamp01(math.Exp(jll[1] - logNorm))
	}
	return out, nil
}

type naiveBayesState struct {
	Alpha        float64                 `json:"alpha"`
	MinLabeled   int                     `json:"min_labeled"`
	Encoder      *recommend.FraudEncoder `json:"encoder,omitempty"`
	ClassPrior   [2]float64              `json:"class_prior"`
	FeatureProbs [2][]float64            `json:"feature_log_prob"`
}

// MarshalModel encodes priors, likelihoods and the quantile edges.
func (nb *NaiveBayes) MarshalModel() ([]byte, error) {
	nb.acquirePredictLock()
	defer nb.releasePredictLock()

	return encodeState(nb.name, naiveBayesFormat, nb.fitted, naiveBayesState{
		Alpha:        nb.alpha,
		MinLabeled:   nb.minLabeled,
		Encoder:      nb.encoder,
		ClassPrior:   nb.classPrior,
		FeatureProbs: nb.featureProbs,
	})
}

// UnmarshalModel restores state written by MarshalModel.
func (nb *NaiveBayes) UnmarshalModel(data []byte) error {
	var st naiveBayesState
	fitted, err := decodeState(nb.name, naiveBayesFormat, data, &st)
	if err != nil {
		return err
	}
	if fitted {
		width := len(recommend.FraudFeatureNames)
		if st.Encoder == nil || len(st.FeatureProbs[0]) != width || len(st.FeatureProbs[1]) != width {
			return fmt.Errorf("%s: fitted state has wrong feature width", nb.name)
		}
	}

	nb.acquireFitLock()
	defer nb.releaseFitLock()

	if st.Alpha > 0 {
		nb.alpha = st.Alpha
	}
	if st.MinLabeled > 0 {
		nb.minLabeled = st.MinLabeled
	}
	nb.encoder = st.Encoder
	nb.classPrior = st.ClassPrior
	nb.featureProbs = st.FeatureProbs
	if fitted {
		nb.markFitted()
	} else {
		nb.markUnfitted()
	}
	return nil
}
