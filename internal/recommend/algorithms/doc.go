// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

// Package algorithms implements the fitted models behind the hybrid engine.
//
//   - TFIDF: term-weighted text index for content similarity and search
//   - KMeans: donor segmentation with per-segment category preferences
//   - Apriori: pairwise category association rules
//   - DecisionTree: CART classifier for donation likelihood
//   - NaiveBayes: multinomial naive Bayes for fraud risk
//
// # Thread Safety
//
// Fit acquires an exclusive lock while predictions use a shared lock, so a
// model is never observed half-fitted. The engine additionally fits fresh
// instances and swaps them in, so serving never waits on a fit.
//
// # Serialization
//
// Every model encodes its parameters as JSON inside a versioned envelope.
// Decoding rejects envelopes written by another model or a newer format.
//
// # Usage Example
//
//	idx := algorithms.NewTFIDF(recommend.ComponentTextIndex, algorithms.TFIDFConfig{
//	    MaxVocab: 1000,
//	    MaxNGram: 2,
//	})
//	if err := idx.Fit(ctx, docs); err != nil {
//	    return err
//	}
//	scores, err := idx.SimilarTo([]int{12, 40}, exclude, 10)
//
// NewModels builds a complete unfitted set from a recommend.Config and is the
// factory handed to recommend.NewEngine.
package algorithms
