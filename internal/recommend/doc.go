// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

// Package recommend implements the hybrid recommendation engine for charity cases.
//
// # Architecture
//
// Five independently fitted models feed one ranking pipeline:
//
//   - Text similarity: TF-IDF over case title, description and tags
//   - Donor segmentation: k-means over donor behaviour and demographics
//   - Association rules: category co-occurrence mined from donation history
//   - Donation likelihood: decision tree over donor x case features
//   - Fraud risk: multinomial naive Bayes over case structural features
//
// The HybridRanker blends the content, cluster and association signals with
// configurable weights. Donors without completed donations receive the
// trending fallback instead ("Popular this month").
//
// The concrete model implementations live in the algorithms subpackage. This
// package only defines their contracts so it stays free of internal imports.
//
// # Lifecycle
//
//	cfg := recommend.DefaultConfig()
//	engine, err := recommend.NewEngine(cfg, algorithms.NewModels, logger)
//	engine.SetDataProvider(store)
//
//	// Batch job, outside the request path
//	if err := engine.Train(ctx); err != nil { ... }
//
//	// Serving path
//	ranking, err := engine.Recommend(ctx, donorID, 10)
//
// # Thread Safety
//
// Every training run builds fresh model instances, fits them, and publishes
// them with an atomic pointer swap. Fitted models are never mutated while
// serving, so ranking, search and scoring calls may run concurrently with a
// retrain. Cached rankings are dropped on every swap and whenever a donor's
// donation history changes.
//
// # Errors
//
// InsufficientDataError, UnknownEntityError, ConfigurationError and
// ModelNotFittedError are distinct types. Callers use errors.Is with the
// package sentinels or errors.As to inspect fields.
package recommend
