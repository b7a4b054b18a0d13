// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

/*
Package config provides centralized configuration management for Almoner.

# Configuration Sources

Configuration is layered with Koanf, later layers overriding earlier ones:

 1. Defaults: built-in values from every component's DefaultConfig
 2. Config file: optional YAML (CONFIG_PATH, ./config.yaml or
    /etc/almoner/config.yaml)
 3. Environment variables: an explicit name to key map

Unmapped environment variables are ignored.

# Configuration Structure

  - Logging: level, format, caller
  - Recommend: every engine parameter (blend weights, thresholds, sizes)
  - Database: DuckDB read model
  - Ledger: BadgerDB recommendation ledger
  - Models: snapshot directory and retention
  - Server: operational HTTP endpoints
  - Retrain: scheduled and event-triggered retraining
  - Events: Watermill event bus

# Environment Variables

Recommendation engine:
  - SIMILARITY_MAX_VOCAB: text index vocabulary cap (default: 1000)
  - SEARCH_MAX_VOCAB: search index vocabulary cap (default: 5000)
  - CLUSTER_K: number of donor segments (default: 5)
  - RULES_MIN_SUPPORT, RULES_MIN_CONFIDENCE: rule thresholds (0.1, 0.5)
  - FRAUD_REVIEW_THRESHOLD: manual review cut-off (default: 0.7)
  - FRAUD_DEFAULT_SCORE: fallback fraud score (default: 0.3)
  - HYBRID_WEIGHT_CONTENT, HYBRID_WEIGHT_CLUSTER, HYBRID_WEIGHT_ASSOCIATION:
    blend weights, must sum to 1.0 (0.4, 0.3, 0.3)
  - HYBRID_TOP_N: default list length (default: 10)
  - TRENDING_WINDOW: popularity look-back (default: 720h)

Storage:
  - DUCKDB_PATH, DUCKDB_THREADS, DUCKDB_MAX_MEMORY
  - LEDGER_PATH, LEDGER_IN_MEMORY, LEDGER_GC_INTERVAL
  - MODELS_DIR, MODELS_KEEP_VERSIONS

Services:
  - HTTP_HOST, HTTP_PORT: operational endpoints (default: 0.0.0.0:9090)
  - RETRAIN_INTERVAL: periodic retraining (default: 6h)
  - RETRAIN_ON_STARTUP: train before serving (default: true)
  - EVENTS_ENABLED: start the event bus (default: true)

The full list is in envMappings.

# Validation

Load fails fast. Struct tags are checked with go-playground/validator and
the recommend section is then checked by recommend.Config.Validate, which
returns a *recommend.ConfigurationError for bad weights or thresholds.
*/
package config
