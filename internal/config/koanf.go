// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/almoner/config.yaml",
	"/etc/almoner/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config
// file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load reads configuration from defaults, the first config file found and
// the environment, then validates it.
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer. A named file that does not exist is an error.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables
	// HYBRID_WEIGHT_CONTENT -> recommend.hybrid.weights.content
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns CONFIG_PATH when it exists, else the first default
// path found, else "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they arrive as
// strings from the environment.
var sliceConfigPaths = []string{
	"recommend.cluster.feature_groups",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config keys.
var envMappings = map[string]string{
	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Recommendation engine
	"similarity_max_vocab":              "recommend.similarity.max_vocab",
	"similarity_max_ngram":              "recommend.similarity.max_ngram",
	"search_max_vocab":                  "recommend.similarity.search_max_vocab",
	"search_max_ngram":                  "recommend.similarity.search_max_ngram",
	"cluster_k":                         "recommend.cluster.k",
	"cluster_max_iterations":            "recommend.cluster.max_iterations",
	"cluster_restarts":                  "recommend.cluster.restarts",
	"cluster_feature_groups":            "recommend.cluster.feature_groups",
	"rules_min_support":                 "recommend.rules.min_support",
	"rules_min_confidence":              "recommend.rules.min_confidence",
	"likelihood_max_depth":              "recommend.likelihood.max_depth",
	"likelihood_negatives_per_positive": "recommend.likelihood.negatives_per_positive",
	"fraud_alpha":                       "recommend.fraud.alpha",
	"fraud_min_labeled":                 "recommend.fraud.min_labeled",
	"fraud_default_score":               "recommend.fraud.default_score",
	"fraud_review_threshold":            "recommend.fraud.review_threshold",
	"hybrid_weight_content":             "recommend.hybrid.weights.content",
	"hybrid_weight_cluster":             "recommend.hybrid.weights.cluster",
	"hybrid_weight_association":         "recommend.hybrid.weights.association",
	"hybrid_top_n":                      "recommend.hybrid.top_n",
	"hybrid_max_n":                      "recommend.hybrid.max_n",
	"trending_window":                   "recommend.trending.window",
	"training_timeout":                  "recommend.training.timeout",
	"training_min_cases":                "recommend.training.min_cases",
	"cache_enabled":                     "recommend.cache.enabled",
	"cache_ttl":                         "recommend.cache.ttl",
	"cache_max_entries":                 "recommend.cache.max_entries",
	"recommend_seed":                    "recommend.seed",

	// Read model
	"duckdb_path":          "database.path",
	"duckdb_threads":       "database.threads",
	"duckdb_max_memory":    "database.max_memory",
	"duckdb_query_timeout": "database.query_timeout",

	// Ledger
	"ledger_path":        "ledger.path",
	"ledger_in_memory":   "ledger.in_memory",
	"ledger_sync_writes": "ledger.sync_writes",
	"ledger_gc_interval": "ledger.gc_interval",

	// Model snapshots
	"models_dir":             "models.dir",
	"models_keep_versions":   "models.keep_versions",
	"models_load_on_startup": "models.load_on_startup",

	// HTTP server
	"http_enabled":             "server.enabled",
	"http_host":                "server.host",
	"http_port":                "server.port",
	"http_read_timeout":        "server.read_timeout",
	"http_write_timeout":       "server.write_timeout",
	"http_shutdown_timeout":    "server.shutdown_timeout",
	"http_rate_limit_requests": "server.rate_limit_requests",
	"http_rate_limit_window":   "server.rate_limit_window",
	"http_max_body_bytes":      "server.max_body_bytes",

	// Retraining
	"retrain_interval":           "retrain.interval",
	"retrain_on_startup":         "retrain.on_startup",
	"retrain_donation_threshold": "retrain.donation_threshold",
	"retrain_min_interval":       "retrain.min_interval",
	"retrain_breaker_failures":   "retrain.breaker_failures",
	"retrain_breaker_timeout":    "retrain.breaker_timeout",

	// Event bus
	"events_enabled":            "events.enabled",
	"events_buffer_size":        "events.buffer_size",
	"events_retry_max_retries":  "events.retry_max_retries",
	"events_poison_queue_topic": "events.poison_queue_topic",
	"events_deduplication_ttl":  "events.deduplication_ttl",
	"events_refresh_interval":   "events.refresh_interval",
}

// envTransformFunc maps an environment variable name to its config key.
// Unmapped keys return "" and are skipped, so unrelated environment
// variables never pollute the config.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
