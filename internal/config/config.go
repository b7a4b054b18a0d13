// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/almoner/internal/database"
	"github.com/tomtom215/almoner/internal/events"
	"github.com/tomtom215/almoner/internal/ledger"
	"github.com/tomtom215/almoner/internal/logging"
	"github.com/tomtom215/almoner/internal/recommend"
	"github.com/tomtom215/almoner/internal/validation"
)

// Config holds all application configuration.
type Config struct {
	Logging   logging.Config   `koanf:"logging"`
	Recommend recommend.Config `koanf:"recommend"`
	Database  database.Config  `koanf:"database"`
	Ledger    ledger.Config    `koanf:"ledger"`
	Models    ModelsConfig     `koanf:"models"`
	Server    ServerConfig     `koanf:"server"`
	Retrain   RetrainConfig    `koanf:"retrain"`
	Events    events.Config    `koanf:"events"`
}

// ModelsConfig configures the model snapshot store.
type ModelsConfig struct {
	// Dir holds the snapshot files.
	Dir string `koanf:"dir" validate:"required"`

	// KeepVersions is how many versions of each component survive pruning.
	KeepVersions int `koanf:"keep_versions" validate:"gte=1"`

	// LoadOnStartup restores the latest snapshot before the first training
	// run completes.
	LoadOnStartup bool `koanf:"load_on_startup"`
}

// ServerConfig configures the HTTP server: the JSON API used by the platform
// and the health, readiness, metrics and status endpoints.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host" validate:"required_if=Enabled true"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`

	// RateLimitRequests per RateLimitWindow and client IP on /v1. Zero
	// disables rate limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gte=0"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"gte=1024"`
}

// RetrainConfig configures the retraining service.
type RetrainConfig struct {
	// Interval between scheduled training runs. Zero disables the schedule.
	Interval time.Duration `koanf:"interval" validate:"gte=0"`

	// OnStartup trains once when the service starts.
	OnStartup bool `koanf:"on_startup"`

	// DonationThreshold is the number of newly completed donations that
	// triggers an early retrain. Zero disables event-triggered retrains.
	DonationThreshold int `koanf:"donation_threshold" validate:"gte=0"`

	// MinInterval is the minimum spacing between event-triggered retrains.
	MinInterval time.Duration `koanf:"min_interval" validate:"gte=0"`

	// BreakerFailures opens the dataset circuit breaker after this many
	// consecutive load failures.
	BreakerFailures uint32 `koanf:"breaker_failures" validate:"gte=1"`

	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// DefaultModelsConfig returns production defaults for the snapshot store.
func DefaultModelsConfig() ModelsConfig {
	return ModelsConfig{
		Dir:           "/var/lib/almoner/models",
		KeepVersions:  3,
		LoadOnStartup: true,
	}
}

// DefaultServerConfig returns production defaults for the HTTP server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Enabled:           true,
		Host:              "0.0.0.0",
		Port:              9090,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RateLimitRequests: 600,
		RateLimitWindow:   time.Minute,
		MaxBodyBytes:      1 << 20,
	}
}

// DefaultRetrainConfig returns production defaults for retraining.
func DefaultRetrainConfig() RetrainConfig {
	return RetrainConfig{
		Interval:          6 * time.Hour,
		OnStartup:         true,
		DonationThreshold: 100,
		MinInterval:       15 * time.Minute,
		BreakerFailures:   3,
		BreakerTimeout:    time.Minute,
	}
}

// defaultConfig returns a Config with every default applied. Defaults are
// loaded first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Logging:   logging.DefaultConfig(),
		Recommend: *recommend.DefaultConfig(),
		Database:  database.DefaultConfig(),
		Ledger:    ledger.DefaultConfig(),
		Models:    DefaultModelsConfig(),
		Server:    DefaultServerConfig(),
		Retrain:   DefaultRetrainConfig(),
		Events:    events.DefaultConfig(),
	}
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	return defaultConfig()
}

// Validate checks the configuration. Struct tags are checked first, then the
// recommend section's own rules.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.Recommend.Validate(); err != nil {
		return err
	}
	if c.Ledger.Path == "" && !c.Ledger.InMemory {
		return fmt.Errorf("ledger.path is required unless ledger.in_memory is set")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
