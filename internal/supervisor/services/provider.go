// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/almoner/internal/metrics"
	"github.com/tomtom215/almoner/internal/recommend"
)

// ErrProviderUnavailable is returned while the breaker is open.
var ErrProviderUnavailable = errors.New("dataset provider unavailable")

// GuardedProviderConfig configures the circuit breaker around dataset loads.
type GuardedProviderConfig struct {
	// Name labels the breaker in logs and metrics.
	Name string

	// MaxFailures is the number of consecutive failed loads that opens the
	// breaker.
	MaxFailures uint32

	// Timeout is how long the breaker stays open before a trial load.
	Timeout time.Duration
}

// GuardedProvider wraps a recommend.DataProvider with a circuit breaker so a
// failing read model is not hammered by every retrain and refresh.
//
// DETERMINISM NOTE: gobreaker uses wall-clock time for the open timeout.
// Tests drive the breaker through failures rather than mocking time.
type GuardedProvider struct {
	inner  recommend.DataProvider
	cb     *gobreaker.CircuitBreaker[*recommend.Dataset]
	name   string
	logger zerolog.Logger
}

var _ recommend.DataProvider = (*GuardedProvider)(nil)

// NewGuardedProvider creates the wrapper. The breaker starts closed.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewGuardedProvider(inner recommend.DataProvider, cfg GuardedProviderConfig, logger zerolog.Logger) *GuardedProvider {
	if cfg.Name == "" {
		cfg.Name = "dataset-provider"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}

	p := &GuardedProvider{
		inner:  inner,
		name:   cfg.Name,
		logger: logger.With().Str("component", "provider").Str("breaker", cfg.Name).Logger(),
	}
	metrics.SetCircuitBreakerState(cfg.Name, stateValue(gobreaker.StateClosed))

	p.cb = gobreaker.NewCircuitBreaker[*recommend.Dataset](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // a single trial load in half-open state
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, stateValue(to))
			event := p.logger.Info()
			if to == gobreaker.StateOpen {
				event = p.logger.Warn()
			}
			event.Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return p
}

// LoadDataset loads through the breaker.
func (p *GuardedProvider) LoadDataset(ctx context.Context) (*recommend.Dataset, error) {
	ds, err := p.cb.Execute(func() (*recommend.Dataset, error) {
		return p.inner.LoadDataset(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s breaker %s", ErrProviderUnavailable, p.name, p.cb.State())
		}
		return nil, err
	}
	return ds, nil
}

// State returns the breaker state.
func (p *GuardedProvider) State() gobreaker.State {
	return p.cb.State()
}

// stateValue converts a breaker state for the metrics gauge.
func stateValue(state gobreaker.State) int {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
