// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/almoner/internal/metrics"
)

// GarbageCollector reclaims space in the ledger's value log.
type GarbageCollector interface {
	RunGC() error
}

// LedgerGCService runs ledger value log garbage collection on an interval.
type LedgerGCService struct {
	gc       GarbageCollector
	interval time.Duration
	logger   zerolog.Logger
	name     string
}

// NewLedgerGCService creates the service. interval <= 0 selects 10 minutes.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewLedgerGCService(gc GarbageCollector, interval time.Duration, logger zerolog.Logger) *LedgerGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &LedgerGCService{
		gc:       gc,
		interval: interval,
		logger:   logger.With().Str("service", "ledger-gc").Logger(),
		name:     "ledger-gc-service",
	}
}

// Serve implements suture.Service. GC failures are logged and retried on
// the next tick.
func (s *LedgerGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := s.gc.RunGC()
			metrics.RecordLedgerOperation("gc", err)
			if err != nil {
				s.logger.Warn().Err(err).Msg("ledger garbage collection failed")
			}
		}
	}
}

// String returns the service name for logging.
func (s *LedgerGCService) String() string {
	return s.name
}
