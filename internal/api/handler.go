// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package api

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tomtom215/almoner/internal/events"
	"github.com/tomtom215/almoner/internal/ledger"
	"github.com/tomtom215/almoner/internal/recommend"
)

// Engine is the part of recommend.Engine the API serves from.
type Engine interface {
	Recommend(ctx context.Context, donorID, n int) (*recommend.Ranking, error)
	Search(ctx context.Context, query string, n int) ([]recommend.SearchHit, error)
	RecommendCategories(ctx context.Context, donorID int) ([]recommend.CategoryScore, error)
	AssessFraud(ctx context.Context, c *recommend.Case) (*recommend.FraudAssessment, error)
	AssessFraudBatch(ctx context.Context, caseIDs []int) ([]recommend.FraudAssessment, []int, error)
	Likelihood(ctx context.Context, donorID int, caseIDs []int) ([]recommend.LikelihoodScore, []int, error)
	CaseSimilarity(a, b int) (float64, error)
	Clusters() ([]recommend.ClusterProfile, error)
	Status() recommend.TrainingStatus
	Metrics() recommend.Metrics
}

// LedgerReporter aggregates ledger outcomes.
type LedgerReporter interface {
	Analytics(ctx context.Context, since, until time.Time) (*ledger.Report, error)
}

// Publisher accepts events from the platform.
type Publisher interface {
	PublishDonation(ctx context.Context, ev events.DonationStatusChanged) error
	PublishCaseChanged(ctx context.Context, ev events.CaseChanged) error
}

// Retrainer queues an out-of-schedule training run.
type Retrainer interface {
	Trigger(reason string) bool
}

// ReadinessCheck reports whether one dependency can serve.
type ReadinessCheck func(ctx context.Context) error

// HandlerConfig wires the handler. Only Engine is required; the routes of a
// missing collaborator answer 503.
type HandlerConfig struct {
	Engine    Engine
	Ledger    recommend.Ledger
	Reporter  LedgerReporter
	Publisher Publisher
	Retrainer Retrainer

	// Checks are run by /readyz in addition to "models trained".
	Checks map[string]ReadinessCheck

	// Gatherer backs /metrics. Defaults to the process registry.
	Gatherer prometheus.Gatherer

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64

	// RequestTimeout bounds engine calls of one request.
	RequestTimeout time.Duration
}

// Handler serves the Almoner HTTP API.
type Handler struct {
	cfg       HandlerConfig
	startTime time.Time
	logger    zerolog.Logger
	now       func() time.Time
}

// NewHandler creates the handler.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(cfg HandlerConfig, logger zerolog.Logger) (*Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("api handler: engine is required")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Handler{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger.With().Str("component", "api").Logger(),
		now:       time.Now,
	}, nil
}

func (h *Handler) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.cfg.RequestTimeout)
}

func (h *Handler) meta(start time.Time) Metadata {
	return Metadata{
		Timestamp:    h.now().UTC(),
		QueryTimeMS:  time.Since(start).Milliseconds(),
		ModelVersion: h.cfg.Engine.Status().ModelVersion,
	}
}
