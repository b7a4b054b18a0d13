// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/almoner/internal/metrics"
	"github.com/tomtom215/almoner/internal/recommend"
)

// Retrain triggers, used as metric labels.
const (
	TriggerStartup   = "startup"
	TriggerSchedule  = "schedule"
	TriggerDonations = "donations"
	TriggerManual    = "manual"
)

// RecommendEngine is the part of the engine the retrain service drives.
type RecommendEngine interface {
	Train(ctx context.Context) error
	Status() recommend.TrainingStatus
	SaveModels(ctx context.Context, store recommend.ModelStore) error
	LoadModels(ctx context.Context, store recommend.ModelStore, version int) error
	DonorClusters() (map[int]int, error)
}

// SnapshotStore persists model sets and prunes old versions.
type SnapshotStore interface {
	recommend.ModelStore
	Prune(ctx context.Context, name string, keepVersions int) error
}

// ClusterSink receives donor segment assignments after each train.
type ClusterSink interface {
	SaveDonorClusters(ctx context.Context, assignments map[int]int) error
}

// RecommendServiceConfig holds configuration for the retrain service.
type RecommendServiceConfig struct {
	// TrainOnStartup triggers training when the service starts.
	TrainOnStartup bool

	// LoadOnStartup publishes the latest saved model set before the first
	// train so the process serves immediately.
	LoadOnStartup bool

	// TrainInterval is how often to retrain models. Zero disables the
	// schedule.
	TrainInterval time.Duration

	// TrainTimeout bounds one training run including persistence.
	TrainTimeout time.Duration

	// DonationThreshold is the number of completed donations that requests
	// an early retrain. Zero disables event-triggered retraining.
	DonationThreshold int

	// MinInterval is the minimum spacing between event-triggered retrains.
	MinInterval time.Duration

	// KeepVersions is how many saved model sets are kept per component.
	KeepVersions int
}

// RecommendService keeps the engine's models fresh under supervision. It
// trains on a schedule, on demand and after enough completed donations, then
// persists the model set and the donor segment assignments.
type RecommendService struct {
	engine   RecommendEngine
	store    SnapshotStore
	clusters ClusterSink
	config   RecommendServiceConfig
	logger   zerolog.Logger
	name     string

	trigger chan string
	limiter *rate.Limiter

	mu        sync.Mutex
	completed int
}

// NewRecommendService creates a new retrain service. store and clusters may
// be nil.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRecommendService(engine RecommendEngine, store SnapshotStore, clusters ClusterSink, cfg RecommendServiceConfig, logger zerolog.Logger) *RecommendService {
	if cfg.TrainTimeout <= 0 {
		cfg.TrainTimeout = 30 * time.Minute
	}
	if cfg.KeepVersions < 1 {
		cfg.KeepVersions = 1
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &RecommendService{
		engine:   engine,
		store:    store,
		clusters: clusters,
		config:   cfg,
		logger:   logger.With().Str("service", "retrain").Logger(),
		name:     "retrain-service",
		trigger:  make(chan string, 1),
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Serve implements the suture.Service interface.
func (s *RecommendService) Serve(ctx context.Context) error {
	s.logger.Info().
		Bool("train_on_startup", s.config.TrainOnStartup).
		Bool("load_on_startup", s.config.LoadOnStartup).
		Dur("train_interval", s.config.TrainInterval).
		Int("donation_threshold", s.config.DonationThreshold).
		Msg("retrain service starting")

	if s.config.LoadOnStartup && s.store != nil {
		s.loadLatest(ctx)
	}
	if s.config.TrainOnStartup {
		s.retrain(ctx, TriggerStartup)
	}

	var schedule <-chan time.Time
	if s.config.TrainInterval > 0 {
		ticker := time.NewTicker(s.config.TrainInterval)
		defer ticker.Stop()
		schedule = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("retrain service shutting down")
			return ctx.Err()

		case <-schedule:
			s.retrain(ctx, TriggerSchedule)

		case reason := <-s.trigger:
			s.retrain(ctx, reason)
		}
	}
}

// NotifyCompleted counts a donation that entered completed and requests a
// retrain once DonationThreshold donations arrived. Requests are rate
// limited by MinInterval; the count carries over while limited.
func (s *RecommendService) NotifyCompleted(recommend.Donation) {
	if s.config.DonationThreshold <= 0 {
		return
	}
	s.mu.Lock()
	s.completed++
	ready := s.completed >= s.config.DonationThreshold && s.limiter.Allow()
	if ready {
		s.completed = 0
	}
	s.mu.Unlock()

	if ready {
		s.Trigger(TriggerDonations)
	}
}

// Trigger requests a retrain. It returns false when one is already queued.
func (s *RecommendService) Trigger(reason string) bool {
	select {
	case s.trigger <- reason:
		return true
	default:
		return false
	}
}

// PendingDonations returns the completed donations counted since the last
// event-triggered retrain.
func (s *RecommendService) PendingDonations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *RecommendService) loadLatest(ctx context.Context) {
	if err := s.engine.LoadModels(ctx, s.store, 0); err != nil {
		// A fresh install has nothing saved yet.
		s.logger.Info().Err(err).Msg("no saved model set loaded")
		return
	}
	s.logger.Info().Int("version", s.engine.Status().ModelVersion).Msg("saved model set loaded")
}

// retrain runs one train and persistence cycle. Failures are logged; the
// previous models keep serving.
func (s *RecommendService) retrain(ctx context.Context, reason string) {
	metrics.RecordRetrainTrigger(reason)

	trainCtx, cancel := context.WithTimeout(ctx, s.config.TrainTimeout)
	defer cancel()

	start := time.Now()
	s.logger.Info().Str("trigger", reason).Msg("starting model training")

	err := s.engine.Train(trainCtx)
	duration := time.Since(start)
	metrics.RecordTraining(s.engine.Status(), duration, err)
	if err != nil {
		s.logger.Warn().Err(err).Str("trigger", reason).Msg("model training failed")
		return
	}

	if err := s.persist(trainCtx); err != nil {
		s.logger.Warn().Err(err).Msg("persisting model set failed")
	}
	if err := s.exportClusters(trainCtx); err != nil {
		s.logger.Warn().Err(err).Msg("exporting donor segments failed")
	}

	s.logger.Info().
		Str("trigger", reason).
		Int("version", s.engine.Status().ModelVersion).
		Dur("duration", duration).
		Msg("model training complete")
}

func (s *RecommendService) persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.engine.SaveModels(ctx, s.store); err != nil {
		return err
	}
	var errs []error
	for _, name := range recommend.SnapshotNames() {
		if err := s.store.Prune(ctx, name, s.config.KeepVersions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *RecommendService) exportClusters(ctx context.Context) error {
	if s.clusters == nil {
		return nil
	}
	assignments, err := s.engine.DonorClusters()
	if err != nil {
		if errors.Is(err, recommend.ErrInsufficientData) || errors.Is(err, recommend.ErrModelNotFitted) {
			s.logger.Debug().Err(err).Msg("no donor segments to export")
			return nil
		}
		return err
	}
	return s.clusters.SaveDonorClusters(ctx, assignments)
}

// String returns the service name for logging.
func (s *RecommendService) String() string {
	return s.name
}
