// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/almoner/internal/logging"
	"github.com/tomtom215/almoner/internal/metrics"
	"github.com/tomtom215/almoner/internal/recommend"
)

// Metadata keys set on published messages.
const (
	metadataCorrelationID = "correlation_id"
	metadataSchemaVersion = "schema_version"
)

// DonationApplier applies donation state changes to the in-memory dataset.
type DonationApplier interface {
	ApplyDonation(ctx context.Context, d recommend.Donation) (bool, error)
}

// DataRefresher reloads the dataset from the read model.
type DataRefresher interface {
	RefreshData(ctx context.Context) error
}

// DonationAttributor credits a completed donation to the recommendation
// that was shown for it.
type DonationAttributor interface {
	MarkDonation(ctx context.Context, donorID, caseID int, at time.Time) (*recommend.LedgerEntry, error)
}

// DonationRecorder persists an accepted donation state.
type DonationRecorder interface {
	SaveDonation(ctx context.Context, d recommend.Donation) error
}

// HandlerConfig wires a Handler to its collaborators. Only Engine is
// required.
type HandlerConfig struct {
	Engine    DonationApplier
	Refresher DataRefresher
	Ledger    DonationAttributor
	Store     DonationRecorder

	// OnCompleted is called once per donation that entered completed. The
	// retrain scheduler hooks in here.
	OnCompleted func(d recommend.Donation)

	// RefreshInterval is the minimum spacing between dataset reloads caused
	// by case changes. Changes inside the window are coalesced.
	RefreshInterval time.Duration
}

// Handler consumes donation and case events.
type Handler struct {
	cfg     HandlerConfig
	limiter *rate.Limiter
	stale   atomic.Bool
	logger  zerolog.Logger
}

// NewHandler creates an event handler.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(cfg HandlerConfig, logger zerolog.Logger) (*Handler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("events handler: engine is required")
	}
	limit := rate.Inf
	if cfg.RefreshInterval > 0 {
		limit = rate.Every(cfg.RefreshInterval)
	}
	return &Handler{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "events").Logger(),
	}, nil
}

// HandleDonationStatus applies one DonationStatusChanged message.
func (h *Handler) HandleDonationStatus(msg *message.Message) (err error) {
	defer func() { metrics.RecordEvent("donation_status", err) }()

	ctx := messageContext(msg)
	log := h.logger.With().Str("message_uuid", msg.UUID).
		Str("correlation_id", logging.CorrelationIDFromContext(ctx)).Logger()

	var ev DonationStatusChanged
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		log.Warn().Err(err).Msg("dropping undecodable donation event")
		return nil
	}
	d, err := ev.Donation()
	if err != nil {
		log.Warn().Err(err).Msg("dropping invalid donation event")
		return nil
	}

	changed, err := h.cfg.Engine.ApplyDonation(ctx, d)
	if err != nil {
		if IsPermanent(err) {
			log.Warn().Err(err).Int("donation_id", d.ID).Msg("donation event rejected")
			return nil
		}
		return fmt.Errorf("apply donation %d: %w", d.ID, err)
	}
	if changed && d.Status == recommend.DonationCompleted && h.cfg.OnCompleted != nil {
		h.cfg.OnCompleted(d)
	}

	if h.cfg.Store != nil {
		if err := h.cfg.Store.SaveDonation(ctx, d); err != nil {
			return fmt.Errorf("persist donation %d: %w", d.ID, err)
		}
	}
	if d.Status == recommend.DonationCompleted && h.cfg.Ledger != nil {
		entry, err := h.cfg.Ledger.MarkDonation(ctx, d.DonorID, d.CaseID, d.CompletedAt)
		if err != nil {
			return fmt.Errorf("attribute donation %d: %w", d.ID, err)
		}
		if entry != nil {
			log.Debug().Str("entry_id", entry.ID).Str("algorithm", entry.Algorithm).
				Int("donation_id", d.ID).Msg("donation attributed to recommendation")
		}
	}

	log.Debug().Int("donation_id", d.ID).Str("status", string(d.Status)).
		Bool("history_changed", changed).Msg("donation event applied")
	return nil
}

// HandleCaseChanged reloads the dataset for one CaseChanged message. Reloads
// are rate limited. A change that arrives inside the window marks the data
// stale for RefreshIfStale.
func (h *Handler) HandleCaseChanged(msg *message.Message) (err error) {
	defer func() { metrics.RecordEvent("case_changed", err) }()

	var ev CaseChanged
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		h.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable case event")
		return nil
	}
	if h.cfg.Refresher == nil {
		return nil
	}
	if !h.limiter.Allow() {
		h.stale.Store(true)
		h.logger.Debug().Int("case_id", ev.CaseID).Msg("case refresh deferred")
		return nil
	}
	if err := h.cfg.Refresher.RefreshData(messageContext(msg)); err != nil {
		return fmt.Errorf("refresh after case %d: %w", ev.CaseID, err)
	}
	h.stale.Store(false)
	h.logger.Debug().Int("case_id", ev.CaseID).Str("reason", ev.Reason).Msg("dataset refreshed")
	return nil
}

// RefreshIfStale performs a reload deferred by the rate limit.
func (h *Handler) RefreshIfStale(ctx context.Context) error {
	if h.cfg.Refresher == nil || !h.stale.CompareAndSwap(true, false) {
		return nil
	}
	if err := h.cfg.Refresher.RefreshData(ctx); err != nil {
		h.stale.Store(true)
		return err
	}
	return nil
}

// Stale reports whether a deferred reload is pending.
func (h *Handler) Stale() bool {
	return h.stale.Load()
}

// handlePoisoned logs a message that exhausted its retries.
func (h *Handler) handlePoisoned(msg *message.Message) error {
	metrics.RecordEvent("poisoned", nil)
	h.logger.Error().
		Str("message_uuid", msg.UUID).
		Str("topic", msg.Metadata.Get(poisonedTopicKey)).
		Str("reason", msg.Metadata.Get(poisonedReasonKey)).
		Msg("event moved to poison queue")
	return nil
}

// IsPermanent reports whether replaying the event that produced err can
// never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, recommend.ErrUnknownEntity) ||
		errors.Is(err, recommend.ErrInvalidTransition)
}

func messageContext(msg *message.Message) context.Context {
	ctx := msg.Context()
	if id := msg.Metadata.Get(metadataCorrelationID); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}
	return ctx
}
