// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/almoner/internal/events"
)

// ErrBusUnavailable is returned by publishes while the bus is not running,
// e.g. between a crash and the supervisor restart.
var ErrBusUnavailable = errors.New("event bus not running")

// BusFactory builds a fresh bus. A Watermill router cannot be restarted
// after it closes, so every Serve gets a new one.
type BusFactory func() (*events.Bus, error)

// StaleRefresher performs dataset reloads deferred by the case-change rate
// limit.
type StaleRefresher interface {
	RefreshIfStale(ctx context.Context) error
}

// EventsService runs the in-process event bus under supervision and
// publishes into whichever bus is currently running.
type EventsService struct {
	newBus          BusFactory
	stale           StaleRefresher
	refreshInterval time.Duration
	current         atomic.Pointer[events.Bus]
	logger          zerolog.Logger
	name            string
}

// NewEventsService creates the service. stale may be nil.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEventsService(newBus BusFactory, stale StaleRefresher, refreshInterval time.Duration, logger zerolog.Logger) *EventsService {
	return &EventsService{
		newBus:          newBus,
		stale:           stale,
		refreshInterval: refreshInterval,
		logger:          logger.With().Str("service", "events").Logger(),
		name:            "events-service",
	}
}

// Serve implements suture.Service.
func (s *EventsService) Serve(ctx context.Context) error {
	bus, err := s.newBus()
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.current.Store(bus)
	defer func() {
		s.current.CompareAndSwap(bus, nil)
		if err := bus.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing event bus")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := bus.Run(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("event router stopped unexpectedly")
		}
		return nil
	})
	if s.stale != nil && s.refreshInterval > 0 {
		g.Go(func() error {
			s.refreshLoop(gctx)
			return nil
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		s.logger.Info().Msg("events service shutting down")
		return ctx.Err()
	}
	return err
}

func (s *EventsService) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.stale.RefreshIfStale(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("deferred dataset refresh failed")
			}
		}
	}
}

// Ready reports whether a bus is running with every handler subscribed.
func (s *EventsService) Ready() bool {
	_, err := s.running()
	return err == nil
}

// PublishDonation publishes into the running bus.
func (s *EventsService) PublishDonation(ctx context.Context, ev events.DonationStatusChanged) error {
	bus, err := s.running()
	if err != nil {
		return err
	}
	return bus.PublishDonation(ctx, ev)
}

// PublishCaseChanged publishes into the running bus.
func (s *EventsService) PublishCaseChanged(ctx context.Context, ev events.CaseChanged) error {
	bus, err := s.running()
	if err != nil {
		return err
	}
	return bus.PublishCaseChanged(ctx, ev)
}

func (s *EventsService) running() (*events.Bus, error) {
	bus := s.current.Load()
	if bus == nil {
		return nil, ErrBusUnavailable
	}
	// gochannel drops messages published before the handlers subscribe.
	select {
	case <-bus.Running():
		return bus, nil
	default:
		return nil, ErrBusUnavailable
	}
}

// String returns the service name for logging.
func (s *EventsService) String() string {
	return s.name
}
