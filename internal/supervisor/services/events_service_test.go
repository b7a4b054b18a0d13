// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/almoner/internal/events"
	"github.com/tomtom215/almoner/internal/recommend"
)

type countingApplier struct {
	applied atomic.Int32
}

func (c *countingApplier) ApplyDonation(context.Context, recommend.Donation) (bool, error) {
	c.applied.Add(1)
	return true, nil
}

type countingStale struct {
	calls atomic.Int32
}

func (c *countingStale) RefreshIfStale(context.Context) error {
	c.calls.Add(1)
	return nil
}

func testBusFactory(t *testing.T, applier events.DonationApplier) BusFactory {
	t.Helper()
	cfg := events.DefaultConfig()
	cfg.CloseTimeout = time.Second
	cfg.RetryMaxRetries = 0
	return func() (*events.Bus, error) {
		h, err := events.NewHandler(events.HandlerConfig{Engine: applier}, zerolog.Nop())
		if err != nil {
			return nil, err
		}
		return events.NewBus(cfg, h, zerolog.Nop())
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsService_PublishWhileRunning(t *testing.T) {
	applier := &countingApplier{}
	stale := &countingStale{}
	svc := NewEventsService(testBusFactory(t, applier), stale, 10*time.Millisecond, zerolog.Nop())

	ev := events.DonationStatusChanged{DonationID: 1, DonorID: 2, CaseID: 3, Amount: 50, Status: "completed"}
	if err := svc.PublishDonation(context.Background(), ev); !errors.Is(err, ErrBusUnavailable) {
		t.Fatalf("PublishDonation() before Serve error = %v, want ErrBusUnavailable", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	waitUntil(t, "bus running", svc.Ready)
	if err := svc.PublishDonation(context.Background(), ev); err != nil {
		t.Fatalf("PublishDonation() error = %v", err)
	}
	waitUntil(t, "donation applied", func() bool { return applier.applied.Load() == 1 })
	waitUntil(t, "stale refresh tick", func() bool { return stale.calls.Load() > 0 })

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return")
	}

	if svc.Ready() {
		t.Error("Ready() after shutdown should be false")
	}
	if err := svc.PublishCaseChanged(context.Background(), events.CaseChanged{CaseID: 3}); !errors.Is(err, ErrBusUnavailable) {
		t.Errorf("PublishCaseChanged() after shutdown error = %v, want ErrBusUnavailable", err)
	}
}

func TestEventsService_FactoryError(t *testing.T) {
	svc := NewEventsService(func() (*events.Bus, error) {
		return nil, errors.New("bad config")
	}, nil, 0, zerolog.Nop())

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("Serve() should fail when the bus cannot be built")
	}
	if got := svc.String(); got != "events-service" {
		t.Errorf("String() = %q", got)
	}
}

type countingGC struct {
	calls atomic.Int32
	err   error
}

func (c *countingGC) RunGC() error {
	c.calls.Add(1)
	return c.err
}

func TestLedgerGCService_Serve(t *testing.T) {
	for _, gcErr := range []error{nil, errors.New("badger: value log busy")} {
		gc := &countingGC{err: gcErr}
		svc := NewLedgerGCService(gc, 10*time.Millisecond, zerolog.Nop())

		ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
		err := svc.Serve(ctx)
		cancel()

		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Serve() error = %v, want context.DeadlineExceeded", err)
		}
		if gc.calls.Load() < 2 {
			t.Errorf("RunGC called %d times, want >= 2 (err %v)", gc.calls.Load(), gcErr)
		}
	}

	if svc := NewLedgerGCService(&countingGC{}, 0, zerolog.Nop()); svc.interval != 10*time.Minute {
		t.Errorf("default interval = %v", svc.interval)
	}
}
