// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/almoner/internal/metrics"
	"github.com/tomtom215/almoner/internal/recommend"
)

func testBusConfig() Config {
	cfg := DefaultConfig()
	cfg.CloseTimeout = time.Second
	cfg.RetryMaxRetries = 2
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	cfg.RefreshInterval = 0
	return cfg
}

func startBus(t *testing.T, cfg Config, h *Handler) *Bus {
	t.Helper()
	bus, err := NewBus(cfg, h, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
		<-done
	})

	select {
	case <-bus.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("bus did not start")
	}
	return bus
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBus_DeliversDonationEvents(t *testing.T) {
	engine := &fakeEngine{changed: true, calls: make(chan recommend.Donation, 4)}
	completed := make(chan recommend.Donation, 4)
	h, _ := NewHandler(HandlerConfig{
		Engine:      engine,
		OnCompleted: func(d recommend.Donation) { completed <- d },
	}, zerolog.Nop())
	bus := startBus(t, testBusConfig(), h)

	ev := completedEvent()
	if err := bus.PublishDonation(context.Background(), ev); err != nil {
		t.Fatalf("PublishDonation() error = %v", err)
	}

	select {
	case d := <-engine.calls:
		if d.ID != ev.DonationID || d.Status != recommend.DonationCompleted {
			t.Errorf("delivered donation = %+v", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("donation event not delivered")
	}
	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("OnCompleted not called")
	}
}

func TestBus_DeduplicatesEventIDs(t *testing.T) {
	engine := &fakeEngine{calls: make(chan recommend.Donation, 4)}
	h, _ := NewHandler(HandlerConfig{Engine: engine}, zerolog.Nop())
	bus := startBus(t, testBusConfig(), h)

	ev := completedEvent()
	ev.EventID = "evt-1"
	for range 2 {
		if err := bus.PublishDonation(context.Background(), ev); err != nil {
			t.Fatalf("PublishDonation() error = %v", err)
		}
	}
	ev.EventID = "evt-2"
	if err := bus.PublishDonation(context.Background(), ev); err != nil {
		t.Fatalf("PublishDonation() error = %v", err)
	}

	waitFor(t, "two deliveries", func() bool { return engine.count() >= 2 })
	time.Sleep(50 * time.Millisecond)
	if got := engine.count(); got != 2 {
		t.Errorf("delivered %d events, want 2", got)
	}
}

func TestBus_PoisonQueueAfterRetries(t *testing.T) {
	poisoned := metrics.EventsHandled.WithLabelValues("poisoned", "success")
	before := testutil.ToFloat64(poisoned)

	engine := &fakeEngine{err: errors.New("dataset not loaded")}
	h, _ := NewHandler(HandlerConfig{Engine: engine}, zerolog.Nop())
	bus := startBus(t, testBusConfig(), h)

	if err := bus.PublishDonation(context.Background(), completedEvent()); err != nil {
		t.Fatalf("PublishDonation() error = %v", err)
	}

	waitFor(t, "poison queue", func() bool { return testutil.ToFloat64(poisoned) > before })
	if got := engine.count(); got != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", got)
	}
}

func TestBus_CaseChangedRefreshes(t *testing.T) {
	refresher := &fakeRefresher{}
	h, _ := NewHandler(HandlerConfig{Engine: &fakeEngine{}, Refresher: refresher}, zerolog.Nop())
	bus := startBus(t, testBusConfig(), h)

	if err := bus.PublishCaseChanged(context.Background(), CaseChanged{CaseID: 4, Reason: "moderated"}); err != nil {
		t.Fatalf("PublishCaseChanged() error = %v", err)
	}
	waitFor(t, "refresh", func() bool { return refresher.count() == 1 })
}

func TestBus_Close(t *testing.T) {
	h, _ := NewHandler(HandlerConfig{Engine: &fakeEngine{}}, zerolog.Nop())
	bus, err := NewBus(testBusConfig(), h, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	if bus.IsRunning() {
		t.Error("IsRunning() before Run should be false")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestNewBus_RequiresHandler(t *testing.T) {
	if _, err := NewBus(testBusConfig(), nil, zerolog.Nop()); err == nil {
		t.Error("NewBus() without handler should fail")
	}
}
