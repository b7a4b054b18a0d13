// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

// Package events delivers donation and case changes to a running engine.
//
// The platform publishes two kinds of events:
//
//	donation.status  DonationStatusChanged, one per payment state change
//	case.changed     CaseChanged, when a case is created, edited or moderated
//
// Events travel over an in-process Watermill GoChannel. The Bus owns a
// Watermill router with this middleware stack (outer to inner):
//
//  1. PoisonQueue - messages that still fail after all retries go to the
//     poison topic, where they are logged and counted
//  2. Deduplicator - drops redelivered event ids within a TTL window
//  3. Retry - exponential backoff for transient failures
//  4. Recoverer - turns handler panics into errors
//
// # Error Handling
//
// Handler errors fall in two classes. Permanent errors (malformed payload,
// unknown donor or case, a status change the payment lifecycle forbids) are
// logged and acknowledged, since replaying them can never succeed.
// Everything else is returned to the router and retried.
//
// Replays are safe: the engine ignores an already applied status, the read
// model upsert is idempotent, and ledger attribution keeps the first
// donation timestamp.
//
// # Usage
//
//	handler, _ := events.NewHandler(events.HandlerConfig{
//	    Engine:    engine,
//	    Refresher: engine,
//	    Ledger:    ledgerStore,
//	    Store:     db,
//	}, logger)
//	bus, _ := events.NewBus(events.DefaultConfig(), handler, logger)
//	go bus.Run(ctx)
//	<-bus.Running()
//	_ = bus.PublishDonation(ctx, ev)
package events
