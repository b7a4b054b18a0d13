// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

/*
Package services provides suture.Service wrappers for Almoner components.

Each wrapper translates a component lifecycle into suture's context-aware
Serve pattern and implements fmt.Stringer so the supervisor can name it in
log messages.

# Available Services

Retraining (RecommendService):
  - Optionally publishes the latest saved model set on start
  - Trains on startup, on a schedule, on demand and after a threshold of
    completed donations (rate limited)
  - Saves and prunes model snapshots and exports donor segments

Events (EventsService):
  - Builds a fresh event bus on every Serve and runs its router
  - Performs dataset reloads deferred by the case-change rate limit
  - Publishes into the running bus; ErrBusUnavailable otherwise

Ledger GC (LedgerGCService):
  - Runs Badger value log GC for the recommendation ledger on an interval

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown

GuardedProvider is not a service: it wraps the read model in a circuit
breaker so retrains and refreshes back off while DuckDB is failing.

# Error Handling

Return values determine supervisor behavior:

	nil         -> Service stopped cleanly, will not restart
	error       -> Service crashed, supervisor will restart
	ctx.Err()   -> Shutdown requested, normal termination

Training failures are not service failures: they are logged and recorded
in metrics, and the previous model set keeps serving.
*/
package services
