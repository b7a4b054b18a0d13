// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

/*
Package supervisor provides process supervision for Almoner using suture v4.

Long-running services are organized into three layers so a failure in one
layer restarts only that layer:

	RootSupervisor ("almoner")
	├── DataSupervisor ("data-layer")
	│   └── LedgerGCService
	├── EngineSupervisor ("engine-layer")
	│   ├── RecommendService (retraining)
	│   └── EventsService (if events.enabled)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (if server.enabled)

A crash of the event router does not interrupt serving: the published
model set lives in the engine, not in the service.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(logger), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewLedgerGCService(ledgerStore, cfg.Ledger.GCInterval, logger))
	tree.AddEngineService(retrain)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout, logger))

	return tree.Serve(ctx)

# Failure Handling

Each layer counts failures with exponential decay (FailureDecay seconds).
Past FailureThreshold the layer waits FailureBackoff before restarting
its services. Events are logged through sutureslog on the slog bridge of
the zerolog logger.

# What Is NOT Supervised

DuckDB and Badger are embedded libraries opened once by the serve
command and closed after the tree stops. Training runs inside the
retrain service; a failed train is logged, not crashed.

If services don't stop within ShutdownTimeout, UnstoppedServiceReport
names them.
*/
package supervisor
