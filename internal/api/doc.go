// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

/*
Package api is the JSON HTTP API through which the crowdfunding platform
reads ranked case lists, fraud scores and donor segments, and reports
donor interactions and payment events back.

# Routes

Operational, never rate limited:

	GET  /healthz                                   liveness
	GET  /readyz                                    models published and checks passing
	GET  /status                                    training state and engine counters
	GET  /metrics                                   Prometheus exposition

Versioned, rate limited per client IP:

	GET  /v1/donors/{donorID}/recommendations?n=    hybrid ranking, recorded in the ledger
	GET  /v1/donors/{donorID}/categories            association rule category suggestions
	POST /v1/donors/{donorID}/likelihood            donation likelihood for case ids
	GET  /v1/search?q=&n=                           TF-IDF text search
	GET  /v1/cases/{caseID}/similarity/{otherID}    content similarity of two cases
	GET  /v1/segments                               donor cluster profiles
	POST /v1/fraud/assess                           fraud probability for a case record
	POST /v1/fraud/batch                            fraud probabilities for case ids
	GET  /v1/ledger/report?since=&until=            CTR and conversion per algorithm
	GET  /v1/ledger/{entryID}                       one ledger entry
	POST /v1/ledger/{entryID}/interactions          mark viewed, clicked or donated
	POST /v1/events/donations                       queue a donation status change
	POST /v1/events/cases                           queue a case change
	POST /v1/train                                  queue a retrain

# Responses

Every JSON response uses the APIResponse envelope. Errors carry a stable
code; engine errors map as follows:

	unknown donor, case or ledger entry   404 NOT_FOUND
	invalid input or configuration        400 VALIDATION_ERROR
	models not trained yet                503 MODEL_NOT_READY
	case data not loaded yet              503 SERVICE_UNAVAILABLE
	too little data for the component     422 INSUFFICIENT_DATA
	request deadline exceeded             504 TIMEOUT

Each response echoes X-Request-ID; the id is also attached to every log
line written while serving the request.

The API serves other services, not browsers, so there is no CORS handling
and no session authentication; deploy it behind the platform's gateway.
*/
package api
