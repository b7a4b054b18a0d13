// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds the transport limits of the router.
type RouterConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RequestTimeout    time.Duration
}

// NewRouter builds the chi router for h.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging(h.logger))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger)

	// Probes and scrapes are not rate limited.
	r.Get("/healthz", h.HealthLive)
	r.Get("/readyz", h.HealthReady)
	r.Get("/status", h.Status)
	r.Method(http.MethodGet, "/metrics", h.Metrics())

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

		r.Route("/donors/{donorID}", func(r chi.Router) {
			r.Get("/recommendations", h.Recommendations)
			r.Get("/categories", h.Categories)
			r.Post("/likelihood", h.Likelihood)
		})

		r.Get("/search", h.Search)
		r.Get("/cases/{caseID}/similarity/{otherID}", h.Similarity)
		r.Get("/segments", h.Segments)

		r.Post("/fraud/assess", h.AssessFraud)
		r.Post("/fraud/batch", h.AssessFraudBatch)

		r.Get("/ledger/report", h.LedgerReport)
		r.Get("/ledger/{entryID}", h.LedgerEntry)
		r.Post("/ledger/{entryID}/interactions", h.MarkInteraction)

		r.Post("/events/donations", h.DonationEvent)
		r.Post("/events/cases", h.CaseEvent)

		r.Post("/train", h.Train)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	return r
}
