// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readinessTimeout bounds all readiness checks of one probe.
const readinessTimeout = 2 * time.Second

// HealthLive handles GET /healthz. It answers while the process serves
// HTTP at all.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, map[string]any{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	}, Metadata{})
}

// HealthReady handles GET /readyz. The process is ready once a model set
// is published and every configured check passes; 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.cfg.Engine.Status()
	checks := map[string]string{"models": "ok"}
	ready := status.ModelVersion > 0
	if !ready {
		checks["models"] = "not trained"
	}

	names := make([]string, 0, len(h.cfg.Checks))
	for name := range h.cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.cfg.Checks[name](ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	respondData(w, r, code, map[string]any{
		"ready":         ready,
		"model_version": status.ModelVersion,
		"checks":        checks,
	}, Metadata{})
}

// Status handles GET /status with the training state and engine counters.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	respondData(w, r, http.StatusOK, map[string]any{
		"training": h.cfg.Engine.Status(),
		"engine":   h.cfg.Engine.Metrics(),
		"uptime":   time.Since(h.startTime).Seconds(),
	}, h.meta(start))
}

// Train handles POST /v1/train. Training runs in the retrain service; 202
// reports whether this request queued a run or one was already queued.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.cfg.Retrainer == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "retraining is not configured", nil)
		return
	}
	queued := h.cfg.Retrainer.Trigger("manual")
	respondData(w, r, http.StatusAccepted, map[string]any{"queued": queued}, h.meta(start))
}

// Metrics returns the Prometheus exposition handler.
func (h *Handler) Metrics() http.Handler {
	return promhttp.HandlerFor(h.cfg.Gatherer, promhttp.HandlerOpts{})
}
