// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/almoner/internal/recommend"
	"github.com/tomtom215/almoner/internal/validation"
)

// maxReportRange bounds one analytics scan.
const maxReportRange = 366 * 24 * time.Hour

type interactionRequest struct {
	Kind string    `json:"kind" validate:"required,oneof=viewed clicked donated"`
	At   time.Time `json:"at"`
}

type reportParams struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until" validate:"gtfield=Since"`
}

// LedgerEntry handles GET /v1/ledger/{entryID}.
func (h *Handler) LedgerEntry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.cfg.Ledger == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "ledger is not configured", nil)
		return
	}
	entry, err := h.cfg.Ledger.Get(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, entry, h.meta(start))
}

// MarkInteraction handles POST /v1/ledger/{entryID}/interactions with
// {"kind": "clicked", "at": "..."}. A repeated mark keeps the first time.
func (h *Handler) MarkInteraction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.cfg.Ledger == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "ledger is not configured", nil)
		return
	}
	var req interactionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		respondEngineError(w, r, err)
		return
	}
	at := req.At
	if at.IsZero() {
		at = h.now().UTC()
	}
	entry, err := h.cfg.Ledger.MarkInteraction(r.Context(), chi.URLParam(r, "entryID"),
		recommend.InteractionKind(req.Kind), at)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, entry, h.meta(start))
}

// LedgerReport handles GET /v1/ledger/report?since=...&until=... with
// RFC 3339 bounds. The default range is the last 30 days.
func (h *Handler) LedgerReport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.cfg.Reporter == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "ledger is not configured", nil)
		return
	}

	now := h.now().UTC()
	params := reportParams{Since: now.Add(-30 * 24 * time.Hour), Until: now}
	for key, dst := range map[string]*time.Time{"since": &params.Since, "until": &params.Until} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, CodeValidation, key+" must be an RFC 3339 timestamp", nil)
			return
		}
		*dst = t
	}
	if err := validation.ValidateStruct(&params); err != nil {
		respondEngineError(w, r, err)
		return
	}
	if params.Until.Sub(params.Since) > maxReportRange {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "report range exceeds 366 days", nil)
		return
	}

	ctx, cancel := h.requestContext(r.Context())
	defer cancel()
	report, err := h.cfg.Reporter.Analytics(ctx, params.Since, params.Until)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, report, h.meta(start))
}
