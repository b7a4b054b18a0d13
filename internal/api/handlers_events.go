// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/almoner/internal/events"
)

// DonationEvent handles POST /v1/events/donations. The event is checked
// synchronously and applied asynchronously; 202 means it was queued.
func (h *Handler) DonationEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.cfg.Publisher == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "event ingestion is not configured", nil)
		return
	}
	var ev events.DonationStatusChanged
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &ev); err != nil {
		respondEngineError(w, r, err)
		return
	}
	if _, err := ev.Donation(); err != nil {
		respondEngineError(w, r, err)
		return
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now().UTC()
	}
	if err := h.cfg.Publisher.PublishDonation(r.Context(), ev); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "event bus unavailable", err)
		return
	}
	respondData(w, r, http.StatusAccepted, map[string]any{
		"event_id":    ev.EventID,
		"donation_id": ev.DonationID,
		"status":      ev.Status,
	}, h.meta(start))
}

// CaseEvent handles POST /v1/events/cases.
func (h *Handler) CaseEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.cfg.Publisher == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "event ingestion is not configured", nil)
		return
	}
	var ev events.CaseChanged
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &ev); err != nil {
		respondEngineError(w, r, err)
		return
	}
	if ev.CaseID <= 0 {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "case_id must be a positive integer", nil)
		return
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now().UTC()
	}
	if err := h.cfg.Publisher.PublishCaseChanged(r.Context(), ev); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "event bus unavailable", err)
		return
	}
	respondData(w, r, http.StatusAccepted, map[string]any{
		"event_id": ev.EventID,
		"case_id":  ev.CaseID,
	}, h.meta(start))
}
