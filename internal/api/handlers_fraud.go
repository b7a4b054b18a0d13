// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/almoner/internal/recommend"
)

// AssessFraud handles POST /v1/fraud/assess. The body is a case record,
// which need not be in the current dataset; moderation screens new cases
// before they are listed.
func (h *Handler) AssessFraud(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var c recommend.Case
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &c); err != nil {
		respondEngineError(w, r, err)
		return
	}
	if err := c.Validate(); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	ctx, cancel := h.requestContext(r.Context())
	defer cancel()

	assessment, err := h.cfg.Engine.AssessFraud(ctx, &c)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, assessment, h.meta(start))
}

// AssessFraudBatch handles POST /v1/fraud/batch with {"case_ids": [...]}.
func (h *Handler) AssessFraudBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req caseIDsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		respondEngineError(w, r, err)
		return
	}
	ctx, cancel := h.requestContext(r.Context())
	defer cancel()

	assessments, skipped, err := h.cfg.Engine.AssessFraudBatch(ctx, req.CaseIDs)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	if assessments == nil {
		assessments = []recommend.FraudAssessment{}
	}
	review := 0
	for i := range assessments {
		if assessments[i].NeedsReview {
			review++
		}
	}
	respondData(w, r, http.StatusOK, map[string]any{
		"assessments":  assessments,
		"needs_review": review,
		"skipped":      nonNil(skipped),
	}, h.meta(start))
}
