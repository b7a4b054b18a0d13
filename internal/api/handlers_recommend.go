// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/almoner/internal/logging"
	"github.com/tomtom215/almoner/internal/recommend"
	"github.com/tomtom215/almoner/internal/validation"
)

// RecommendationsResponse is a ranking plus the ledger entries recorded
// for it, in item order. Clients report interactions against those ids.
type RecommendationsResponse struct {
	*recommend.Ranking
	LedgerEntryIDs []string `json:"ledger_entry_ids,omitempty"`
}

type rankParams struct {
	Limit int `json:"n" validate:"gte=0,lte=100"`
}

type searchParams struct {
	Query string `json:"q" validate:"required,max=500"`
	Limit int    `json:"n" validate:"gte=0,lte=100"`
}

type caseIDsRequest struct {
	CaseIDs []int `json:"case_ids" validate:"required,min=1,max=500,dive,gt=0"`
}

// Recommendations handles GET /v1/donors/{donorID}/recommendations?n=10.
// Every shown item is recorded in the ledger; a ledger failure is logged
// and the ranking is still returned without entry ids.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	donorID, err := pathID(r, "donorID")
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	params := rankParams{Limit: getIntParam(r, "n", 0)}
	if err := validation.ValidateStruct(&params); err != nil {
		respondEngineError(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r.Context())
	defer cancel()

	ranking, err := h.cfg.Engine.Recommend(ctx, donorID, params.Limit)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	resp := RecommendationsResponse{Ranking: ranking}
	if h.cfg.Ledger != nil && len(ranking.Items) > 0 {
		recorded, err := h.cfg.Ledger.Record(ctx, recommend.EntriesFromRanking(ranking, h.now().UTC()))
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("ranking_id", ranking.RequestID).
				Msg("recording shown recommendations failed")
		} else {
			resp.LedgerEntryIDs = make([]string, len(recorded))
			for i := range recorded {
				resp.LedgerEntryIDs[i] = recorded[i].ID
			}
		}
	}

	respondData(w, r, http.StatusOK, resp, h.meta(start))
}

// Categories handles GET /v1/donors/{donorID}/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	donorID, err := pathID(r, "donorID")
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	ctx, cancel := h.requestContext(r.Context())
	defer cancel()

	scores, err := h.cfg.Engine.RecommendCategories(ctx, donorID)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	if scores == nil {
		scores = []recommend.CategoryScore{}
	}
	respondData(w, r, http.StatusOK, map[string]any{"donor_id": donorID, "categories": scores}, h.meta(start))
}

// Likelihood handles POST /v1/donors/{donorID}/likelihood with
// {"case_ids": [...]}. Unknown cases are reported in "skipped".
func (h *Handler) Likelihood(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	donorID, err := pathID(r, "donorID")
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	var req caseIDsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		respondEngineError(w, r, err)
		return
	}
	ctx, cancel := h.requestContext(r.Context())
	defer cancel()

	scores, skipped, err := h.cfg.Engine.Likelihood(ctx, donorID, req.CaseIDs)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	if scores == nil {
		scores = []recommend.LikelihoodScore{}
	}
	respondData(w, r, http.StatusOK, map[string]any{
		"donor_id": donorID,
		"scores":   scores,
		"skipped":  nonNil(skipped),
	}, h.meta(start))
}

// Search handles GET /v1/search?q=...&n=20.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	params := searchParams{
		Query: strings.TrimSpace(r.URL.Query().Get("q")),
		Limit: getIntParam(r, "n", 20),
	}
	if err := validation.ValidateStruct(&params); err != nil {
		respondEngineError(w, r, err)
		return
	}
	ctx, cancel := h.requestContext(r.Context())
	defer cancel()

	hits, err := h.cfg.Engine.Search(ctx, params.Query, params.Limit)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	if hits == nil {
		hits = []recommend.SearchHit{}
	}
	respondData(w, r, http.StatusOK, map[string]any{"query": params.Query, "hits": hits}, h.meta(start))
}

// Similarity handles GET /v1/cases/{caseID}/similarity/{otherID}.
func (h *Handler) Similarity(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	a, err := pathID(r, "caseID")
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	b, err := pathID(r, "otherID")
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	score, err := h.cfg.Engine.CaseSimilarity(a, b)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]any{"case_id": a, "other_id": b, "similarity": score}, h.meta(start))
}

// Segments handles GET /v1/segments.
func (h *Handler) Segments(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	profiles, err := h.cfg.Engine.Clusters()
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]any{"clusters": profiles}, h.meta(start))
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}
