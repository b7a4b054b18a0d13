// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/almoner/internal/events"
	"github.com/tomtom215/almoner/internal/ledger"
	"github.com/tomtom215/almoner/internal/logging"
	"github.com/tomtom215/almoner/internal/recommend"
	"github.com/tomtom215/almoner/internal/validation"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Status   string    `json:"status"`
	Data     any       `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	Timestamp    time.Time `json:"timestamp"`
	QueryTimeMS  int64     `json:"query_time_ms,omitempty"`
	ModelVersion int       `json:"model_version,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// APIError is a machine-readable error code with a message for humans.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeModelNotReady    = "MODEL_NOT_READY"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL_ERROR"
)

// sanitizeLogValue escapes control characters so user input cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// respondJSON writes a JSON envelope.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, response *APIResponse) {
	if response.Metadata.Timestamp.IsZero() {
		response.Metadata.Timestamp = time.Now().UTC()
	}
	response.Metadata.RequestID = logging.RequestIDFromContext(r.Context())

	data, err := json.Marshal(response)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("failed to write JSON response")
	}
}

// respondData writes a success envelope.
func respondData(w http.ResponseWriter, r *http.Request, status int, data any, meta Metadata) {
	respondJSON(w, r, status, &APIResponse{Status: "success", Data: data, Metadata: meta})
}

// respondError writes an error envelope. err is logged, never sent.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil {
		event := logging.Ctx(r.Context()).Warn()
		if status >= http.StatusInternalServerError {
			event = logging.Ctx(r.Context()).Error()
		}
		event.Str("code", code).Str("path", sanitizeLogValue(r.URL.Path)).
			Str("error", sanitizeLogValue(err.Error())).Msg("API error")
	}
	respondJSON(w, r, status, &APIResponse{
		Status: "error",
		Error:  &APIError{Code: code, Message: message},
	})
}

// respondEngineError maps the engine's error taxonomy onto HTTP.
func respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var structErr *validation.StructError
	switch {
	case errors.As(err, &structErr):
		respondValidation(w, r, structErr)
	case errors.Is(err, events.ErrMalformedEvent), errors.Is(err, recommend.ErrConfiguration):
		respondError(w, r, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, recommend.ErrUnknownEntity), errors.Is(err, ledger.ErrEntryNotFound):
		respondError(w, r, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, recommend.ErrModelNotFitted):
		respondError(w, r, http.StatusServiceUnavailable, CodeModelNotReady, "models are not trained yet", err)
	case errors.Is(err, recommend.ErrDatasetNotLoaded):
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "case data is not loaded yet", err)
	case errors.Is(err, recommend.ErrInsufficientData):
		respondError(w, r, http.StatusUnprocessableEntity, CodeInsufficientData, err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusGatewayTimeout, CodeTimeout, "request timed out", err)
	default:
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "internal error", err)
	}
}

func respondValidation(w http.ResponseWriter, r *http.Request, structErr *validation.StructError) {
	details := make(map[string]any, len(structErr.Fields))
	for _, f := range structErr.Fields {
		details[f.Path] = f.Message
	}
	respondJSON(w, r, http.StatusBadRequest, &APIResponse{
		Status: "error",
		Error:  &APIError{Code: CodeValidation, Message: structErr.Error(), Details: details},
	})
}

// decodeJSON reads a bounded request body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &validation.StructError{Fields: []validation.FieldError{{Path: "body", Tag: "required", Message: "request body is required"}}}
		}
		return &validation.StructError{Fields: []validation.FieldError{{Path: "body", Tag: "json", Message: "invalid JSON: " + err.Error()}}}
	}
	return validation.ValidateStruct(v)
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, &validation.StructError{Fields: []validation.FieldError{{
			Path: name, Tag: "gt", Param: "0", Value: raw,
			Message: name + " must be a positive integer",
		}}}
	}
	return id, nil
}

// getIntParam extracts an integer query parameter with a default value.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
