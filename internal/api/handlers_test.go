// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tomtom215/almoner/internal/events"
	"github.com/tomtom215/almoner/internal/ledger"
	"github.com/tomtom215/almoner/internal/recommend"
)

type fakeEngine struct {
	version   int
	ranking   *recommend.Ranking
	err       error
	lastN     int
	lastQuery string
}

func (f *fakeEngine) Recommend(_ context.Context, donorID, n int) (*recommend.Ranking, error) {
	f.lastN = n
	if f.err != nil {
		return nil, f.err
	}
	r := *f.ranking
	r.DonorID = donorID
	return &r, nil
}

func (f *fakeEngine) Search(_ context.Context, query string, n int) ([]recommend.SearchHit, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return []recommend.SearchHit{{CaseID: 1, Title: "Surgery", Category: recommend.CategoryCancer, Score: 0.8}}, nil
}

func (f *fakeEngine) RecommendCategories(context.Context, int) ([]recommend.CategoryScore, error) {
	return nil, f.err
}

func (f *fakeEngine) AssessFraud(_ context.Context, c *recommend.Case) (*recommend.FraudAssessment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &recommend.FraudAssessment{CaseID: c.ID, Probability: 0.9, NeedsReview: true}, nil
}

func (f *fakeEngine) AssessFraudBatch(_ context.Context, ids []int) ([]recommend.FraudAssessment, []int, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return []recommend.FraudAssessment{
		{CaseID: ids[0], Probability: 0.9, NeedsReview: true},
	}, ids[1:], nil
}

func (f *fakeEngine) Likelihood(_ context.Context, _ int, ids []int) ([]recommend.LikelihoodScore, []int, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	out := make([]recommend.LikelihoodScore, len(ids))
	for i, id := range ids {
		out[i] = recommend.LikelihoodScore{CaseID: id, Probability: 0.5}
	}
	return out, nil, nil
}

func (f *fakeEngine) CaseSimilarity(a, b int) (float64, error) {
	if a == b {
		return 1, nil
	}
	return 0.25, f.err
}

func (f *fakeEngine) Clusters() ([]recommend.ClusterProfile, error) {
	return []recommend.ClusterProfile{{ID: 0, Size: 3}}, f.err
}

func (f *fakeEngine) Status() recommend.TrainingStatus {
	return recommend.TrainingStatus{ModelVersion: f.version}
}

func (f *fakeEngine) Metrics() recommend.Metrics {
	return recommend.Metrics{ModelVersion: f.version}
}

type fakeLedger struct {
	mu        sync.Mutex
	entries   map[string]recommend.LedgerEntry
	recordErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]recommend.LedgerEntry)}
}

func (l *fakeLedger) Record(_ context.Context, entries []recommend.LedgerEntry) ([]recommend.LedgerEntry, error) {
	if l.recordErr != nil {
		return nil, l.recordErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]recommend.LedgerEntry, len(entries))
	for i, e := range entries {
		e.ID = fmt.Sprintf("entry-%d", len(l.entries)+1)
		l.entries[e.ID] = e
		out[i] = e
	}
	return out, nil
}

func (l *fakeLedger) MarkInteraction(_ context.Context, id string, kind recommend.InteractionKind, at time.Time) (*recommend.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, id)
	}
	if kind == recommend.InteractionClicked && !e.Clicked {
		e.Clicked, e.ClickedAt = true, at
	}
	l.entries[id] = e
	return &e, nil
}

func (l *fakeLedger) Get(_ context.Context, id string) (*recommend.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, id)
	}
	return &e, nil
}

type fakeReporter struct {
	since, until time.Time
}

func (f *fakeReporter) Analytics(_ context.Context, since, until time.Time) (*ledger.Report, error) {
	f.since, f.until = since, until
	return &ledger.Report{Since: since, Until: until}, nil
}

type fakePublisher struct {
	err       error
	donations []events.DonationStatusChanged
	cases     []events.CaseChanged
}

func (p *fakePublisher) PublishDonation(_ context.Context, ev events.DonationStatusChanged) error {
	if p.err != nil {
		return p.err
	}
	p.donations = append(p.donations, ev)
	return nil
}

func (p *fakePublisher) PublishCaseChanged(_ context.Context, ev events.CaseChanged) error {
	if p.err != nil {
		return p.err
	}
	p.cases = append(p.cases, ev)
	return nil
}

type fakeRetrainer struct{ queued int }

func (f *fakeRetrainer) Trigger(string) bool {
	f.queued++
	return f.queued == 1
}

type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *APIError       `json:"error"`
}

func testRanking() *recommend.Ranking {
	return &recommend.Ranking{
		RequestID: "rank-1",
		Reason:    "hybrid",
		Items: []recommend.RankedCase{
			{CaseID: 10, Title: "Chemo", Category: recommend.CategoryCancer, Score: 0.9, Algorithm: "hybrid", RawScore: 0.7},
			{CaseID: 11, Title: "Rebuild", Category: recommend.CategoryAccident, Score: 0.5, Algorithm: "content", RawScore: 0.4},
		},
		ModelVersion: 3,
	}
}

type testDeps struct {
	engine    *fakeEngine
	ledger    *fakeLedger
	reporter  *fakeReporter
	publisher *fakePublisher
	retrainer *fakeRetrainer
}

func newTestRouter(t *testing.T, mutate func(*HandlerConfig), rc RouterConfig) (http.Handler, *testDeps) {
	t.Helper()
	deps := &testDeps{
		engine:    &fakeEngine{version: 3, ranking: testRanking()},
		ledger:    newFakeLedger(),
		reporter:  &fakeReporter{},
		publisher: &fakePublisher{},
		retrainer: &fakeRetrainer{},
	}
	cfg := HandlerConfig{
		Engine:    deps.engine,
		Ledger:    deps.ledger,
		Reporter:  deps.reporter,
		Publisher: deps.publisher,
		Retrainer: deps.retrainer,
		Gatherer:  prometheus.NewRegistry(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := NewHandler(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	return NewRouter(h, rc), deps
}

func do(t *testing.T, router http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, http.NoBody)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestNewHandler_RequiresEngine(t *testing.T) {
	if _, err := NewHandler(HandlerConfig{}, zerolog.Nop()); err == nil {
		t.Fatal("NewHandler() without engine should fail")
	}
}

func TestRecommendations(t *testing.T) {
	t.Run("records shown items", func(t *testing.T) {
		router, deps := newTestRouter(t, nil, RouterConfig{})
		rec, env := do(t, router, http.MethodGet, "/v1/donors/7/recommendations?n=2", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		var resp RecommendationsResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		if resp.DonorID != 7 || len(resp.Items) != 2 {
			t.Errorf("ranking = donor %d, %d items", resp.DonorID, len(resp.Items))
		}
		if len(resp.LedgerEntryIDs) != 2 {
			t.Fatalf("ledger ids = %v, want 2", resp.LedgerEntryIDs)
		}
		entry := deps.ledger.entries[resp.LedgerEntryIDs[1]]
		if entry.CaseID != 11 || entry.Algorithm != "content" || entry.DonorID != 7 {
			t.Errorf("second entry = %+v", entry)
		}
		if deps.engine.lastN != 2 {
			t.Errorf("engine n = %d, want 2", deps.engine.lastN)
		}
		if env.Metadata.ModelVersion != 3 {
			t.Errorf("model_version = %d, want 3", env.Metadata.ModelVersion)
		}
	})

	t.Run("ledger failure still serves", func(t *testing.T) {
		router, deps := newTestRouter(t, nil, RouterConfig{})
		deps.ledger.recordErr = errors.New("disk full")
		rec, env := do(t, router, http.MethodGet, "/v1/donors/7/recommendations", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if strings.Contains(string(env.Data), "ledger_entry_ids") {
			t.Error("ledger ids should be omitted when recording fails")
		}
	})

	errorCases := []struct {
		name     string
		target   string
		err      error
		wantCode int
		wantErr  string
	}{
		{"non numeric donor", "/v1/donors/abc/recommendations", nil, http.StatusBadRequest, CodeValidation},
		{"zero donor", "/v1/donors/0/recommendations", nil, http.StatusBadRequest, CodeValidation},
		{"n too large", "/v1/donors/7/recommendations?n=1000", nil, http.StatusBadRequest, CodeValidation},
		{"unknown donor", "/v1/donors/7/recommendations",
			&recommend.UnknownEntityError{Kind: recommend.EntityDonor, ID: 7}, http.StatusNotFound, CodeNotFound},
		{"untrained", "/v1/donors/7/recommendations",
			&recommend.ModelNotFittedError{Component: "ranker"}, http.StatusServiceUnavailable, CodeModelNotReady},
		{"no dataset", "/v1/donors/7/recommendations",
			recommend.ErrDatasetNotLoaded, http.StatusServiceUnavailable, CodeUnavailable},
		{"bad configuration", "/v1/donors/7/recommendations",
			&recommend.ConfigurationError{Field: "hybrid.weights", Reason: "sum"}, http.StatusBadRequest, CodeValidation},
		{"deadline", "/v1/donors/7/recommendations",
			context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{"internal", "/v1/donors/7/recommendations",
			errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			router, deps := newTestRouter(t, nil, RouterConfig{})
			deps.engine.err = tt.err
			rec, env := do(t, router, http.MethodGet, tt.target, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if env.Error == nil || env.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want code %s", env.Error, tt.wantErr)
			}
			if tt.wantCode == http.StatusInternalServerError && strings.Contains(env.Error.Message, "boom") {
				t.Error("internal error details leaked to client")
			}
		})
	}
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantCode int
	}{
		{"query", "/v1/search?q=%20surgery%20&n=5", http.StatusOK},
		{"missing query", "/v1/search", http.StatusBadRequest},
		{"blank query", "/v1/search?q=%20%20", http.StatusBadRequest},
		{"negative n", "/v1/search?q=x&n=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, deps := newTestRouter(t, nil, RouterConfig{})
			rec, _ := do(t, router, http.MethodGet, tt.target, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && deps.engine.lastQuery != "surgery" {
				t.Errorf("query = %q, want trimmed", deps.engine.lastQuery)
			}
		})
	}
}

func TestLikelihood(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid", `{"case_ids":[1,2]}`, http.StatusOK},
		{"empty list", `{"case_ids":[]}`, http.StatusBadRequest},
		{"non positive id", `{"case_ids":[0]}`, http.StatusBadRequest},
		{"unknown field", `{"case_ids":[1],"extra":true}`, http.StatusBadRequest},
		{"malformed", `{"case_ids":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, nil, RouterConfig{})
			rec, env := do(t, router, http.MethodPost, "/v1/donors/3/likelihood", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode == http.StatusOK && !strings.Contains(string(env.Data), `"skipped":[]`) {
				t.Errorf("skipped should be an empty list: %s", env.Data)
			}
		})
	}
}

func TestLikelihood_BodyTooLarge(t *testing.T) {
	router, _ := newTestRouter(t, func(c *HandlerConfig) { c.MaxBodyBytes = 32 }, RouterConfig{})
	body := `{"case_ids":[` + strings.Repeat("1,", 40) + `1]}`
	rec, _ := do(t, router, http.MethodPost, "/v1/donors/3/likelihood", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAssessFraud(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid", `{"id":5,"title":"Help","description":"urgent","category":"cancer","target_amount":1000}`, http.StatusOK},
		{"unknown category", `{"id":5,"category":"lottery"}`, http.StatusBadRequest},
		{"negative collected", `{"id":5,"category":"cancer","collected_amount":-1}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, nil, RouterConfig{})
			rec, env := do(t, router, http.MethodPost, "/v1/fraud/assess", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var a recommend.FraudAssessment
			if err := json.Unmarshal(env.Data, &a); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if a.CaseID != 5 || !a.NeedsReview {
				t.Errorf("assessment = %+v", a)
			}
		})
	}
}

func TestAssessFraudBatch(t *testing.T) {
	router, _ := newTestRouter(t, nil, RouterConfig{})
	rec, env := do(t, router, http.MethodPost, "/v1/fraud/batch", `{"case_ids":[4,99]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var data struct {
		Assessments []recommend.FraudAssessment `json:"assessments"`
		NeedsReview int                         `json:"needs_review"`
		Skipped     []int                       `json:"skipped"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Assessments) != 1 || data.NeedsReview != 1 {
		t.Errorf("assessments = %+v, needs_review = %d", data.Assessments, data.NeedsReview)
	}
	if len(data.Skipped) != 1 || data.Skipped[0] != 99 {
		t.Errorf("skipped = %v, want [99]", data.Skipped)
	}
}

func TestSimilarityAndSegments(t *testing.T) {
	router, _ := newTestRouter(t, nil, RouterConfig{})

	rec, env := do(t, router, http.MethodGet, "/v1/cases/4/similarity/4", "")
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"similarity":1`) {
		t.Errorf("self similarity: %d %s", rec.Code, env.Data)
	}

	rec, env = do(t, router, http.MethodGet, "/v1/segments", "")
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"clusters"`) {
		t.Errorf("segments: %d %s", rec.Code, env.Data)
	}
}

func TestSegments_InsufficientData(t *testing.T) {
	router, deps := newTestRouter(t, nil, RouterConfig{})
	deps.engine.err = &recommend.InsufficientDataError{Component: "segmentation", Reason: "too few donors", Have: 1, Need: 3}
	rec, env := do(t, router, http.MethodGet, "/v1/segments", "")
	if rec.Code != http.StatusUnprocessableEntity || env.Error.Code != CodeInsufficientData {
		t.Errorf("status = %d, error = %+v", rec.Code, env.Error)
	}
}

func TestLedgerInteractions(t *testing.T) {
	router, deps := newTestRouter(t, nil, RouterConfig{})
	recorded, err := deps.ledger.Record(context.Background(), []recommend.LedgerEntry{{DonorID: 1, CaseID: 2}})
	if err != nil {
		t.Fatal(err)
	}
	id := recorded[0].ID

	tests := []struct {
		name     string
		target   string
		body     string
		wantCode int
	}{
		{"click", "/v1/ledger/" + id + "/interactions", `{"kind":"clicked","at":"2026-03-01T10:00:00Z"}`, http.StatusOK},
		{"unknown kind", "/v1/ledger/" + id + "/interactions", `{"kind":"shared"}`, http.StatusBadRequest},
		{"missing kind", "/v1/ledger/" + id + "/interactions", `{}`, http.StatusBadRequest},
		{"unknown entry", "/v1/ledger/nope/interactions", `{"kind":"viewed"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, router, http.MethodPost, tt.target, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	rec, env := do(t, router, http.MethodGet, "/v1/ledger/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var entry recommend.LedgerEntry
	if err := json.Unmarshal(env.Data, &entry); err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !entry.Clicked || !entry.ClickedAt.Equal(want) {
		t.Errorf("entry = clicked %v at %v, want %v", entry.Clicked, entry.ClickedAt, want)
	}
}

func TestLedgerReport(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
	}{
		{"default range", "", http.StatusOK},
		{"explicit range", "?since=2026-01-01T00:00:00Z&until=2026-02-01T00:00:00Z", http.StatusOK},
		{"bad timestamp", "?since=yesterday", http.StatusBadRequest},
		{"inverted range", "?since=2026-02-01T00:00:00Z&until=2026-01-01T00:00:00Z", http.StatusBadRequest},
		{"range too long", "?since=2024-01-01T00:00:00Z&until=2026-01-01T00:00:00Z", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, deps := newTestRouter(t, nil, RouterConfig{})
			rec, _ := do(t, router, http.MethodGet, "/v1/ledger/report"+tt.query, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.name == "default range" {
				if got := deps.reporter.until.Sub(deps.reporter.since); got != 30*24*time.Hour {
					t.Errorf("default range = %v, want 30 days", got)
				}
			}
		})
	}
}

func TestDonationEvent(t *testing.T) {
	const valid = `{"donation_id":1,"donor_id":2,"case_id":3,"amount":25,"status":"completed"}`
	tests := []struct {
		name       string
		body       string
		publishErr error
		wantCode   int
	}{
		{"accepted", valid, nil, http.StatusAccepted},
		{"unknown status", `{"donation_id":1,"donor_id":2,"case_id":3,"amount":25,"status":"lost"}`, nil, http.StatusBadRequest},
		{"zero amount", `{"donation_id":1,"donor_id":2,"case_id":3,"amount":0,"status":"pending"}`, nil, http.StatusBadRequest},
		{"bus down", valid, errors.New("router stopped"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, deps := newTestRouter(t, nil, RouterConfig{})
			deps.publisher.err = tt.publishErr
			rec, env := do(t, router, http.MethodPost, "/v1/events/donations", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusAccepted {
				return
			}
			if len(deps.publisher.donations) != 1 {
				t.Fatalf("published %d events, want 1", len(deps.publisher.donations))
			}
			ev := deps.publisher.donations[0]
			if ev.EventID == "" || ev.OccurredAt.IsZero() {
				t.Errorf("event id and time should be filled: %+v", ev)
			}
			if !strings.Contains(string(env.Data), ev.EventID) {
				t.Errorf("response %s should carry event id %s", env.Data, ev.EventID)
			}
		})
	}
}

func TestCaseEvent(t *testing.T) {
	router, deps := newTestRouter(t, nil, RouterConfig{})

	rec, _ := do(t, router, http.MethodPost, "/v1/events/cases", `{"case_id":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero case id status = %d, want 400", rec.Code)
	}

	rec, _ = do(t, router, http.MethodPost, "/v1/events/cases", `{"event_id":"e-1","case_id":8,"reason":"moderated"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(deps.publisher.cases) != 1 || deps.publisher.cases[0].EventID != "e-1" {
		t.Errorf("published = %+v", deps.publisher.cases)
	}
}

func TestMissingCollaborators(t *testing.T) {
	router, _ := newTestRouter(t, func(c *HandlerConfig) {
		c.Ledger = nil
		c.Reporter = nil
		c.Publisher = nil
		c.Retrainer = nil
	}, RouterConfig{})

	tests := []struct {
		method, target, body string
	}{
		{http.MethodGet, "/v1/ledger/x", ""},
		{http.MethodGet, "/v1/ledger/report", ""},
		{http.MethodPost, "/v1/events/cases", `{"case_id":1}`},
		{http.MethodPost, "/v1/train", ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec, _ := do(t, router, tt.method, tt.target, tt.body)
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", rec.Code)
			}
		})
	}

	// Recommendations still serve without a ledger.
	rec, _ := do(t, router, http.MethodGet, "/v1/donors/1/recommendations", "")
	if rec.Code != http.StatusOK {
		t.Errorf("recommendations without ledger = %d, want 200", rec.Code)
	}
}

func TestTrain(t *testing.T) {
	router, deps := newTestRouter(t, nil, RouterConfig{})
	for i, want := range []string{`"queued":true`, `"queued":false`} {
		rec, env := do(t, router, http.MethodPost, "/v1/train", "")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("call %d status = %d, want 202", i, rec.Code)
		}
		if !strings.Contains(string(env.Data), want) {
			t.Errorf("call %d data = %s, want %s", i, env.Data, want)
		}
	}
	if deps.retrainer.queued != 2 {
		t.Errorf("trigger calls = %d, want 2", deps.retrainer.queued)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		version  int
		checkErr error
		wantCode int
	}{
		{"ready", 1, nil, http.StatusOK},
		{"not trained", 0, nil, http.StatusServiceUnavailable},
		{"check failing", 1, errors.New("ledger closed"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, deps := newTestRouter(t, func(c *HandlerConfig) {
				c.Checks = map[string]ReadinessCheck{
					"ledger": func(context.Context) error { return tt.checkErr },
				}
			}, RouterConfig{})
			deps.engine.version = tt.version
			rec, env := do(t, router, http.MethodGet, "/readyz", "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.checkErr != nil && !strings.Contains(string(env.Data), "ledger closed") {
				t.Errorf("failing check should be reported: %s", env.Data)
			}
		})
	}
}

func TestOpsEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, nil, RouterConfig{})

	rec, env := do(t, router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"alive":true`) {
		t.Errorf("healthz: %d %s", rec.Code, env.Data)
	}

	rec, env = do(t, router, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), `"training"`) {
		t.Errorf("status: %d %s", rec.Code, env.Data)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	mrec := httptest.NewRecorder()
	router.ServeHTTP(mrec, req)
	if mrec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", mrec.Code)
	}

	rec, env = do(t, router, http.MethodGet, "/v1/nowhere", "")
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != CodeNotFound {
		t.Errorf("unknown route: %d %+v", rec.Code, env.Error)
	}
}

func TestRequestID(t *testing.T) {
	router, _ := newTestRouter(t, nil, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("echoed id = %q, want abc-123", got)
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Metadata.RequestID != "abc-123" {
		t.Errorf("metadata request id = %q", env.Metadata.RequestID)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 100))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got == "" || len(got) > 64 {
		t.Errorf("oversized id should be replaced, got %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, nil, RouterConfig{RateLimitRequests: 2, RateLimitWindow: time.Minute})

	codes := make([]int, 0, 3)
	for range 3 {
		rec, _ := do(t, router, http.MethodGet, "/v1/segments", "")
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	// Probes are outside the limited group.
	rec, _ := do(t, router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz under limit = %d, want 200", rec.Code)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("a\nb\x7f"); got != `a\x0ab\x7f` {
		t.Errorf("sanitizeLogValue() = %q", got)
	}
}
