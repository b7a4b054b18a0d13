// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

// Package metrics defines the Prometheus collectors for training, the
// recommendation ledger, donation events, the HTTP API and the DuckDB read
// model.
//
// Package-level collectors are registered with the default registry through
// promauto. Engine counters are exported by EngineCollector, which reads a
// snapshot from the engine on every scrape.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/almoner/internal/recommend"
)

const namespace = "almoner"

var (
	// Training
	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Model training runs by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Duration of a full model training run",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	ComponentFitted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_component_fitted",
			Help:      "1 if the component of the published model set is fitted",
		},
		[]string{"component"},
	)

	RetrainTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrain_triggers_total",
			Help:      "Retraining requests by trigger",
		},
		[]string{"trigger"}, // "schedule", "startup", "donations"
	)

	// Ledger
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Recommendation ledger operations by result",
		},
		[]string{"operation", "result"},
	)

	// Events
	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Donation and case events handled by result",
		},
		[]string{"event", "result"},
	)

	// Read model
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duckdb_query_duration_seconds",
			Help:      "Duration of DuckDB read model queries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duckdb_query_errors_total",
			Help:      "DuckDB read model query errors",
		},
		[]string{"operation", "table"},
	)

	// API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HTTP API requests by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "HTTP API request latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordTraining records one training run. On success the per-component fit
// gauges follow the published status.
func RecordTraining(status recommend.TrainingStatus, duration time.Duration, err error) { //nolint:gocritic // status is a read-only snapshot
	TrainingRuns.WithLabelValues(result(err)).Inc()
	TrainingDuration.Observe(duration.Seconds())
	if err != nil {
		return
	}
	for name, c := range status.Components {
		v := 0.0
		if c.Fitted {
			v = 1
		}
		ComponentFitted.WithLabelValues(name).Set(v)
	}
}

// RecordRetrainTrigger counts a retraining request.
func RecordRetrainTrigger(trigger string) {
	RetrainTriggers.WithLabelValues(trigger).Inc()
}

// RecordLedgerOperation counts a ledger read or write.
func RecordLedgerOperation(operation string, err error) {
	LedgerOperations.WithLabelValues(operation, result(err)).Inc()
}

// RecordEvent counts one handled event.
func RecordEvent(event string, err error) {
	EventsHandled.WithLabelValues(event, result(err)).Inc()
}

// RecordDBQuery records a read model query.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records one HTTP request. route is the router pattern,
// not the raw path, to keep label cardinality bounded.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetCircuitBreakerState publishes a breaker state.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
