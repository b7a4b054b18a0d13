// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomtom215/almoner/internal/recommend"
)

// EngineSource is the part of recommend.Engine the collector reads.
type EngineSource interface {
	Metrics() recommend.Metrics
	Status() recommend.TrainingStatus
}

// EngineCollector exports engine counters at scrape time.
type EngineCollector struct {
	source EngineSource

	requests     *prometheus.Desc
	cacheHits    *prometheus.Desc
	cacheMisses  *prometheus.Desc
	cacheEntries *prometheus.Desc
	fallbacks    *prometheus.Desc
	degraded     *prometheus.Desc
	errors       *prometheus.Desc
	modelVersion *prometheus.Desc
	training     *prometheus.Desc
	dataset      *prometheus.Desc
}

var _ prometheus.Collector = (*EngineCollector)(nil)

// NewEngineCollector creates a collector for the given engine.
func NewEngineCollector(source EngineSource) *EngineCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", name), help, labels, nil)
	}
	return &EngineCollector{
		source:       source,
		requests:     desc("requests_total", "Ranking requests served"),
		cacheHits:    desc("cache_hits_total", "Ranking cache hits"),
		cacheMisses:  desc("cache_misses_total", "Ranking cache misses"),
		cacheEntries: desc("cache_entries", "Cached rankings"),
		fallbacks:    desc("fallbacks_total", "Rankings served from the trending fallback"),
		degraded:     desc("degraded_signals_total", "Signals skipped or unavailable while ranking"),
		errors:       desc("errors_total", "Ranking requests that failed"),
		modelVersion: desc("model_version", "Version of the published model set"),
		training:     desc("training_in_progress", "1 while a training run is in progress"),
		dataset:      desc("dataset_records", "Records in the training dataset", "kind"),
	}
}

// Describe implements prometheus.Collector.
func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.requests, c.cacheHits, c.cacheMisses, c.cacheEntries, c.fallbacks,
		c.degraded, c.errors, c.modelVersion, c.training, c.dataset,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()
	s := c.source.Status()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(m.Requests))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(m.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(m.CacheMisses))
	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(m.CacheEntries))
	ch <- prometheus.MustNewConstMetric(c.fallbacks, prometheus.CounterValue, float64(m.Fallbacks))
	ch <- prometheus.MustNewConstMetric(c.degraded, prometheus.CounterValue, float64(m.Degraded))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(m.Errors))
	ch <- prometheus.MustNewConstMetric(c.modelVersion, prometheus.GaugeValue, float64(m.ModelVersion))

	training := 0.0
	if s.IsTraining {
		training = 1
	}
	ch <- prometheus.MustNewConstMetric(c.training, prometheus.GaugeValue, training)
	ch <- prometheus.MustNewConstMetric(c.dataset, prometheus.GaugeValue, float64(s.Cases), "cases")
	ch <- prometheus.MustNewConstMetric(c.dataset, prometheus.GaugeValue, float64(s.Donors), "donors")
	ch <- prometheus.MustNewConstMetric(c.dataset, prometheus.GaugeValue, float64(s.Donations), "donations")
}
