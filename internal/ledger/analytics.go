// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/tomtom215/almoner/internal/metrics"
	"github.com/tomtom215/almoner/internal/recommend"
)

// AlgorithmStats aggregates the outcomes of entries produced by one
// algorithm tag.
type AlgorithmStats struct {
	Algorithm  string  `json:"algorithm"`
	Shown      int     `json:"shown"`
	Viewed     int     `json:"viewed"`
	Clicked    int     `json:"clicked"`
	Donated    int     `json:"donated"`
	CTR        float64 `json:"ctr"`
	Conversion float64 `json:"conversion"`
}

// DailyStats is one day of one algorithm.
type DailyStats struct {
	Date string `json:"date"` // YYYY-MM-DD, UTC
	AlgorithmStats
}

// Report is the ledger analytics for a time range.
type Report struct {
	Since      time.Time        `json:"since"`
	Until      time.Time        `json:"until"`
	Total      AlgorithmStats   `json:"total"`
	Algorithms []AlgorithmStats `json:"algorithms"`
	Daily      []DailyStats     `json:"daily"`
}

func (a *AlgorithmStats) add(e *recommend.LedgerEntry) {
	a.Shown++
	if e.Viewed {
		a.Viewed++
	}
	if e.Clicked {
		a.Clicked++
	}
	if e.Donated {
		a.Donated++
	}
}

func (a *AlgorithmStats) finish() {
	if a.Shown == 0 {
		return
	}
	a.CTR = float64(a.Clicked) / float64(a.Shown)
	a.Conversion = float64(a.Donated) / float64(a.Shown)
}

// Analytics aggregates entries shown in [since, until) per algorithm and
// per day. CTR is clicked/shown and conversion is donated/shown.
func (s *Store) Analytics(ctx context.Context, since, until time.Time) (*Report, error) {
	report := &Report{Since: since, Until: until, Total: AlgorithmStats{Algorithm: "all"}}
	byAlgo := make(map[string]*AlgorithmStats)
	type dayKey struct{ date, algo string }
	byDay := make(map[dayKey]*DailyStats)

	err := s.scan(ctx, since, until, func(e *recommend.LedgerEntry) {
		report.Total.add(e)

		a, ok := byAlgo[e.Algorithm]
		if !ok {
			a = &AlgorithmStats{Algorithm: e.Algorithm}
			byAlgo[e.Algorithm] = a
		}
		a.add(e)

		k := dayKey{e.ShownAt.UTC().Format(time.DateOnly), e.Algorithm}
		d, ok := byDay[k]
		if !ok {
			d = &DailyStats{Date: k.date, AlgorithmStats: AlgorithmStats{Algorithm: e.Algorithm}}
			byDay[k] = d
		}
		d.add(e)
	})
	metrics.RecordLedgerOperation("analytics", err)
	if err != nil {
		return nil, err
	}

	report.Total.finish()
	for _, a := range byAlgo {
		a.finish()
		report.Algorithms = append(report.Algorithms, *a)
	}
	sort.Slice(report.Algorithms, func(i, j int) bool {
		if report.Algorithms[i].Shown != report.Algorithms[j].Shown {
			return report.Algorithms[i].Shown > report.Algorithms[j].Shown
		}
		return report.Algorithms[i].Algorithm < report.Algorithms[j].Algorithm
	})

	for _, d := range byDay {
		d.finish()
		report.Daily = append(report.Daily, *d)
	}
	sort.Slice(report.Daily, func(i, j int) bool {
		if report.Daily[i].Date != report.Daily[j].Date {
			return report.Daily[i].Date < report.Daily[j].Date
		}
		return report.Daily[i].Algorithm < report.Daily[j].Algorithm
	})
	return report, nil
}
