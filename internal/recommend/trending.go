// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"sort"
	"time"
)

// TrendingStats summarises recent donation activity for one case.
type TrendingStats struct {
	CaseID          int
	RecentDonations int
	RecentAmount    float64
	// Donors counts distinct donors inside the window.
	Donors    int
	CreatedAt time.Time
}

// Score is the popularity score reported with trending results.
func (s TrendingStats) Score() float64 {
	return float64(s.RecentDonations)*10 + s.RecentAmount/1000
}

// TrendingCases ranks available cases by completed donations inside the
// window ending at now, then by recent amount, then by distinct recent
// donors, then by recency.
// Cases in exclude are skipped. Available cases without recent donations
// still qualify and sort after active ones.
func TrendingCases(ds *Dataset, now time.Time, window time.Duration, exclude map[int]struct{}, n int) []TrendingStats {
	since := now.Add(-window)
	stats := make(map[int]*TrendingStats)
	donors := make(map[int]map[int]struct{})

	for i := range ds.Cases {
		c := &ds.Cases[i]
		if !c.IsAvailable() {
			continue
		}
		if _, skip := exclude[c.ID]; skip {
			continue
		}
		stats[c.ID] = &TrendingStats{CaseID: c.ID, CreatedAt: c.CreatedAt}
		donors[c.ID] = make(map[int]struct{})
	}

	for _, d := range ds.CompletedDonations() {
		s, ok := stats[d.CaseID]
		if !ok {
			continue
		}
		ts := d.Timestamp()
		if ts.Before(since) || ts.After(now) {
			continue
		}
		donors[d.CaseID][d.DonorID] = struct{}{}
		s.RecentDonations++
		s.RecentAmount += d.Amount
	}

	out := make([]TrendingStats, 0, len(stats))
	for id, s := range stats {
		s.Donors = len(donors[id])
		out = append(out, *s)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RecentDonations != b.RecentDonations {
			return a.RecentDonations > b.RecentDonations
		}
		if a.RecentAmount != b.RecentAmount {
			return a.RecentAmount > b.RecentAmount
		}
		if a.Donors != b.Donors {
			return a.Donors > b.Donors
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.CaseID < b.CaseID
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
