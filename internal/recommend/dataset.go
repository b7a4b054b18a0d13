// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"fmt"
	"sort"
	"time"
)

// Dataset is an in-memory view of the system of record. Donor stats are
// recomputed from completed donations when the dataset is built.
//
// A Dataset is not safe for concurrent mutation. The Engine guards it with a
// reader-writer lock.
type Dataset struct {
	Cases     []Case
	Donors    []Donor
	Donations []Donation

	caseIdx     map[int]int
	donorIdx    map[int]int
	donationIdx map[int]int
}

// NewDataset indexes the given records. Cases that violate their invariants
// are rejected. Donations referencing unknown cases or donors are kept but
// ignored by every derived view.
func NewDataset(cases []Case, donors []Donor, donations []Donation) (*Dataset, error) {
	ds := &Dataset{
		Cases:       cases,
		Donors:      donors,
		Donations:   donations,
		caseIdx:     make(map[int]int, len(cases)),
		donorIdx:    make(map[int]int, len(donors)),
		donationIdx: make(map[int]int, len(donations)),
	}

	for i := range ds.Cases {
		if err := ds.Cases[i].Validate(); err != nil {
			return nil, err
		}
		ds.caseIdx[ds.Cases[i].ID] = i
	}
	for i := range ds.Donors {
		ds.donorIdx[ds.Donors[i].ID] = i
	}
	for i := range ds.Donations {
		if ds.Donations[i].Amount <= 0 {
			return nil, fmt.Errorf("donation %d: amount must be positive", ds.Donations[i].ID)
		}
		ds.donationIdx[ds.Donations[i].ID] = i
	}

	ds.recomputeAllStats()
	return ds, nil
}

// Case returns the case with the given id.
func (ds *Dataset) Case(id int) (*Case, error) {
	i, ok := ds.caseIdx[id]
	if !ok {
		return nil, &UnknownEntityError{Kind: EntityCase, ID: id}
	}
	return &ds.Cases[i], nil
}

// Donor returns the donor with the given id.
func (ds *Dataset) Donor(id int) (*Donor, error) {
	i, ok := ds.donorIdx[id]
	if !ok {
		return nil, &UnknownEntityError{Kind: EntityDonor, ID: id}
	}
	return &ds.Donors[i], nil
}

// CompletedDonations returns completed donations whose case and donor are
// both known, ordered by completion time.
func (ds *Dataset) CompletedDonations() []Donation {
	out := make([]Donation, 0, len(ds.Donations))
	for i := range ds.Donations {
		d := &ds.Donations[i]
		if d.Status != DonationCompleted {
			continue
		}
		if _, ok := ds.caseIdx[d.CaseID]; !ok {
			continue
		}
		if _, ok := ds.donorIdx[d.DonorID]; !ok {
			continue
		}
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp().Before(out[j].Timestamp())
	})
	return out
}

// DonorHistory returns the distinct case ids the donor completed donations
// to, in first-donation order.
func (ds *Dataset) DonorHistory(donorID int) []int {
	seen := make(map[int]struct{})
	var ids []int
	for _, d := range ds.CompletedDonations() {
		if d.DonorID != donorID {
			continue
		}
		if _, dup := seen[d.CaseID]; dup {
			continue
		}
		seen[d.CaseID] = struct{}{}
		ids = append(ids, d.CaseID)
	}
	return ids
}

// DonorCategories returns the category of every completed donation the donor
// made, one entry per donation.
func (ds *Dataset) DonorCategories(donorID int) []Category {
	var cats []Category
	for _, d := range ds.CompletedDonations() {
		if d.DonorID != donorID {
			continue
		}
		cats = append(cats, ds.Cases[ds.caseIdx[d.CaseID]].Category)
	}
	return cats
}

// Transactions returns, per donor with at least one completed donation, the
// set of categories donated to. Donors are ordered by id so the output is
// deterministic.
func (ds *Dataset) Transactions() [][]Category {
	byDonor := make(map[int]map[Category]struct{})
	for _, d := range ds.CompletedDonations() {
		set, ok := byDonor[d.DonorID]
		if !ok {
			set = make(map[Category]struct{})
			byDonor[d.DonorID] = set
		}
		set[ds.Cases[ds.caseIdx[d.CaseID]].Category] = struct{}{}
	}

	donorIDs := make([]int, 0, len(byDonor))
	for id := range byDonor {
		donorIDs = append(donorIDs, id)
	}
	sort.Ints(donorIDs)

	out := make([][]Category, 0, len(donorIDs))
	for _, id := range donorIDs {
		cats := make([]Category, 0, len(byDonor[id]))
		for c := range byDonor[id] {
			cats = append(cats, c)
		}
		sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
		out = append(out, cats)
	}
	return out
}

// AvailableCases returns approved cases that are not yet fully funded.
func (ds *Dataset) AvailableCases() []Case {
	out := make([]Case, 0, len(ds.Cases))
	for i := range ds.Cases {
		if ds.Cases[i].IsAvailable() {
			out = append(out, ds.Cases[i])
		}
	}
	return out
}

// ApplyDonation records a donation state change. A donation contributes to
// donor stats and the case collected amount exactly once, when it first
// enters completed. Replays of an already applied state are ignored.
//
// The returned flag reports whether the donor's completed history changed.
func (ds *Dataset) ApplyDonation(d Donation) (bool, error) {
	c, err := ds.Case(d.CaseID)
	if err != nil {
		return false, err
	}
	if _, err := ds.Donor(d.DonorID); err != nil {
		return false, err
	}

	i, known := ds.donationIdx[d.ID]
	if !known {
		if d.Amount <= 0 {
			return false, fmt.Errorf("donation %d: amount must be positive", d.ID)
		}
		target := d.Status
		d.Status = DonationPending
		if target != DonationPending {
			check := d
			if _, err := check.Transition(target, d.CompletedAt); err != nil {
				return false, err
			}
		}
		ds.Donations = append(ds.Donations, d)
		i = len(ds.Donations) - 1
		ds.donationIdx[d.ID] = i
		if target == DonationPending {
			return false, nil
		}
		d.Status = target
	}

	stored := &ds.Donations[i]
	at := d.CompletedAt
	if at.IsZero() {
		at = time.Now()
	}

	wasCompleted := stored.Status == DonationCompleted
	contributes, err := stored.Transition(d.Status, at)
	if err != nil {
		return false, err
	}
	if contributes {
		c.CollectedAmount += stored.Amount
	}

	historyChanged := contributes || (wasCompleted && stored.Status != DonationCompleted)
	if historyChanged {
		ds.recomputeStats(stored.DonorID)
	}
	return historyChanged, nil
}

// recomputeAllStats rebuilds derived stats for every donor.
func (ds *Dataset) recomputeAllStats() {
	for i := range ds.Donors {
		ds.Donors[i].Stats = DonorStats{}
	}
	for _, d := range ds.CompletedDonations() {
		s := &ds.Donors[ds.donorIdx[d.DonorID]].Stats
		accumulate(s, d)
	}
	for i := range ds.Donors {
		finalizeStats(&ds.Donors[i].Stats)
	}
}

// recomputeStats rebuilds derived stats for one donor.
func (ds *Dataset) recomputeStats(donorID int) {
	i, ok := ds.donorIdx[donorID]
	if !ok {
		return
	}
	s := &ds.Donors[i].Stats
	*s = DonorStats{}
	for _, d := range ds.CompletedDonations() {
		if d.DonorID == donorID {
			accumulate(s, d)
		}
	}
	finalizeStats(s)
}

func accumulate(s *DonorStats, d Donation) {
	ts := d.Timestamp()
	s.Count++
	s.Total += d.Amount
	if s.FirstAt.IsZero() || ts.Before(s.FirstAt) {
		s.FirstAt = ts
	}
	if ts.After(s.LastAt) {
		s.LastAt = ts
	}
}

func finalizeStats(s *DonorStats) {
	if s.Count == 0 {
		return
	}
	s.Average = s.Total / float64(s.Count)
	if s.Count > 1 {
		s.FrequencyDays = s.LastAt.Sub(s.FirstAt).Hours() / 24 / float64(s.Count-1)
	}
}
