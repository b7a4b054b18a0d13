// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"math/rand"
	"sort"
)

type pairKey struct {
	donor int
	cs    int
}

// LikelihoodExamples is a labeled donor x case training set.
type LikelihoodExamples struct {
	Rows   []FeatureVector
	Labels []bool
	Pairs  [][2]int
}

// Positives counts positive labels.
func (e *LikelihoodExamples) Positives() int {
	n := 0
	for _, l := range e.Labels {
		if l {
			n++
		}
	}
	return n
}

// BuildLikelihoodExamples reconstructs labels for the likelihood model.
// Positives are donor x case pairs with a completed donation. Negatives are
// shown-but-not-donated pairs from the ledger when available; otherwise they
// are sampled from cases that were open to the donor (created before the
// donor's last completed donation) and never donated to. Class imbalance is
// left to the caller.
func BuildLikelihoodExamples(ds *Dataset, shown []ShownPair, negativesPerPositive int, seed int64) *LikelihoodExamples {
	out := &LikelihoodExamples{}
	donated := make(map[pairKey]struct{})
	perDonor := make(map[int]int)

	for _, d := range ds.CompletedDonations() {
		key := pairKey{d.DonorID, d.CaseID}
		if _, dup := donated[key]; dup {
			continue
		}
		donated[key] = struct{}{}
		perDonor[d.DonorID]++
		out.add(ds, key, true)
	}

	if len(shown) > 0 {
		seen := make(map[pairKey]struct{})
		for _, p := range shown {
			key := pairKey{p.DonorID, p.CaseID}
			if p.Donated {
				continue
			}
			if _, ok := donated[key]; ok {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out.add(ds, key, false)
		}
		return out
	}

	if negativesPerPositive == 0 {
		return out
	}

	donorIDs := make([]int, 0, len(perDonor))
	for id := range perDonor {
		donorIDs = append(donorIDs, id)
	}
	sort.Ints(donorIDs)

	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // math/rand is fine for deterministic sampling
	for _, donorID := range donorIDs {
		donor, err := ds.Donor(donorID)
		if err != nil {
			continue
		}
		var pool []int
		for i := range ds.Cases {
			c := &ds.Cases[i]
			if c.Status != CaseStatusApproved && c.Status != CaseStatusCompleted {
				continue
			}
			if c.CreatedAt.After(donor.Stats.LastAt) {
				continue
			}
			if _, ok := donated[pairKey{donorID, c.ID}]; ok {
				continue
			}
			pool = append(pool, c.ID)
		}
		sort.Ints(pool)
		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

		limit := perDonor[donorID] * negativesPerPositive
		if limit > len(pool) {
			limit = len(pool)
		}
		for _, caseID := range pool[:limit] {
			out.add(ds, pairKey{donorID, caseID}, false)
		}
	}
	return out
}

func (e *LikelihoodExamples) add(ds *Dataset, key pairKey, label bool) {
	donor, err := ds.Donor(key.donor)
	if err != nil {
		return
	}
	c, err := ds.Case(key.cs)
	if err != nil {
		return
	}
	e.Rows = append(e.Rows, LikelihoodFeatures(donor, c))
	e.Labels = append(e.Labels, label)
	e.Pairs = append(e.Pairs, [2]int{key.donor, key.cs})
}

// FraudTrainingSet returns the cases carrying a moderator fraud label.
func FraudTrainingSet(ds *Dataset) ([]Case, []bool) {
	var (
		cases  []Case
		labels []bool
	)
	for i := range ds.Cases {
		if ds.Cases[i].FraudLabel == nil {
			continue
		}
		cases = append(cases, ds.Cases[i])
		labels = append(labels, *ds.Cases[i].FraudLabel)
	}
	return cases, labels
}

// SegmentationSamples builds one sample per donor with at least one usable
// record. Categories carry one entry per completed donation.
func SegmentationSamples(ds *Dataset, cfg *ClusterConfig) []DonorSample {
	cats := make(map[int][]Category)
	for _, d := range ds.CompletedDonations() {
		c, err := ds.Case(d.CaseID)
		if err != nil {
			continue
		}
		cats[d.DonorID] = append(cats[d.DonorID], c.Category)
	}

	samples := make([]DonorSample, 0, len(ds.Donors))
	for i := range ds.Donors {
		d := &ds.Donors[i]
		samples = append(samples, DonorSample{
			DonorID:    d.ID,
			Features:   DonorFeatures(d, cfg),
			Categories: cats[d.ID],
		})
	}
	return samples
}

// CaseDocuments returns the recommendation corpus and the search corpus.
func CaseDocuments(ds *Dataset) (content, search []Document) {
	content = make([]Document, 0, len(ds.Cases))
	search = make([]Document, 0, len(ds.Cases))
	for i := range ds.Cases {
		c := &ds.Cases[i]
		content = append(content, Document{ID: c.ID, Text: c.Text()})
		search = append(search, Document{ID: c.ID, Text: c.SearchText()})
	}
	return content, search
}
