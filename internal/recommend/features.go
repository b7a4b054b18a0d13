// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// FeatureVector is a fixed-shape projection of an entity used as model input.
// Vectors are always rebuilt from current records and never stored on models.
type FeatureVector struct {
	Numeric     []float64 `json:"numeric"`
	Categorical []string  `json:"categorical,omitempty"`
}

// Width returns the number of raw columns.
func (v FeatureVector) Width() int {
	return len(v.Numeric) + len(v.Categorical)
}

// DonorFeatureNames lists the column names DonorFeatures produces for the
// enabled groups, numeric columns first.
func DonorFeatureNames(cfg *ClusterConfig) (numeric, categorical []string) {
	if cfg.HasFeatureGroup(FeatureGroupAmounts) {
		numeric = append(numeric, "avg_donation_amount", "total_donations", "total_donated")
	}
	if cfg.HasFeatureGroup(FeatureGroupFrequency) {
		numeric = append(numeric, "donation_frequency_days")
	}
	if cfg.HasFeatureGroup(FeatureGroupCategories) {
		for _, c := range allCategories {
			numeric = append(numeric, "prefers_"+string(c))
		}
	}
	if cfg.HasFeatureGroup(FeatureGroupDemographics) {
		categorical = append(categorical, "age_range", "income_range")
	}
	return numeric, categorical
}

// DonorFeatures projects a donor for segmentation.
func DonorFeatures(d *Donor, cfg *ClusterConfig) FeatureVector {
	var v FeatureVector
	if cfg.HasFeatureGroup(FeatureGroupAmounts) {
		v.Numeric = append(v.Numeric, d.Stats.Average, float64(d.Stats.Count), d.Stats.Total)
	}
	if cfg.HasFeatureGroup(FeatureGroupFrequency) {
		v.Numeric = append(v.Numeric, d.Stats.FrequencyDays)
	}
	if cfg.HasFeatureGroup(FeatureGroupCategories) {
		prefs := make(map[Category]struct{}, len(d.PreferredCategories))
		for _, c := range d.PreferredCategories {
			prefs[c] = struct{}{}
		}
		for _, c := range allCategories {
			if _, ok := prefs[c]; ok {
				v.Numeric = append(v.Numeric, 1)
			} else {
				v.Numeric = append(v.Numeric, 0)
			}
		}
	}
	if cfg.HasFeatureGroup(FeatureGroupDemographics) {
		v.Categorical = append(v.Categorical, d.AgeRange.String(), d.IncomeRange.String())
	}
	return v
}

// LikelihoodFeatureNames lists the columns of LikelihoodFeatures.
var LikelihoodFeatureNames = []string{
	"donor_avg_donation_amount",
	"donor_total_donations",
	"donor_donation_frequency_days",
	"case_target_amount",
	"case_collected_amount",
	"case_urgency_score",
	"donor_age_range",
	"donor_income_range",
	"case_category",
	"case_urgency",
}

// LikelihoodFeatures projects a donor x case pair for the likelihood model.
func LikelihoodFeatures(d *Donor, c *Case) FeatureVector {
	return FeatureVector{
		Numeric: []float64{
			d.Stats.Average,
			float64(d.Stats.Count),
			d.Stats.FrequencyDays,
			c.TargetAmount,
			c.CollectedAmount,
			float64(c.Urgency),
		},
		Categorical: []string{
			d.AgeRange.String(),
			d.IncomeRange.String(),
			string(c.Category),
			c.Urgency.String(),
		},
	}
}

// FraudFeatureNames lists the columns produced by FraudEncoder.Encode.
var FraudFeatureNames = []string{
	"has_documents",
	"contact_phone_complete",
	"contact_email_complete",
	"beneficiary_name_complete",
	"amount_percentile",
	"description_length_percentile",
	"category",
}

// FraudEncoder turns case structural fields into non-negative count-like
// features. Amount deciles and description length quintiles are relative to
// the cases the encoder was fitted on.
type FraudEncoder struct {
	AmountEdges      []float64 `json:"amount_edges"`
	DescriptionEdges []float64 `json:"description_edges"`
}

// NewFraudEncoder fits quantile edges on the given cases.
func NewFraudEncoder(cases []Case) *FraudEncoder {
	amounts := make([]float64, len(cases))
	lengths := make([]float64, len(cases))
	for i := range cases {
		amounts[i] = cases[i].TargetAmount
		lengths[i] = float64(utf8.RuneCountInString(cases[i].Description))
	}
	return &FraudEncoder{
		AmountEdges:      quantileEdges(amounts, 10),
		DescriptionEdges: quantileEdges(lengths, 5),
	}
}

// Encode projects one case.
func (e *FraudEncoder) Encode(c *Case) FeatureVector {
	return FeatureVector{
		Numeric: []float64{
			boolFeature(c.HasDocuments),
			boolFeature(strings.TrimSpace(c.ContactPhone) != ""),
			boolFeature(strings.TrimSpace(c.ContactEmail) != ""),
			boolFeature(strings.TrimSpace(c.BeneficiaryName) != ""),
			float64(binOf(c.TargetAmount, e.AmountEdges)),
			float64(binOf(float64(utf8.RuneCountInString(c.Description)), e.DescriptionEdges)),
			float64(max(c.Category.Index(), 0)),
		},
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// quantileEdges returns the distinct interior cut points splitting values
// into q equal-frequency bins, using linear interpolation between order
// statistics. Duplicate edges are dropped, so fewer bins may result.
func quantileEdges(values []float64, q int) []float64 {
	if len(values) == 0 || q < 2 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var edges []float64
	for i := 1; i < q; i++ {
		edge := quantile(sorted, float64(i)/float64(q))
		if len(edges) > 0 && edge <= edges[len(edges)-1] {
			continue
		}
		if edge <= sorted[0] || edge >= sorted[len(sorted)-1] {
			continue
		}
		edges = append(edges, edge)
	}
	return edges
}

func quantile(sorted []float64, p float64) float64 {
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// binOf returns the right-inclusive bin index of v given interior edges.
func binOf(v float64, edges []float64) int {
	return sort.Search(len(edges), func(i int) bool { return edges[i] >= v })
}
