// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package algorithms

import (
	"math"
	"sort"

	"github.com/tomtom215/almoner/internal/recommend"
)

// columnEncoder maps a FeatureVector onto a dense row. Numeric columns are
// optionally standardized to zero mean and unit variance. Categorical
// columns are one-hot encoded against the levels seen at fit time; unseen
// levels encode as all zeros.
type columnEncoder struct {
	Means  []float64  `json:"means"`
	Scales []float64  `json:"scales"`
	Levels [][]string `json:"levels"`
}

func fitColumnEncoder(rows []recommend.FeatureVector, standardize bool) *columnEncoder {
	enc := &columnEncoder{}
	if len(rows) == 0 {
		return enc
	}

	numeric := len(rows[0].Numeric)
	enc.Means = make([]float64, numeric)
	enc.Scales = make([]float64, numeric)
	for j := 0; j < numeric; j++ {
		enc.Scales[j] = 1
		if !standardize {
			continue
		}
		var sum float64
		for _, r := range rows {
			sum += r.Numeric[j]
		}
		mean := sum / float64(len(rows))
		var ss float64
		for _, r := range rows {
			d := r.Numeric[j] - mean
			ss += d * d
		}
		enc.Means[j] = mean
		// Constant columns are centered but left unscaled.
		if std := math.Sqrt(ss / float64(len(rows))); std > 0 {
			enc.Scales[j] = std
		}
	}

	enc.Levels = categoricalLevels(rows)
	return enc
}

// categoricalLevels collects the sorted distinct values of every
// categorical column.
func categoricalLevels(rows []recommend.FeatureVector) [][]string {
	if len(rows) == 0 {
		return nil
	}
	levels := make([][]string, len(rows[0].Categorical))
	for j := range levels {
		seen := make(map[string]struct{})
		for _, r := range rows {
			seen[r.Categorical[j]] = struct{}{}
		}
		for v := range seen {
			levels[j] = append(levels[j], v)
		}
		sort.Strings(levels[j])
	}
	return levels
}

// Width is the length of a transformed row.
func (e *columnEncoder) Width() int {
	w := len(e.Means)
	for _, l := range e.Levels {
		w += len(l)
	}
	return w
}

// Transform encodes one vector.
func (e *columnEncoder) Transform(v recommend.FeatureVector) []float64 {
	out := make([]float64, 0, e.Width())
	for j := range e.Means {
		var x float64
		if j < len(v.Numeric) {
			x = v.Numeric[j]
		}
		out = append(out, (x-e.Means[j])/e.Scales[j])
	}
	for j, levels := range e.Levels {
		var value string
		if j < len(v.Categorical) {
			value = v.Categorical[j]
		}
		idx := sort.SearchStrings(levels, value)
		for i := range levels {
			if i == idx && levels[i] == value {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

// labelEncoder maps categorical columns to ordinal codes in sorted level
// order, appended after the numeric columns. Unseen levels encode as -1.
type labelEncoder struct {
	Numeric int        `json:"numeric"`
	Levels  [][]string `json:"levels"`
}

func fitLabelEncoder(rows []recommend.FeatureVector) *labelEncoder {
	enc := &labelEncoder{}
	if len(rows) == 0 {
		return enc
	}
	enc.Numeric = len(rows[0].Numeric)
	enc.Levels = categoricalLevels(rows)
	return enc
}

func (e *labelEncoder) Width() int {
	return e.Numeric + len(e.Levels)
}

func (e *labelEncoder) Transform(v recommend.FeatureVector) []float64 {
	out := make([]float64, 0, e.Width())
	for j := 0; j < e.Numeric; j++ {
		var x float64
		if j < len(v.Numeric) {
			x = v.Numeric[j]
		}
		out = append(out, x)
	}
	for j, levels := range e.Levels {
		code := -1.0
		if j < len(v.Categorical) {
			idx := sort.SearchStrings(levels, v.Categorical[j])
			if idx < len(levels) && levels[idx] == v.Categorical[j] {
				code = float64(idx)
			}
		}
		out = append(out, code)
	}
	return out
}
