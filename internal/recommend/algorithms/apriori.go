// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package algorithms

import (
	"context"
	"sort"

	"github.com/tomtom215/almoner/internal/recommend"
)

const aprioriFormat = 1

// Apriori mines pairwise category rules A -> B from per-donor category sets.
//
//	support(A, B)    = donors(A and B) / donors
//	confidence(A->B) = donors(A and B) / donors(A)
//
// Only rules meeting both thresholds are kept. Each donor counts once per
// category no matter how often they gave to it.
type Apriori struct {
	BaseAlgorithm

	minSupport    float64
	minConfidence float64

	// Fitted state
	rules []recommend.Rule
	byAnt map[recommend.Category][]recommend.Rule
}

// AprioriConfig contains configuration for Apriori.
type AprioriConfig struct {
	MinSupport    float64
	MinConfidence float64
}

// NewApriori creates an unfitted rule miner. Negative thresholds select the
// defaults (support 0.1, confidence 0.5); zero keeps every co-occurring pair.
func NewApriori(cfg AprioriConfig) *Apriori {
	if cfg.MinSupport < 0 {
		cfg.MinSupport = 0.1
	}
	if cfg.MinConfidence < 0 {
		cfg.MinConfidence = 0.5
	}

	return &Apriori{
		BaseAlgorithm: NewBaseAlgorithm(recommend.ComponentRules),
		minSupport:    cfg.MinSupport,
		minConfidence: cfg.MinConfidence,
	}
}

type categoryPair struct {
	a, b recommend.Category
}

// Fit mines rules. No transactions yields an empty, fitted rule set.
func (a *Apriori) Fit(ctx context.Context, transactions [][]recommend.Category) error {
	single := make(map[recommend.Category]int)
	pairs := make(map[categoryPair]int)

	for i, tx := range transactions {
		if i%1024 == 0 && ContextCancelled(ctx) {
			return ctx.Err()
		}
		set := distinctCategories(tx)
		for _, c := range set {
			single[c]++
		}
		for x := 0; x < len(set); x++ {
			for y := x + 1; y < len(set); y++ {
				pairs[categoryPair{set[x], set[y]}]++
			}
		}
	}

	var rules []recommend.Rule
	if total := float64(len(transactions)); total > 0 {
		for p, n := range pairs {
			support := float64(n) / total
			if support < a.minSupport {
				continue
			}
			for _, dir := range [2]categoryPair{{p.a, p.b}, {p.b, p.a}} {
				confidence := float64(n) / float64(single[dir.a])
				if confidence < a.minConfidence {
					continue
				}
				rules = append(rules, recommend.Rule{
					Antecedent: dir.a,
					Consequent: dir.b,
					Support:    support,
					Confidence: confidence,
				})
			}
		}
	}
	sortRules(rules)

	a.acquireFitLock()
	defer a.releaseFitLock()

	a.setRules(rules)
	a.markFitted()
	return nil
}

func (a *Apriori) setRules(rules []recommend.Rule) {
	a.rules = rules
	a.byAnt = make(map[recommend.Category][]recommend.Rule)
	for _, r := range rules {
		a.byAnt[r.Antecedent] = append(a.byAnt[r.Antecedent], r)
	}
}

// distinctCategories returns the sorted set of categories in tx.
func distinctCategories(tx []recommend.Category) []recommend.Category {
	seen := make(map[recommend.Category]struct{}, len(tx))
	out := make([]recommend.Category, 0, len(tx))
	for _, c := range tx {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortRules(rules []recommend.Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		if rules[i].Antecedent != rules[j].Antecedent {
			return rules[i].Antecedent < rules[j].Antecedent
		}
		return rules[i].Consequent < rules[j].Consequent
	})
}

// RecommendCategories returns every consequent reachable from the donated
// categories with its best confidence. Donated categories are excluded.
func (a *Apriori) RecommendCategories(donated []recommend.Category) ([]recommend.CategoryScore, error) {
	a.acquirePredictLock()
	defer a.releasePredictLock()

	if !a.fitted {
		return nil, a.notFitted()
	}

	have := make(map[recommend.Category]struct{}, len(donated))
	for _, c := range donated {
		have[c] = struct{}{}
	}

	best := make(map[recommend.Category]float64)
	for c := range have {
		for _, r := range a.byAnt[c] {
			if _, owned := have[r.Consequent]; owned {
				continue
			}
			if r.Confidence > best[r.Consequent] {
				best[r.Consequent] = r.Confidence
			}
		}
	}

	out := make([]recommend.CategoryScore, 0, len(best))
	for c, conf := range best {
		out = append(out, recommend.CategoryScore{Category: c, Confidence: conf})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// Rules returns a copy of every retained rule.
func (a *Apriori) Rules() []recommend.Rule {
	a.acquirePredictLock()
	defer a.releasePredictLock()
	return append([]recommend.Rule(nil), a.rules...)
}

type aprioriState struct {
	MinSupport    float64          `json:"min_support"`
	MinConfidence float64          `json:"min_confidence"`
	Rules         []recommend.Rule `json:"rules"`
}

// MarshalModel encodes the retained rules.
func (a *Apriori) MarshalModel() ([]byte, error) {
	a.acquirePredictLock()
	defer a.releasePredictLock()

	return encodeState(a.name, aprioriFormat, a.fitted, aprioriState{
		MinSupport:    a.minSupport,
		MinConfidence: a.minConfidence,
		Rules:         a.rules,
	})
}

// UnmarshalModel restores state written by MarshalModel.
func (a *Apriori) UnmarshalModel(data []byte) error {
	var st aprioriState
	fitted, err := decodeState(a.name, aprioriFormat, data, &st)
	if err != nil {
		return err
	}

	a.acquireFitLock()
	defer a.releaseFitLock()

	a.minSupport = st.MinSupport
	a.minConfidence = st.MinConfidence
	sortRules(st.Rules)
	a.setRules(st.Rules)
	if fitted {
		a.markFitted()
	} else {
		a.markUnfitted()
	}
	return nil
}
