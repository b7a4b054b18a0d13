// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package algorithms

import (
	"context"
	"fmt"
	"sort"

	"github.com/tomtom215/almoner/internal/recommend"
)

const treeFormat = 1

// DecisionTree is a binary CART classifier using Gini impurity.
//
// Categorical columns are label-encoded in sorted level order. Candidate
// thresholds are midpoints between consecutive distinct values; features are
// scanned in column order and a split replaces the current best only when it
// is strictly better, so fitting is deterministic. Leaves predict the
// fraction of positive training rows that reached them.
type DecisionTree struct {
	BaseAlgorithm

	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int

	// Fitted state
	encoder *labelEncoder
	nodes   []treeNode
}

// treeNode is one node of the flattened tree. Leaves have Left == -1.
type treeNode struct {
	Feature     int     `json:"f"`
	Threshold   float64 `json:"t"`
	Left        int     `json:"l"`
	Right       int     `json:"r"`
	Probability float64 `json:"p"`
	Samples     int     `json:"n"`
}

// DecisionTreeConfig contains configuration for DecisionTree.
type DecisionTreeConfig struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
}

// NewDecisionTree creates an unfitted classifier.
func NewDecisionTree(cfg DecisionTreeConfig) *DecisionTree {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 5
	}
	if cfg.MinSamplesLeaf <= 0 {
		cfg.MinSamplesLeaf = 2
	}

	return &DecisionTree{
		BaseAlgorithm:   NewBaseAlgorithm(recommend.ComponentLikelihood),
		maxDepth:        cfg.MaxDepth,
		minSamplesSplit: cfg.MinSamplesSplit,
		minSamplesLeaf:  cfg.MinSamplesLeaf,
	}
}

// Fit grows the tree on labeled rows.
func (t *DecisionTree) Fit(ctx context.Context, rows []recommend.FeatureVector, labels []bool) error {
	if len(rows) != len(labels) {
		return fmt.Errorf("%s: %d rows but %d labels", t.name, len(rows), len(labels))
	}
	if len(rows) == 0 {
		return &recommend.InsufficientDataError{Component: t.name, Reason: "no labeled donor-case pairs", Need: 1}
	}

	enc := fitLabelEncoder(rows)
	b := &treeBuilder{
		x:        make([][]float64, len(rows)),
		y:        labels,
		maxDepth: t.maxDepth,
		minSplit: t.minSamplesSplit,
		minLeaf:  t.minSamplesLeaf,
		ctx:      ctx,
	}
	for i := range rows {
		b.x[i] = enc.Transform(rows[i])
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	b.grow(idx, 0)
	if err := ctx.Err(); err != nil {
		return err
	}

	t.acquireFitLock()
	defer t.releaseFitLock()

	t.encoder = enc
	t.nodes = b.nodes
	t.markFitted()
	return nil
}

type treeBuilder struct {
	x        [][]float64
	y        []bool
	maxDepth int
	minSplit int
	minLeaf  int
	nodes    []treeNode
	ctx      context.Context
}

// grow appends the subtree for idx and returns its root index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		if b.y[i] {
			pos++
		}
	}

	self := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{
		Feature:     -1,
		Left:        -1,
		Right:       -1,
		Probability: float64(pos) / float64(len(idx)),
		Samples:     len(idx),
	})

	if depth >= b.maxDepth || len(idx) < b.minSplit || pos == 0 || pos == len(idx) {
		return self
	}
	if ContextCancelled(b.ctx) {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, pos)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self].Feature = feature
	b.nodes[self].Threshold = threshold
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

// bestSplit finds the split with the lowest weighted Gini impurity that
// improves on the parent and respects the leaf minimum.
func (b *treeBuilder) bestSplit(idx []int, pos int) (int, float64, bool) {
	n := len(idx)
	bestScore := gini(pos, n)
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, n)
	width := len(b.x[idx[0]])
	for f := 0; f < width; f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.x[sorted[i]][f] < b.x[sorted[j]][f]
		})

		leftPos := 0
		for k := 0; k < n-1; k++ {
			if b.y[sorted[k]] {
				leftPos++
			}
			leftN := k + 1
			lo, hi := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if lo == hi || leftN < b.minLeaf || n-leftN < b.minLeaf {
				continue
			}
			score := (float64(leftN)*gini(leftPos, leftN) + float64(n-leftN)*gini(pos-leftPos, n-leftN)) / float64(n)
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}

// PredictProbability returns P(donate) per row.
func (t *DecisionTree) PredictProbability(rows []recommend.FeatureVector) ([]float64, error) {
	t.acquirePredictLock()
	defer t.releasePredictLock()

	if !t.fitted {
		return nil, t.notFitted()
	}

	out := make([]float64, len(rows))
	for i := range rows {
		x := t.encoder.Transform(rows[i])
		node := 0
		for t.nodes[node].Left >= 0 {
			n := t.nodes[node]
			if x[n.Feature] <= n.Threshold {
				node = n.Left
			} else {
				node = n.Right
			}
		}
		out[i] = clamp01(t.nodes[node].Probability)
	}
	return out, nil
}

// Depth returns the depth of the fitted tree.
func (t *DecisionTree) Depth() int {
	t.acquirePredictLock()
	defer t.releasePredictLock()

	if len(t.nodes) == 0 {
		return 0
	}
	var walk func(int) int
	walk = func(i int) int {
		n := t.nodes[i]
		if n.Left < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

type treeState struct {
	MaxDepth        int           `json:"max_depth"`
	MinSamplesSplit int           `json:"min_samples_split"`
	MinSamplesLeaf  int           `json:"min_samples_leaf"`
	Encoder         *labelEncoder `json:"encoder,omitempty"`
	Nodes           []treeNode    `json:"nodes"`
}

// MarshalModel encodes the flattened tree.
func (t *DecisionTree) MarshalModel() ([]byte, error) {
	t.acquirePredictLock()
	defer t.releasePredictLock()

	return encodeState(t.name, treeFormat, t.fitted, treeState{
		MaxDepth:        t.maxDepth,
		MinSamplesSplit: t.minSamplesSplit,
		MinSamplesLeaf:  t.minSamplesLeaf,
		Encoder:         t.encoder,
		Nodes:           t.nodes,
	})
}

// UnmarshalModel restores state written by MarshalModel.
func (t *DecisionTree) UnmarshalModel(data []byte) error {
	var st treeState
	fitted, err := decodeState(t.name, treeFormat, data, &st)
	if err != nil {
		return err
	}
	if fitted && (st.Encoder == nil || len(st.Nodes) == 0) {
		return fmt.Errorf("%s: fitted state without nodes", t.name)
	}
	for i, n := range st.Nodes {
		if n.Left >= len(st.Nodes) || n.Right >= len(st.Nodes) || (n.Left >= 0 && n.Left <= i) {
			return fmt.Errorf("%s: node %d has invalid children", t.name, i)
		}
	}

	t.acquireFitLock()
	defer t.releaseFitLock()

	if st.MaxDepth > 0 {
		t.maxDepth, t.minSamplesSplit, t.minSamplesLeaf = st.MaxDepth, st.MinSamplesSplit, st.MinSamplesLeaf
	}
	t.encoder = st.Encoder
	t.nodes = st.Nodes
	if fitted {
		t.markFitted()
	} else {
		t.markUnfitted()
	}
	return nil
}
