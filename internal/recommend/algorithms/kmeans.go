// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package algorithms

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/tomtom215/almoner/internal/recommend"
)

const kmeansFormat = 1

// KMeans segments donors with Lloyd's algorithm over standardized numeric
// columns and one-hot categorical columns. Centroids are seeded with
// k-means++ and the best of several restarts (lowest inertia) is kept.
//
// After clustering, each segment counts the categories its donors gave to.
// A candidate case scores the share of its category in that count.
type KMeans struct {
	BaseAlgorithm

	maxIterations int
	restarts      int
	seed          int64

	// Fitted state
	encoder     *columnEncoder
	centroids   [][]float64
	assignments map[int]int
	profiles    []recommend.ClusterProfile
	degenerate  bool
}

// KMeansConfig contains configuration for KMeans.
type KMeansConfig struct {
	MaxIterations int
	Restarts      int
	Seed          int64
}

// NewKMeans creates an unfitted segmenter.
func NewKMeans(cfg KMeansConfig) *KMeans {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 300
	}
	if cfg.Restarts <= 0 {
		cfg.Restarts = 10
	}

	return &KMeans{
		BaseAlgorithm: NewBaseAlgorithm(recommend.ComponentSegments),
		maxIterations: cfg.MaxIterations,
		restarts:      cfg.Restarts,
		seed:          cfg.Seed,
	}
}

// Fit clusters samples into min(k, len(samples)) segments.
func (m *KMeans) Fit(ctx context.Context, samples []recommend.DonorSample, k int) error {
	if len(samples) == 0 {
		m.setDegenerate()
		return &recommend.InsufficientDataError{Component: m.name, Reason: "no donors to cluster"}
	}
	if k <= 0 {
		return &recommend.ConfigurationError{Field: "cluster.k", Reason: "must be positive"}
	}

	rows := make([]recommend.FeatureVector, len(samples))
	for i := range samples {
		rows[i] = samples[i].Features
	}
	enc := fitColumnEncoder(rows, true)
	if enc.Width() == 0 {
		m.setDegenerate()
		return &recommend.InsufficientDataError{Component: m.name, Reason: "no feature columns enabled"}
	}

	points := make([][]float64, len(rows))
	for i := range rows {
		points[i] = enc.Transform(rows[i])
	}

	k = min(k, len(points))
	var (
		best        [][]float64
		bestLabels  []int
		bestInertia = math.Inf(1)
	)
	for r := 0; r < m.restarts; r++ {
		if ContextCancelled(ctx) {
			return ctx.Err()
		}
		//nolint:gosec // G404: math/rand is acceptable for ML initialization (not security)
		rng := rand.New(rand.NewSource(m.seed + int64(r)))
		centroids, labels, inertia := m.lloyd(ctx, points, k, rng)
		if inertia < bestInertia {
			best, bestLabels, bestInertia = centroids, labels, inertia
		}
	}
	if best == nil {
		return ctx.Err()
	}

	assignments := make(map[int]int, len(samples))
	profiles := make([]recommend.ClusterProfile, k)
	for c := range profiles {
		profiles[c] = recommend.ClusterProfile{ID: c, Preferences: make(map[recommend.Category]int)}
	}
	for i, s := range samples {
		c := bestLabels[i]
		assignments[s.DonorID] = c
		profiles[c].Size++
		for _, cat := range s.Categories {
			profiles[c].Preferences[cat]++
		}
	}

	m.acquireFitLock()
	defer m.releaseFitLock()

	m.encoder = enc
	m.centroids = best
	m.assignments = assignments
	m.profiles = profiles
	m.degenerate = false
	m.markFitted()
	return nil
}

func (m *KMeans) setDegenerate() {
	m.acquireFitLock()
	defer m.releaseFitLock()

	m.encoder = nil
	m.centroids = nil
	m.assignments = nil
	m.profiles = nil
	m.degenerate = true
	m.markUnfitted()
}

// lloyd runs one seeded k-means++ initialization followed by assignment and
// update steps until labels stop changing.
func (m *KMeans) lloyd(ctx context.Context, points [][]float64, k int, rng *rand.Rand) ([][]float64, []int, float64) {
	centroids := seedPlusPlus(points, k, rng)
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < m.maxIterations; iter++ {
		if ContextCancelled(ctx) {
			break
		}

		changed := false
		for i, p := range points {
			c := nearest(centroids, p)
			if c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		dim := len(points[0])
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := labels[i]
			counts[c]++
			for j, v := range p {
				sums[c][j] += v
			}
		}
		for c := range centroids {
			// Empty clusters keep their previous centroid.
			if counts[c] == 0 {
				continue
			}
			for j := range sums[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}

	var inertia float64
	for i, p := range points {
		inertia += squaredDistance(p, centroids[labels[i]])
	}
	return centroids, labels, inertia
}

// seedPlusPlus picks k initial centroids, each new one with probability
// proportional to its squared distance from the nearest chosen centroid.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, append([]float64(nil), first...))

	dist := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d := squaredDistance(p, centroids[nearest(centroids, p)])
			dist[i] = d
			total += d
		}

		next := 0
		if total == 0 {
			// Every point coincides with a centroid.
			next = rng.Intn(len(points))
		} else {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					next = i
					break
				}
				next = i
			}
		}
		centroids = append(centroids, append([]float64(nil), points[next]...))
	}
	return centroids
}

func nearest(centroids [][]float64, p []float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := squaredDistance(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// PredictCluster assigns a feature vector to the nearest centroid.
func (m *KMeans) PredictCluster(v recommend.FeatureVector) (int, error) {
	m.acquirePredictLock()
	defer m.releasePredictLock()

	if !m.fitted {
		return 0, m.notFitted()
	}
	return nearest(m.centroids, m.encoder.Transform(v)), nil
}

// ClusterOf returns the segment assigned to a donor during Fit.
func (m *KMeans) ClusterOf(donorID int) (int, bool) {
	m.acquirePredictLock()
	defer m.releasePredictLock()

	c, ok := m.assignments[donorID]
	return c, ok
}

// RecommendForCluster scores candidates by count(category) / max(total, 1)
// within the segment.
func (m *KMeans) RecommendForCluster(clusterID int, candidates []recommend.Case, k int) ([]recommend.CaseScore, error) {
	m.acquirePredictLock()
	defer m.releasePredictLock()

	if !m.fitted {
		return nil, m.notFitted()
	}
	if clusterID < 0 || clusterID >= len(m.profiles) {
		return nil, fmt.Errorf("%s: unknown cluster %d", m.name, clusterID)
	}

	prefs := m.profiles[clusterID].Preferences
	total := 0
	for _, n := range prefs {
		total += n
	}
	denom := float64(max(total, 1))

	scores := make([]recommend.CaseScore, 0, len(candidates))
	for i := range candidates {
		scores = append(scores, recommend.CaseScore{
			CaseID: candidates[i].ID,
			Score:  float64(prefs[candidates[i].Category]) / denom,
		})
	}
	return topScores(scores, k), nil
}

// Profiles returns every segment summary ordered by id.
func (m *KMeans) Profiles() []recommend.ClusterProfile {
	m.acquirePredictLock()
	defer m.releasePredictLock()

	out := make([]recommend.ClusterProfile, len(m.profiles))
	for i, p := range m.profiles {
		prefs := make(map[recommend.Category]int, len(p.Preferences))
		for c, n := range p.Preferences {
			prefs[c] = n
		}
		out[i] = recommend.ClusterProfile{ID: p.ID, Size: p.Size, Preferences: prefs}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Degenerate reports whether the last Fit had no usable feature columns.
func (m *KMeans) Degenerate() bool {
	m.acquirePredictLock()
	defer m.releasePredictLock()
	return m.degenerate
}

type kmeansState struct {
	Encoder     *columnEncoder             `json:"encoder,omitempty"`
	Centroids   [][]float64                `json:"centroids"`
	Assignments map[int]int                `json:"assignments"`
	Profiles    []recommend.ClusterProfile `json:"profiles"`
	Degenerate  bool                       `json:"degenerate"`
}

// MarshalModel encodes centroids, scaling and segment profiles.
func (m *KMeans) MarshalModel() ([]byte, error) {
	m.acquirePredictLock()
	defer m.releasePredictLock()

	return encodeState(m.name, kmeansFormat, m.fitted, kmeansState{
		Encoder:     m.encoder,
		Centroids:   m.centroids,
		Assignments: m.assignments,
		Profiles:    m.profiles,
		Degenerate:  m.degenerate,
	})
}

// UnmarshalModel restores state written by MarshalModel.
func (m *KMeans) UnmarshalModel(data []byte) error {
	var st kmeansState
	fitted, err := decodeState(m.name, kmeansFormat, data, &st)
	if err != nil {
		return err
	}
	if fitted && (st.Encoder == nil || len(st.Centroids) == 0) {
		return fmt.Errorf("%s: fitted state without centroids", m.name)
	}

	m.acquireFitLock()
	defer m.releaseFitLock()

	m.encoder = st.Encoder
	m.centroids = st.Centroids
	m.assignments = st.Assignments
	m.profiles = st.Profiles
	m.degenerate = st.Degenerate
	if fitted {
		m.markFitted()
	} else {
		m.markUnfitted()
	}
	return nil
}
