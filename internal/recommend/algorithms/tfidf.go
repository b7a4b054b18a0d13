// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package algorithms

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tomtom215/almoner/internal/recommend"
)

// tfidfFormat is the serialization format of TFIDF state.
const tfidfFormat = 1

// TFIDF is a term-weighted vector space over documents.
//
// Text is NFKC-normalized and case-folded, split into word tokens of at least
// two characters, stripped of English stop words, and expanded into n-grams.
// The vocabulary keeps the MaxVocab terms with the highest document
// frequency.
// Weights use the smoothed inverse document frequency
//
//	idf(t) = ln((1 + n) / (1 + df(t))) + 1
//
// and every document vector is L2-normalized, so cosine similarity is a dot
// product.
type TFIDF struct {
	BaseAlgorithm

	maxVocab int
	minNGram int
	maxNGram int

	// Fitted state
	vocab   map[string]int
	idf     []float64
	vectors map[int]map[int]float64
	order   []int
}

// TFIDFConfig contains configuration for TFIDF.
type TFIDFConfig struct {
	// MaxVocab caps the vocabulary size.
	MaxVocab int

	// MinNGram and MaxNGram bound the token n-gram lengths.
	MinNGram int
	MaxNGram int
}

// NewTFIDF creates an unfitted index registered under name.
func NewTFIDF(name string, cfg TFIDFConfig) *TFIDF {
	if cfg.MaxVocab <= 0 {
		cfg.MaxVocab = 1000
	}
	if cfg.MinNGram <= 0 {
		cfg.MinNGram = 1
	}
	if cfg.MaxNGram < cfg.MinNGram {
		cfg.MaxNGram = cfg.MinNGram
	}

	return &TFIDF{
		BaseAlgorithm: NewBaseAlgorithm(name),
		maxVocab:      cfg.MaxVocab,
		minNGram:      cfg.MinNGram,
		maxNGram:      cfg.MaxNGram,
	}
}

// Fit builds the vocabulary and the normalized document vectors.
func (t *TFIDF) Fit(ctx context.Context, docs []recommend.Document) error {
	terms := make([][]string, len(docs))
	docFreq := make(map[string]int)
	for i, doc := range docs {
		if i%256 == 0 && ContextCancelled(ctx) {
			return ctx.Err()
		}
		terms[i] = t.analyze(doc.Text)
		seen := make(map[string]struct{}, len(terms[i]))
		for _, term := range terms[i] {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			docFreq[term]++
		}
	}

	vocab := buildVocabulary(docFreq, t.maxVocab)

	df := make([]int, len(vocab))
	counts := make([]map[int]int, len(docs))
	for i := range docs {
		counts[i] = make(map[int]int)
		for _, term := range terms[i] {
			if idx, ok := vocab[term]; ok {
				counts[i][idx]++
			}
		}
		for idx := range counts[i] {
			df[idx]++
		}
	}

	n := float64(len(docs))
	idf := make([]float64, len(vocab))
	for i := range idf {
		idf[i] = math.Log((1+n)/(1+float64(df[i]))) + 1
	}

	vectors := make(map[int]map[int]float64, len(docs))
	order := make([]int, 0, len(docs))
	for i, doc := range docs {
		if _, dup := vectors[doc.ID]; !dup {
			order = append(order, doc.ID)
		}
		vectors[doc.ID] = weigh(counts[i], idf)
	}

	t.acquireFitLock()
	defer t.releaseFitLock()

	t.vocab = vocab
	t.idf = idf
	t.vectors = vectors
	t.order = order
	t.markFitted()
	return nil
}

// SimilarTo ranks every indexed document that is neither an anchor nor
// excluded by cosine similarity to the mean anchor vector. Zero scores are
// kept so callers can still order cold candidates. k <= 0 returns all.
func (t *TFIDF) SimilarTo(anchorIDs []int, exclude map[int]struct{}, k int) ([]recommend.CaseScore, error) {
	t.acquirePredictLock()
	defer t.releasePredictLock()

	if !t.fitted {
		return nil, t.notFitted()
	}

	anchors := make(map[int]struct{}, len(anchorIDs))
	centroid := make(map[int]float64)
	found := 0
	for _, id := range anchorIDs {
		if _, seen := anchors[id]; seen {
			continue
		}
		anchors[id] = struct{}{}
		vec, ok := t.vectors[id]
		if !ok {
			continue
		}
		found++
		for idx, w := range vec {
			centroid[idx] += w
		}
	}
	if found > 0 {
		for idx := range centroid {
			centroid[idx] /= float64(found)
		}
	}

	results := make([]recommend.CaseScore, 0, len(t.order))
	for _, id := range t.order {
		if _, skip := anchors[id]; skip {
			continue
		}
		if _, skip := exclude[id]; skip {
			continue
		}
		results = append(results, recommend.CaseScore{
			CaseID: id,
			Score:  cosineSimilarity(centroid, t.vectors[id]),
		})
	}
	return topScores(results, k), nil
}

// Query ranks documents against free text, dropping zero similarities.
func (t *TFIDF) Query(text string, exclude map[int]struct{}, k int) ([]recommend.CaseScore, error) {
	t.acquirePredictLock()
	defer t.releasePredictLock()

	if !t.fitted {
		return nil, t.notFitted()
	}

	counts := make(map[int]int)
	for _, term := range t.analyze(text) {
		if idx, ok := t.vocab[term]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return nil, nil
	}
	query := weigh(counts, t.idf)

	var results []recommend.CaseScore
	for _, id := range t.order {
		if _, skip := exclude[id]; skip {
			continue
		}
		score := cosineSimilarity(query, t.vectors[id])
		if score <= 0 {
			continue
		}
		results = append(results, recommend.CaseScore{CaseID: id, Score: score})
	}
	return topScores(results, k), nil
}

// Similarity returns the cosine similarity of two indexed documents.
func (t *TFIDF) Similarity(a, b int) (float64, error) {
	t.acquirePredictLock()
	defer t.releasePredictLock()

	if !t.fitted {
		return 0, t.notFitted()
	}
	va, ok := t.vectors[a]
	if !ok {
		return 0, &recommend.UnknownEntityError{Kind: recommend.EntityCase, ID: a}
	}
	vb, ok := t.vectors[b]
	if !ok {
		return 0, &recommend.UnknownEntityError{Kind: recommend.EntityCase, ID: b}
	}
	return clamp01(cosineSimilarity(va, vb)), nil
}

// VocabularySize returns the number of retained terms.
func (t *TFIDF) VocabularySize() int {
	t.acquirePredictLock()
	defer t.releasePredictLock()
	return len(t.vocab)
}

// analyze turns raw text into the n-gram terms of the index.
func (t *TFIDF) analyze(text string) []string {
	tokens := tokenize(text)

	var terms []string
	for n := t.minNGram; n <= t.maxNGram; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			if n == 1 {
				terms = append(terms, tokens[i])
				continue
			}
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}

// tokenize normalizes text and returns word tokens of two or more
// characters that are not stop words.
func tokenize(text string) []string {
	// A Caser carries state and is not safe for concurrent use.
	text = cases.Fold().String(norm.NFKC.String(text))

	var tokens []string
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		tok := text[start:end]
		start = -1
		if utf8.RuneCountInString(tok) < 2 {
			return
		}
		if _, stop := englishStopWords[tok]; stop {
			return
		}
		tokens = append(tokens, tok)
	}

	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return tokens
}

// buildVocabulary keeps the limit terms found in the most documents, ties
// broken lexically, and assigns indices in lexical order.
func buildVocabulary(docFreq map[string]int, limit int) map[string]int {
	terms := make([]string, 0, len(docFreq))
	for term := range docFreq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if docFreq[terms[i]] != docFreq[terms[j]] {
			return docFreq[terms[i]] > docFreq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > limit {
		terms = terms[:limit]
	}
	sort.Strings(terms)

	vocab := make(map[string]int, len(terms))
	for i, term := range terms {
		vocab[term] = i
	}
	return vocab
}

// weigh applies idf to raw counts and L2-normalizes the result.
func weigh(counts map[int]int, idf []float64) map[int]float64 {
	vec := make(map[int]float64, len(counts))
	for idx, c := range counts {
		vec[idx] = float64(c) * idf[idx]
	}
	if n := l2Norm(vec); n > 0 {
		for idx := range vec {
			vec[idx] /= n
		}
	}
	return vec
}

// topScores sorts by score descending then case id, and truncates to k.
func topScores(scores []recommend.CaseScore, k int) []recommend.CaseScore {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].CaseID < scores[j].CaseID
	})
	if k > 0 && len(scores) > k {
		scores = scores[:k]
	}
	return scores
}

type tfidfState struct {
	MaxVocab int                     `json:"max_vocab"`
	MinNGram int                     `json:"min_ngram"`
	MaxNGram int                     `json:"max_ngram"`
	Vocab    map[string]int          `json:"vocab"`
	IDF      []float64               `json:"idf"`
	Vectors  map[int]map[int]float64 `json:"vectors"`
	Order    []int                   `json:"order"`
}

// MarshalModel encodes the vocabulary, weights and document vectors.
func (t *TFIDF) MarshalModel() ([]byte, error) {
	t.acquirePredictLock()
	defer t.releasePredictLock()

	return encodeState(t.name, tfidfFormat, t.fitted, tfidfState{
		MaxVocab: t.maxVocab,
		MinNGram: t.minNGram,
		MaxNGram: t.maxNGram,
		Vocab:    t.vocab,
		IDF:      t.idf,
		Vectors:  t.vectors,
		Order:    t.order,
	})
}

// UnmarshalModel restores state written by MarshalModel.
func (t *TFIDF) UnmarshalModel(data []byte) error {
	var st tfidfState
	fitted, err := decodeState(t.name, tfidfFormat, data, &st)
	if err != nil {
		return err
	}
	if len(st.IDF) != len(st.Vocab) {
		return fmt.Errorf("%s: idf has %d weights for %d terms", t.name, len(st.IDF), len(st.Vocab))
	}

	t.acquireFitLock()
	defer t.releaseFitLock()

	if st.MaxVocab > 0 {
		t.maxVocab, t.minNGram, t.maxNGram = st.MaxVocab, st.MinNGram, st.MaxNGram
	}
	t.vocab = st.Vocab
	t.idf = st.IDF
	t.vectors = st.Vectors
	if t.vectors == nil {
		t.vectors = make(map[int]map[int]float64)
	}
	t.order = st.Order
	if fitted {
		t.markFitted()
	} else {
		t.markUnfitted()
	}
	return nil
}
