// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package algorithms

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/tomtom215/almoner/internal/recommend"
)

func testDocs() []recommend.Document {
	return []recommend.Document{
		{ID: 1, Text: "Chemotherapy for a young mother fighting breast cancer"},
		{ID: 2, Text: "Breast cancer surgery and chemotherapy costs"},
		{ID: 3, Text: "School fees and books for orphaned children"},
		{ID: 4, Text: "University tuition for a first generation student"},
		{ID: 5, Text: "Flood relief: rebuilding homes after the disaster"},
		{ID: 6, Text: "the and of"},
	}
}

func fitTFIDF(t *testing.T, cfg TFIDFConfig) *TFIDF {
	t.Helper()
	idx := NewTFIDF(recommend.ComponentTextIndex, cfg)
	if err := idx.Fit(context.Background(), testDocs()); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	return idx
}

func TestNewTFIDF(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TFIDFConfig
		vocab   int
		minGram int
		maxGram int
	}{
		{"applies defaults for zero config", TFIDFConfig{}, 1000, 1, 1},
		{"keeps provided values", TFIDFConfig{MaxVocab: 50, MinNGram: 1, MaxNGram: 3}, 50, 1, 3},
		{"raises max below min", TFIDFConfig{MinNGram: 2, MaxNGram: 1}, 1000, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewTFIDF("x", tt.cfg)
			if idx.maxVocab != tt.vocab || idx.minNGram != tt.minGram || idx.maxNGram != tt.maxGram {
				t.Errorf("got vocab=%d ngram=%d..%d, want %d %d..%d",
					idx.maxVocab, idx.minNGram, idx.maxNGram, tt.vocab, tt.minGram, tt.maxGram)
			}
			if idx.IsFitted() {
				t.Error("new index should not be fitted")
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"drops stop words and short tokens", "The cost of a surgery", []string{"cost", "surgery"}},
		{"folds case", "CANCER Cancer", []string{"cancer", "cancer"}},
		{"splits on punctuation", "flood-relief, now!", []string{"flood", "relief"}},
		{"normalizes compatibility forms", "ﬁre", []string{"fire"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("tokenize(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTFIDF_Similarity(t *testing.T) {
	idx := fitTFIDF(t, TFIDFConfig{MaxVocab: 100, MaxNGram: 2})

	t.Run("symmetric", func(t *testing.T) {
		for _, a := range testDocs() {
			for _, b := range testDocs() {
				ab, err := idx.Similarity(a.ID, b.ID)
				if err != nil {
					t.Fatalf("Similarity(%d,%d) error = %v", a.ID, b.ID, err)
				}
				ba, _ := idx.Similarity(b.ID, a.ID)
				if math.Abs(ab-ba) > 1e-12 {
					t.Errorf("Similarity(%d,%d)=%f != Similarity(%d,%d)=%f", a.ID, b.ID, ab, b.ID, a.ID, ba)
				}
				if ab < 0 || ab > 1 {
					t.Errorf("Similarity(%d,%d)=%f out of [0,1]", a.ID, b.ID, ab)
				}
			}
		}
	})

	t.Run("self similarity is one", func(t *testing.T) {
		got, _ := idx.Similarity(1, 1)
		if math.Abs(got-1) > 1e-9 {
			t.Errorf("Similarity(1,1) = %f, want 1", got)
		}
	})

	t.Run("related documents score higher", func(t *testing.T) {
		related, _ := idx.Similarity(1, 2)
		unrelated, _ := idx.Similarity(1, 5)
		if related <= unrelated {
			t.Errorf("related=%f should exceed unrelated=%f", related, unrelated)
		}
	})

	t.Run("stop-word only document has zero vector", func(t *testing.T) {
		got, _ := idx.Similarity(1, 6)
		if got != 0 {
			t.Errorf("Similarity(1,6) = %f, want 0", got)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := idx.Similarity(1, 99)
		if !errors.Is(err, recommend.ErrUnknownEntity) {
			t.Errorf("error = %v, want ErrUnknownEntity", err)
		}
	})
}

func TestTFIDF_SimilarTo(t *testing.T) {
	idx := fitTFIDF(t, TFIDFConfig{MaxVocab: 100, MaxNGram: 2})

	exclude := map[int]struct{}{3: {}}
	got, err := idx.SimilarTo([]int{1}, exclude, 0)
	if err != nil {
		t.Fatalf("SimilarTo() error = %v", err)
	}

	for _, s := range got {
		if s.CaseID == 1 || s.CaseID == 3 {
			t.Errorf("case %d should be excluded", s.CaseID)
		}
	}
	if len(got) != 4 {
		t.Errorf("len = %d, want 4 (zero scores kept)", len(got))
	}
	if got[0].CaseID != 2 {
		t.Errorf("top = %d, want 2", got[0].CaseID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("results not sorted at %d", i)
		}
	}

	top, _ := idx.SimilarTo([]int{1}, nil, 2)
	if len(top) != 2 {
		t.Errorf("k=2 returned %d results", len(top))
	}
}

func TestTFIDF_Query(t *testing.T) {
	idx := fitTFIDF(t, TFIDFConfig{MaxVocab: 100, MaxNGram: 3})

	got, err := idx.Query("cancer chemotherapy", nil, 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query returned %v, want cases 1 and 2 only", got)
	}
	for _, s := range got {
		if s.Score <= 0 {
			t.Errorf("zero score returned for case %d", s.CaseID)
		}
	}

	none, _ := idx.Query("zzz unknownterm", nil, 10)
	if len(none) != 0 {
		t.Errorf("unmatched query returned %v", none)
	}
}

func TestTFIDF_NotFitted(t *testing.T) {
	idx := NewTFIDF(recommend.ComponentSearchIndex, TFIDFConfig{})

	if _, err := idx.Query("cancer", nil, 5); !errors.Is(err, recommend.ErrModelNotFitted) {
		t.Errorf("Query error = %v, want ErrModelNotFitted", err)
	}
	if _, err := idx.SimilarTo([]int{1}, nil, 5); !errors.Is(err, recommend.ErrModelNotFitted) {
		t.Errorf("SimilarTo error = %v, want ErrModelNotFitted", err)
	}
}

func TestTFIDF_EmptyCorpus(t *testing.T) {
	idx := NewTFIDF(recommend.ComponentTextIndex, TFIDFConfig{})
	if err := idx.Fit(context.Background(), nil); err != nil {
		t.Fatalf("Fit(nil) error = %v", err)
	}
	got, err := idx.SimilarTo([]int{1}, nil, 5)
	if err != nil || len(got) != 0 {
		t.Errorf("SimilarTo on empty index = %v, %v", got, err)
	}
}

func TestTFIDF_Deterministic(t *testing.T) {
	a := fitTFIDF(t, TFIDFConfig{MaxVocab: 5, MaxNGram: 2})
	b := fitTFIDF(t, TFIDFConfig{MaxVocab: 5, MaxNGram: 2})

	ra, _ := a.SimilarTo([]int{2, 4}, nil, 0)
	rb, _ := b.SimilarTo([]int{2, 4}, nil, 0)
	if len(ra) != len(rb) {
		t.Fatalf("lengths differ: %d vs %d", len(ra), len(rb))
	}
	for i := range ra {
		if ra[i] != rb[i] {
			t.Errorf("result %d differs: %+v vs %+v", i, ra[i], rb[i])
		}
	}
	if a.VocabularySize() != 5 {
		t.Errorf("VocabularySize() = %d, want 5", a.VocabularySize())
	}
}

func TestTFIDF_VocabularyByDocumentFrequency(t *testing.T) {
	tests := []struct {
		name string
		docs []recommend.Document
		want string
	}{
		{
			name: "repeats in one document do not outrank spread",
			docs: []recommend.Document{
				{ID: 1, Text: "water water water water water school"},
				{ID: 2, Text: "school"},
			},
			want: "school",
		},
		{
			name: "equal document frequency breaks lexically",
			docs: []recommend.Document{
				{ID: 1, Text: "river lake"},
				{ID: 2, Text: "river lake lake"},
			},
			want: "lake",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewTFIDF(recommend.ComponentTextIndex, TFIDFConfig{MaxVocab: 1})
			if err := idx.Fit(context.Background(), tt.docs); err != nil {
				t.Fatalf("Fit() error = %v", err)
			}
			if len(idx.vocab) != 1 {
				t.Fatalf("vocab = %v, want one term", idx.vocab)
			}
			if _, ok := idx.vocab[tt.want]; !ok {
				t.Errorf("vocab = %v, want %q", idx.vocab, tt.want)
			}
		})
	}
}

func TestTFIDF_MarshalModel(t *testing.T) {
	idx := fitTFIDF(t, TFIDFConfig{MaxVocab: 100, MaxNGram: 2})
	data, err := idx.MarshalModel()
	if err != nil {
		t.Fatalf("MarshalModel() error = %v", err)
	}

	restored := NewTFIDF(recommend.ComponentTextIndex, TFIDFConfig{})
	if err := restored.UnmarshalModel(data); err != nil {
		t.Fatalf("UnmarshalModel() error = %v", err)
	}
	if !restored.IsFitted() {
		t.Fatal("restored index should be fitted")
	}

	want, _ := idx.Query("school books", nil, 3)
	got, _ := restored.Query("school books", nil, 3)
	if len(got) != len(want) {
		t.Fatalf("restored query = %v, want %v", got, want)
	}
	for i := range got {
		if got[i].CaseID != want[i].CaseID || math.Abs(got[i].Score-want[i].Score) > 1e-12 {
			t.Errorf("result %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	other := NewTFIDF(recommend.ComponentSearchIndex, TFIDFConfig{})
	if err := other.UnmarshalModel(data); err == nil {
		t.Error("loading a text_index envelope into search_index should fail")
	}
}
