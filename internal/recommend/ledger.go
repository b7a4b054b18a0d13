// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"context"
	"time"
)

// InteractionKind is a tracked outcome of a shown recommendation.
type InteractionKind string

const (
	InteractionViewed  InteractionKind = "viewed"
	InteractionClicked InteractionKind = "clicked"
	InteractionDonated InteractionKind = "donated"
)

// Valid reports whether k is a known interaction.
func (k InteractionKind) Valid() bool {
	switch k {
	case InteractionViewed, InteractionClicked, InteractionDonated:
		return true
	default:
		return false
	}
}

// LedgerEntry is the persisted record of one shown recommendation. Scores are
// immutable once written. Interaction flags are set at most once each.
type LedgerEntry struct {
	ID         string    `json:"id"`
	DonorID    int       `json:"donor_id"`
	CaseID     int       `json:"case_id"`
	Algorithm  string    `json:"algorithm"`
	RawScore   float64   `json:"raw_score"`
	FinalScore float64   `json:"final_score"`
	Reason     string    `json:"reason,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	ShownAt    time.Time `json:"shown_at"`

	Viewed    bool      `json:"viewed"`
	ViewedAt  time.Time `json:"viewed_at,omitempty"`
	Clicked   bool      `json:"clicked"`
	ClickedAt time.Time `json:"clicked_at,omitempty"`
	Donated   bool      `json:"donated"`
	DonatedAt time.Time `json:"donated_at,omitempty"`
}

// ShownPair is a donor x case pair that was shown, with its outcome.
type ShownPair struct {
	DonorID int
	CaseID  int
	ShownAt time.Time
	Donated bool
}

// Ledger is the append-only store of shown recommendations. Entries are never
// deleted.
type Ledger interface {
	// Record appends entries and returns them with ids assigned.
	Record(ctx context.Context, entries []LedgerEntry) ([]LedgerEntry, error)

	// MarkInteraction sets one interaction flag. Repeated marks keep the first
	// timestamp.
	MarkInteraction(ctx context.Context, id string, kind InteractionKind, at time.Time) (*LedgerEntry, error)

	// Get returns one entry.
	Get(ctx context.Context, id string) (*LedgerEntry, error)
}

// LabelSource supplies shown pairs for reconstructing training labels.
type LabelSource interface {
	ShownPairs(ctx context.Context, since time.Time) ([]ShownPair, error)
}

// EntriesFromRanking converts a ranking into ledger entries ready to record.
func EntriesFromRanking(r *Ranking, shownAt time.Time) []LedgerEntry {
	entries := make([]LedgerEntry, 0, len(r.Items))
	for i := range r.Items {
		item := &r.Items[i]
		entries = append(entries, LedgerEntry{
			DonorID:    r.DonorID,
			CaseID:     item.CaseID,
			Algorithm:  item.Algorithm,
			RawScore:   item.RawScore,
			FinalScore: item.Score,
			Reason:     r.Reason,
			RequestID:  r.RequestID,
			ShownAt:    shownAt,
		})
	}
	return entries
}
