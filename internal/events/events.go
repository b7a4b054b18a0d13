// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/almoner/internal/recommend"
)

// Topics.
const (
	TopicDonationStatus = "donation.status"
	TopicCaseChanged    = "case.changed"
)

// SchemaVersion is the current event schema version.
const SchemaVersion = 1

// ErrMalformedEvent is returned for a payload that can never be applied.
var ErrMalformedEvent = errors.New("malformed event")

// DonationStatusChanged reports a donation entering a payment status. The
// first event for a donation id creates it.
type DonationStatusChanged struct {
	SchemaVersion int       `json:"schema_version,omitempty"`
	EventID       string    `json:"event_id"`
	DonationID    int       `json:"donation_id"`
	DonorID       int       `json:"donor_id"`
	CaseID        int       `json:"case_id"`
	Amount        float64   `json:"amount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Donation converts the event into the donation state it describes.
func (e *DonationStatusChanged) Donation() (recommend.Donation, error) {
	if e.DonationID <= 0 || e.DonorID <= 0 || e.CaseID <= 0 {
		return recommend.Donation{}, fmt.Errorf("%w: donation %d has missing ids", ErrMalformedEvent, e.DonationID)
	}
	if e.Amount <= 0 {
		return recommend.Donation{}, fmt.Errorf("%w: donation %d amount %.2f", ErrMalformedEvent, e.DonationID, e.Amount)
	}

	status := recommend.DonationStatus(e.Status)
	switch status {
	case recommend.DonationPending, recommend.DonationCompleted,
		recommend.DonationFailed, recommend.DonationRefunded:
	default:
		return recommend.Donation{}, fmt.Errorf("%w: donation %d status %q", ErrMalformedEvent, e.DonationID, e.Status)
	}

	d := recommend.Donation{
		ID:        e.DonationID,
		DonorID:   e.DonorID,
		CaseID:    e.CaseID,
		Amount:    e.Amount,
		Status:    status,
		CreatedAt: e.CreatedAt,
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.OccurredAt
	}
	if status == recommend.DonationCompleted {
		d.CompletedAt = e.OccurredAt
	}
	return d, nil
}

// CaseChanged reports that a case record changed in the read model.
type CaseChanged struct {
	SchemaVersion int       `json:"schema_version,omitempty"`
	EventID       string    `json:"event_id"`
	CaseID        int       `json:"case_id"`
	Reason        string    `json:"reason,omitempty"` // created, updated, moderated
	OccurredAt    time.Time `json:"occurred_at"`
}
