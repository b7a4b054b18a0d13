// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"fmt"
	"strings"
	"time"
)

// Category is the fixed set of case categories.
type Category string

const (
	CategoryCancer     Category = "cancer"
	CategoryAccident   Category = "accident"
	CategoryAcidAttack Category = "acid_attack"
	CategoryEducation  Category = "education"
	CategoryDisaster   Category = "disaster"
	CategoryMedical    Category = "medical"
	CategoryOther      Category = "other"
)

var allCategories = []Category{
	CategoryCancer,
	CategoryAccident,
	CategoryAcidAttack,
	CategoryEducation,
	CategoryDisaster,
	CategoryMedical,
	CategoryOther,
}

// Categories returns every known category in a stable order.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Index returns the position of c in Categories, or -1 if unknown.
func (c Category) Index() int {
	for i, known := range allCategories {
		if c == known {
			return i
		}
	}
	return -1
}

// ParseCategory converts a stored value to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// CaseStatus is the verification status of a case.
type CaseStatus string

const (
	CaseStatusPending   CaseStatus = "pending"
	CaseStatusApproved  CaseStatus = "approved"
	CaseStatusRejected  CaseStatus = "rejected"
	CaseStatusCompleted CaseStatus = "completed"
	CaseStatusCancelled CaseStatus = "cancelled"
)

// Urgency is an ordinal urgency level. Zero means unset.
type Urgency int

const (
	UrgencyLow Urgency = iota + 1
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

// String returns the stored name of the urgency level.
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseUrgency converts a stored value to an Urgency. Unknown values map to 0.
func ParseUrgency(s string) Urgency {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return UrgencyLow
	case "medium":
		return UrgencyMedium
	case "high":
		return UrgencyHigh
	case "critical":
		return UrgencyCritical
	default:
		return 0
	}
}

// AgeRange is an optional ordinal demographic bucket. Zero means unknown.
type AgeRange int

const (
	Age18To25 AgeRange = iota + 1
	Age26To35
	Age36To45
	Age46To55
	Age55Plus
)

var ageRangeNames = map[AgeRange]string{
	Age18To25: "18-25",
	Age26To35: "26-35",
	Age36To45: "36-45",
	Age46To55: "46-55",
	Age55Plus: "55+",
}

// String returns the stored bucket label.
func (a AgeRange) String() string {
	if name, ok := ageRangeNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseAgeRange converts a stored label. Empty or unknown labels map to 0.
func ParseAgeRange(s string) AgeRange {
	s = strings.TrimSpace(s)
	for a, name := range ageRangeNames {
		if name == s {
			return a
		}
	}
	return 0
}

// IncomeRange is an optional ordinal demographic bucket. Zero means unknown.
type IncomeRange int

const (
	IncomeLow IncomeRange = iota + 1
	IncomeMedium
	IncomeHigh
)

// String returns the stored bucket label.
func (r IncomeRange) String() string {
	switch r {
	case IncomeLow:
		return "low"
	case IncomeMedium:
		return "medium"
	case IncomeHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseIncomeRange converts a stored label. Empty or unknown labels map to 0.
func ParseIncomeRange(s string) IncomeRange {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return IncomeLow
	case "medium":
		return IncomeMedium
	case "high":
		return IncomeHigh
	default:
		return 0
	}
}

// Case is a charity case as loaded from the system of record.
type Case struct {
	ID              int        `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Category        Category   `json:"category"`
	Tags            []string   `json:"tags,omitempty"`
	TargetAmount    float64    `json:"target_amount"`
	CollectedAmount float64    `json:"collected_amount"`
	Urgency         Urgency    `json:"urgency"`
	Status          CaseStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`

	// Structural fields used by fraud scoring.
	HasDocuments    bool   `json:"has_documents"`
	ContactPhone    string `json:"contact_phone,omitempty"`
	ContactEmail    string `json:"contact_email,omitempty"`
	BeneficiaryName string `json:"beneficiary_name,omitempty"`

	// FraudLabel is set for historical cases reviewed by a moderator.
	FraudLabel *bool `json:"fraud_label,omitempty"`
}

// Validate checks the record invariants.
func (c *Case) Validate() error {
	if c.CollectedAmount < 0 {
		return fmt.Errorf("case %d: collected amount %.2f is negative", c.ID, c.CollectedAmount)
	}
	if !c.Category.Valid() {
		return fmt.Errorf("case %d: unknown category %q", c.ID, c.Category)
	}
	return nil
}

// IsAvailable reports whether the case can still receive donations.
func (c *Case) IsAvailable() bool {
	return c.Status == CaseStatusApproved && c.CollectedAmount < c.TargetAmount
}

// Text returns the text used for content similarity.
func (c *Case) Text() string {
	return c.Title + " " + c.Description + " " + strings.Join(c.Tags, " ")
}

// SearchText returns the text indexed for free-text search.
func (c *Case) SearchText() string {
	return c.Text() + " " + string(c.Category)
}

// DonationStatus is the payment status of a donation.
type DonationStatus string

const (
	DonationPending   DonationStatus = "pending"
	DonationCompleted DonationStatus = "completed"
	DonationFailed    DonationStatus = "failed"
	DonationRefunded  DonationStatus = "refunded"
)

// Donation is a single donation transaction.
type Donation struct {
	ID          int            `json:"id"`
	DonorID     int            `json:"donor_id"`
	CaseID      int            `json:"case_id"`
	Amount      float64        `json:"amount"`
	Status      DonationStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// Timestamp returns the completion time, or the creation time when the
// donation never completed.
func (d *Donation) Timestamp() time.Time {
	if !d.CompletedAt.IsZero() {
		return d.CompletedAt
	}
	return d.CreatedAt
}

// Transition moves the donation to a new status. It reports whether this
// transition makes the donation count towards donor stats and the case
// collected amount, which is true only on entering completed.
func (d *Donation) Transition(to DonationStatus, at time.Time) (bool, error) {
	if d.Status == to {
		return false, nil
	}
	switch {
	case d.Status == DonationPending && to == DonationCompleted:
		d.Status = to
		d.CompletedAt = at
		return true, nil
	case d.Status == DonationPending && to == DonationFailed:
		d.Status = to
		return false, nil
	case d.Status == DonationCompleted && to == DonationRefunded:
		d.Status = to
		return false, nil
	default:
		return false, fmt.Errorf("donation %d: %w %s -> %s", d.ID, ErrInvalidTransition, d.Status, to)
	}
}

// DonorStats are derived from completed donations and never authoritative.
type DonorStats struct {
	Count         int       `json:"count"`
	Total         float64   `json:"total"`
	Average       float64   `json:"average"`
	FrequencyDays float64   `json:"frequency_days"`
	FirstAt       time.Time `json:"first_at,omitempty"`
	LastAt        time.Time `json:"last_at,omitempty"`
}

// Donor is a registered donor.
type Donor struct {
	ID                  int         `json:"id"`
	AgeRange            AgeRange    `json:"age_range,omitempty"`
	IncomeRange         IncomeRange `json:"income_range,omitempty"`
	PreferredCategories []Category  `json:"preferred_categories,omitempty"`
	Stats               DonorStats  `json:"stats"`

	// Cluster is the persisted segment assignment, nil until segmentation runs.
	Cluster *int `json:"cluster,omitempty"`
}

// Segment is a coarse analytics bucket derived from donor stats.
type Segment string

const (
	SegmentHighValue  Segment = "high_value"
	SegmentRegular    Segment = "regular"
	SegmentOccasional Segment = "occasional"
	SegmentNew        Segment = "new"
	SegmentInactive   Segment = "inactive"
)

// HighValueThreshold is the lifetime total that makes a donor high value.
const HighValueThreshold = 10000.0

// SegmentOf buckets donor stats for reporting.
func SegmentOf(s DonorStats) Segment {
	switch {
	case s.Total >= HighValueThreshold:
		return SegmentHighValue
	case s.Count >= 5:
		return SegmentRegular
	case s.Count >= 2:
		return SegmentOccasional
	case s.Count == 1:
		return SegmentNew
	default:
		return SegmentInactive
	}
}

// CaseScore is a case id with an algorithm-local score.
type CaseScore struct {
	CaseID int     `json:"case_id"`
	Score  float64 `json:"score"`
}

// CategoryScore is a recommended category with its rule confidence.
type CategoryScore struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}
