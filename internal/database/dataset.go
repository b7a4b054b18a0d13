// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/almoner/internal/metrics"
	"github.com/tomtom215/almoner/internal/recommend"
)

var _ recommend.DataProvider = (*DB)(nil)

// LoadDataset reads cases, donors and donations into a new dataset. Rows
// that cannot be represented (unknown category, non-positive amount,
// negative collected amount) are skipped and logged rather than failing the
// whole load.
func (db *DB) LoadDataset(ctx context.Context) (*recommend.Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, db.cfg.QueryTimeout)
	defer cancel()

	cases, err := db.loadCases(ctx)
	if err != nil {
		return nil, err
	}
	donors, err := db.loadDonors(ctx)
	if err != nil {
		return nil, err
	}
	donations, err := db.loadDonations(ctx)
	if err != nil {
		return nil, err
	}

	ds, err := recommend.NewDataset(cases, donors, donations)
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	db.logger.Debug().
		Int("cases", len(cases)).
		Int("donors", len(donors)).
		Int("donations", len(donations)).
		Msg("dataset loaded")
	return ds, nil
}

func (db *DB) loadCases(ctx context.Context) (cases []recommend.Case, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("load", "cases", time.Since(start), err) }()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, description, category, tags, target_amount, collected_amount,
		       urgency, status, created_at, has_documents, contact_phone, contact_email,
		       beneficiary_name, fraud_label
		FROM cases
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c                       recommend.Case
			category, tags, urgency string
			status                  string
			fraudLabel              sql.NullBool
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &category, &tags, &c.TargetAmount,
			&c.CollectedAmount, &urgency, &status, &c.CreatedAt, &c.HasDocuments, &c.ContactPhone,
			&c.ContactEmail, &c.BeneficiaryName, &fraudLabel); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}

		cat, perr := recommend.ParseCategory(category)
		if perr != nil {
			db.logger.Warn().Int("case_id", c.ID).Str("category", category).Msg("skipping case with unknown category")
			continue
		}
		c.Category = cat
		c.Tags = splitList(tags)
		c.Urgency = recommend.ParseUrgency(urgency)
		c.Status = recommend.CaseStatus(status)
		if fraudLabel.Valid {
			label := fraudLabel.Bool
			c.FraudLabel = &label
		}
		if verr := c.Validate(); verr != nil {
			db.logger.Warn().Err(verr).Msg("skipping invalid case")
			continue
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return cases, nil
}

func (db *DB) loadDonors(ctx context.Context) (donors []recommend.Donor, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("load", "donors", time.Since(start), err) }()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, age_range, income_range, preferred_categories, cluster
		FROM donors
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query donors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d                  recommend.Donor
			age, income, prefs string
			cluster            sql.NullInt32
		)
		if err := rows.Scan(&d.ID, &age, &income, &prefs, &cluster); err != nil {
			return nil, fmt.Errorf("scan donor: %w", err)
		}
		d.AgeRange = recommend.ParseAgeRange(age)
		d.IncomeRange = recommend.ParseIncomeRange(income)
		for _, p := range splitList(prefs) {
			if cat, perr := recommend.ParseCategory(p); perr == nil {
				d.PreferredCategories = append(d.PreferredCategories, cat)
			}
		}
		if cluster.Valid {
			c := int(cluster.Int32)
			d.Cluster = &c
		}
		donors = append(donors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate donors: %w", err)
	}
	return donors, nil
}

func (db *DB) loadDonations(ctx context.Context) (donations []recommend.Donation, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("load", "donations", time.Since(start), err) }()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, donor_id, case_id, amount, status, created_at, completed_at
		FROM donations
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query donations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d         recommend.Donation
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.DonorID, &d.CaseID, &d.Amount, &status, &d.CreatedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan donation: %w", err)
		}
		if d.Amount <= 0 {
			db.logger.Warn().Int("donation_id", d.ID).Float64("amount", d.Amount).Msg("skipping donation with non-positive amount")
			continue
		}
		d.Status = recommend.DonationStatus(status)
		if completed.Valid {
			d.CompletedAt = completed.Time
		}
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate donations: %w", err)
	}
	return donations, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
