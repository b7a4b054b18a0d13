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

// Snapshot is a batch of platform records, as written by Import.
type Snapshot struct {
	Cases     []recommend.Case     `json:"cases"`
	Donors    []recommend.Donor    `json:"donors"`
	Donations []recommend.Donation `json:"donations"`
}

// Import upserts a snapshot in one transaction.
func (db *DB) Import(ctx context.Context, snap *Snapshot) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("import", "all", time.Since(start), err) }()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		for i := range snap.Cases {
			if err := upsertCase(ctx, tx, &snap.Cases[i]); err != nil {
				return err
			}
		}
		for i := range snap.Donors {
			if err := upsertDonor(ctx, tx, &snap.Donors[i]); err != nil {
				return err
			}
		}
		for i := range snap.Donations {
			if err := upsertDonation(ctx, tx, &snap.Donations[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveDonation upserts one donation after the engine accepted its state
// change.
func (db *DB) SaveDonation(ctx context.Context, d recommend.Donation) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("save_donation", "donations", time.Since(start), err) }()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		return upsertDonation(ctx, tx, &d)
	})
}

// SaveDonorClusters persists segment assignments on the donors table.
func (db *DB) SaveDonorClusters(ctx context.Context, assignments map[int]int) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update", "donors", time.Since(start), err) }()

	return db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE donors SET cluster = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("prepare cluster update: %w", err)
		}
		defer func() { _ = stmt.Close() }() //nolint:errcheck // statement close after use is not actionable

		for donorID, cluster := range assignments {
			if _, err := stmt.ExecContext(ctx, cluster, donorID); err != nil {
				return fmt.Errorf("update donor %d: %w", donorID, err)
			}
		}
		return nil
	})
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback() //nolint:errcheck // the original error is more useful
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func upsertCase(ctx context.Context, tx *sql.Tx, c *recommend.Case) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var fraudLabel sql.NullBool
	if c.FraudLabel != nil {
		fraudLabel = sql.NullBool{Bool: *c.FraudLabel, Valid: true}
	}
	urgency := ""
	if c.Urgency != 0 {
		urgency = c.Urgency.String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO cases (id, title, description, category, tags, target_amount,
			collected_amount, urgency, status, created_at, has_documents, contact_phone,
			contact_email, beneficiary_name, fraud_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Description, string(c.Category), strings.Join(c.Tags, ","), c.TargetAmount,
		c.CollectedAmount, urgency, string(c.Status), c.CreatedAt, c.HasDocuments, c.ContactPhone,
		c.ContactEmail, c.BeneficiaryName, fraudLabel)
	if err != nil {
		return fmt.Errorf("upsert case %d: %w", c.ID, err)
	}
	return nil
}

func upsertDonor(ctx context.Context, tx *sql.Tx, d *recommend.Donor) error {
	prefs := make([]string, len(d.PreferredCategories))
	for i, c := range d.PreferredCategories {
		prefs[i] = string(c)
	}
	var age, income string
	if d.AgeRange != 0 {
		age = d.AgeRange.String()
	}
	if d.IncomeRange != 0 {
		income = d.IncomeRange.String()
	}
	var cluster sql.NullInt32
	if d.Cluster != nil {
		cluster = sql.NullInt32{Int32: int32(*d.Cluster), Valid: true} //nolint:gosec // segment ids are small
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO donors (id, age_range, income_range, preferred_categories, cluster)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, age, income, strings.Join(prefs, ","), cluster)
	if err != nil {
		return fmt.Errorf("upsert donor %d: %w", d.ID, err)
	}
	return nil
}

func upsertDonation(ctx context.Context, tx *sql.Tx, d *recommend.Donation) error {
	if d.Amount <= 0 {
		return fmt.Errorf("donation %d: amount must be positive", d.ID)
	}
	var completed sql.NullTime
	if !d.CompletedAt.IsZero() {
		completed = sql.NullTime{Time: d.CompletedAt, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO donations (id, donor_id, case_id, amount, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.DonorID, d.CaseID, d.Amount, string(d.Status), d.CreatedAt, completed)
	if err != nil {
		return fmt.Errorf("upsert donation %d: %w", d.ID, err)
	}
	return nil
}
