// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package database

import (
	"context"
	"fmt"
)

// Tags and preferred categories are stored comma-separated.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cases (
		id               INTEGER PRIMARY KEY,
		title            VARCHAR NOT NULL,
		description      VARCHAR NOT NULL DEFAULT '',
		category         VARCHAR NOT NULL,
		tags             VARCHAR NOT NULL DEFAULT '',
		target_amount    DOUBLE NOT NULL,
		collected_amount DOUBLE NOT NULL DEFAULT 0,
		urgency          VARCHAR NOT NULL DEFAULT '',
		status           VARCHAR NOT NULL,
		created_at       TIMESTAMP NOT NULL,
		has_documents    BOOLEAN NOT NULL DEFAULT false,
		contact_phone    VARCHAR NOT NULL DEFAULT '',
		contact_email    VARCHAR NOT NULL DEFAULT '',
		beneficiary_name VARCHAR NOT NULL DEFAULT '',
		fraud_label      BOOLEAN
	)`,
	`CREATE TABLE IF NOT EXISTS donors (
		id                   INTEGER PRIMARY KEY,
		age_range            VARCHAR NOT NULL DEFAULT '',
		income_range         VARCHAR NOT NULL DEFAULT '',
		preferred_categories VARCHAR NOT NULL DEFAULT '',
		cluster              INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS donations (
		id           INTEGER PRIMARY KEY,
		donor_id     INTEGER NOT NULL,
		case_id      INTEGER NOT NULL,
		amount       DOUBLE NOT NULL,
		status       VARCHAR NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_donations_donor ON donations(donor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_donations_case ON donations(case_id)`,
}

// EnsureSchema creates the read model tables if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}
