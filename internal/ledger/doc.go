// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

// Package ledger is the BadgerDB-backed recommendation ledger.
//
// Every ranking shown to a donor is appended as one entry per case. Entries
// are never deleted and their scores never change; views, clicks and
// donations are recorded later as interaction flags, each set at most once.
//
// # Key Layout
//
//	entry:{id}                               -> JSON LedgerEntry
//	shown:{unix nanos, 20 digits}:{id}       -> empty (time index)
//	pair:{donor}:{case}:{unix nanos}:{id}    -> empty (donor x case index)
//
// The time index serves ShownPairs and the analytics scans. The pair index
// lets a completed donation find the recommendation that led to it.
//
// The store also implements recommend.LabelSource, so retraining reads
// likelihood labels straight from the ledger.
package ledger
