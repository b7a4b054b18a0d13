// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

// Package storage persists fitted model snapshots on disk.
//
// A training process saves every component of a model set with
// recommend.Engine.SaveModels and a serving process loads the same set with
// recommend.Engine.LoadModels. Store implements recommend.ModelStore.
//
// # Storage Format
//
// Each component version is one gzip-compressed JSON file:
//
//	filename: {component}_v{version}.json.gz
//
//	structure:
//	  - metadata (name, version, format version, saved at, SHA-256 checksum)
//	  - payload (the bytes returned by the model's MarshalModel)
//
// The payload is opaque to the store. Models version their own state, and
// the store versions the file layout. Files are written under a temporary
// name and renamed into place, so a reader never sees a partial snapshot.
//
// # Directory Structure
//
//	/var/lib/almoner/models/
//	  manifest_v3.json.gz      <- ties one model set together
//	  text_index_v3.json.gz
//	  segmentation_v3.json.gz
//	  ...
//
// # Data Integrity
//
// The checksum of the payload is verified on every load. A mismatch is an
// error and the snapshot is never handed to a model.
//
// # Cleanup
//
// Prune keeps the newest N versions of a component:
//
//	for _, name := range names {
//	    _ = store.Prune(ctx, name, 3)
//	}
//
// # Thread Safety
//
// Saves take a write lock. Loads take a read lock and may run concurrently.
package storage
