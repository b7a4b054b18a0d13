// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// manifestName is the store entry describing one saved model set.
const manifestName = "manifest"

// ManifestFormatVersion is bumped whenever the manifest layout changes.
const ManifestFormatVersion = 1

// ModelStore persists encoded model parameters by name and version.
// Version 0 on load selects the latest saved version.
type ModelStore interface {
	SaveModel(ctx context.Context, name string, version int, payload []byte) error
	LoadModel(ctx context.Context, name string, version int) ([]byte, int, error)
}

// Manifest ties the component files of one saved model set together.
type Manifest struct {
	FormatVersion int                    `json:"format_version"`
	ModelVersion  int                    `json:"model_version"`
	TrainedAt     time.Time              `json:"trained_at"`
	Components    map[string]ModelStatus `json:"components"`
}

// SnapshotNames lists every store entry written by SaveModels.
func SnapshotNames() []string {
	return []string{
		ComponentTextIndex,
		ComponentSearchIndex,
		ComponentSegments,
		ComponentRules,
		ComponentLikelihood,
		ComponentFraud,
		manifestName,
	}
}

// SaveModels writes every component of the published model set, then the
// manifest. A serving process loads the set with LoadModels.
func (e *Engine) SaveModels(ctx context.Context, store ModelStore) error {
	models := e.models.Load()
	if models == nil {
		return &ModelNotFittedError{Component: "engine"}
	}

	for _, m := range models.All() {
		payload, err := m.MarshalModel()
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.Name(), err)
		}
		if err := store.SaveModel(ctx, m.Name(), models.Version, payload); err != nil {
			return fmt.Errorf("save %s: %w", m.Name(), err)
		}
	}

	manifest, err := json.Marshal(Manifest{
		FormatVersion: ManifestFormatVersion,
		ModelVersion:  models.Version,
		TrainedAt:     models.TrainedAt,
		Components:    models.Status,
	})
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := store.SaveModel(ctx, manifestName, models.Version, manifest); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}

	e.logger.Info().Int("version", models.Version).Msg("saved model set")
	return nil
}

// LoadModels reads a saved model set (version 0 = latest) and publishes it.
func (e *Engine) LoadModels(ctx context.Context, store ModelStore, version int) error {
	raw, version, err := store.LoadModel(ctx, manifestName, version)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.FormatVersion != ManifestFormatVersion {
		return fmt.Errorf("unsupported manifest format %d", manifest.FormatVersion)
	}

	models := e.factory(e.config)
	for _, m := range models.All() {
		payload, _, err := store.LoadModel(ctx, m.Name(), version)
		if err != nil {
			return fmt.Errorf("load %s: %w", m.Name(), err)
		}
		if err := m.UnmarshalModel(payload); err != nil {
			return fmt.Errorf("decode %s: %w", m.Name(), err)
		}
	}
	models.Version = manifest.ModelVersion
	models.TrainedAt = manifest.TrainedAt
	models.Status = manifest.Components

	e.models.Store(models)
	e.clearCache()

	e.statusMu.Lock()
	e.trainStatus.ModelVersion = models.Version
	e.trainStatus.LastTrainedAt = models.TrainedAt
	e.trainStatus.Components = models.Status
	e.statusMu.Unlock()

	e.logger.Info().Int("version", models.Version).Msg("loaded model set")
	return nil
}
