// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/almoner/internal/recommend"
)

// fileSuffix is the extension of every snapshot file.
const fileSuffix = ".json.gz"

// FormatVersion is the snapshot file layout version.
const FormatVersion = 1

// ErrNotFound is returned when no snapshot exists for a name and version.
var ErrNotFound = errors.New("model snapshot not found")

// ModelMetadata describes one stored snapshot.
type ModelMetadata struct {
	// Name is the component name (e.g., "text_index", "manifest").
	Name string `json:"name"`

	// Version is the model set version.
	Version int `json:"version"`

	// FormatVersion is the snapshot file layout version.
	FormatVersion int `json:"format_version"`

	// SavedAt is when the snapshot was written.
	SavedAt time.Time `json:"saved_at"`

	// Checksum is the SHA-256 of the uncompressed payload.
	Checksum string `json:"checksum"`

	// RawBytes is the uncompressed payload size.
	RawBytes int64 `json:"raw_bytes"`

	// SizeBytes is the size of the snapshot file on disk.
	SizeBytes int64 `json:"size_bytes"`
}

// storedFile is the on-disk layout. The whole file is gzip-compressed JSON
// and the payload is kept byte-exact so the checksum stays valid.
type storedFile struct {
	Metadata ModelMetadata `json:"metadata"`
	Payload  []byte        `json:"payload"`
}

// Store keeps versioned model snapshots in a directory.
type Store struct {
	baseDir string
	mu      sync.RWMutex

	// Latest version per component
	versions map[string]int
}

var _ recommend.ModelStore = (*Store)(nil)

// NewStore opens a store at the given directory, creating it if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil { //nolint:gosec // 0750 is acceptable for model storage
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	s := &Store{
		baseDir:  baseDir,
		versions: make(map[string]int),
	}
	if err := s.scanModels(); err != nil {
		return nil, fmt.Errorf("scan existing models: %w", err)
	}
	return s, nil
}

func (s *Store) scanModels() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, version, ok := parseModelFilename(entry.Name())
		if !ok {
			continue
		}
		if current, seen := s.versions[name]; !seen || version > current {
			s.versions[name] = version
		}
	}
	return nil
}

// parseModelFilename splits "text_index_v3.json.gz" into its name and version.
func parseModelFilename(filename string) (name string, version int, ok bool) {
	base, found := strings.CutSuffix(filename, fileSuffix)
	if !found {
		return "", 0, false
	}
	idx := strings.LastIndex(base, "_v")
	if idx <= 0 {
		return "", 0, false
	}
	version, err := strconv.Atoi(base[idx+2:])
	if err != nil || version < 1 {
		return "", 0, false
	}
	return base[:idx], version, true
}

// SaveModel writes one encoded payload. The file is written to a temporary
// name and renamed into place.
func (s *Store) SaveModel(ctx context.Context, name string, version int, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if version < 1 {
		return fmt.Errorf("save %s: version must be positive, got %d", name, version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := sha256.Sum256(payload)
	sf := storedFile{
		Metadata: ModelMetadata{
			Name:          name,
			Version:       version,
			FormatVersion: FormatVersion,
			SavedAt:       time.Now().UTC(),
			Checksum:      hex.EncodeToString(hash[:]),
			RawBytes:      int64(len(payload)),
		},
		Payload: payload,
	}
	encoded, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(encoded); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("finalize compression: %w", err)
	}

	filename := s.modelPath(name, version)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, compressed.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		_ = os.Remove(tmp) //nolint:errcheck // best-effort cleanup of the temporary file
		return fmt.Errorf("publish snapshot: %w", err)
	}

	if current, ok := s.versions[name]; !ok || version > current {
		s.versions[name] = version
	}
	return nil
}

// LoadModel reads one payload. Version 0 selects the latest version. The
// checksum is verified before the payload is returned.
func (s *Store) LoadModel(ctx context.Context, name string, version int) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == 0 {
		latest, ok := s.versions[name]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		version = latest
	}

	sf, err := s.readFile(name, version)
	if err != nil {
		return nil, 0, err
	}
	return sf.Payload, version, nil
}

func (s *Store) readFile(name string, version int) (*storedFile, error) {
	f, err := os.Open(s.modelPath(name, version)) //nolint:gosec // filename is constructed from trusted name parameter
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, name, version)
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }() //nolint:errcheck // error on close after read is not actionable

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	defer func() { _ = gzr.Close() }() //nolint:errcheck // error on gzip close after read is not actionable

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var sf storedFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if sf.Metadata.FormatVersion > FormatVersion {
		return nil, fmt.Errorf("snapshot %s v%d has format %d, newer than supported %d",
			name, version, sf.Metadata.FormatVersion, FormatVersion)
	}

	hash := sha256.Sum256(sf.Payload)
	if checksum := hex.EncodeToString(hash[:]); checksum != sf.Metadata.Checksum {
		return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", sf.Metadata.Checksum, checksum)
	}
	if fi, err := f.Stat(); err == nil {
		sf.Metadata.SizeBytes = fi.Size()
	}
	return &sf, nil
}

// LatestVersion returns the latest stored version of a component.
func (s *Store) LatestVersion(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.versions[name]
	return version, ok
}

// ListModels returns metadata for the latest snapshot of every component,
// ordered by name.
func (s *Store) ListModels(ctx context.Context) ([]ModelMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.versions))
	for name := range s.versions {
		names = append(names, name)
	}
	sort.Strings(names)

	models := make([]ModelMetadata, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sf, err := s.readFile(name, s.versions[name])
		if err != nil {
			continue
		}
		models = append(models, sf.Metadata)
	}
	return models, nil
}

// Delete removes one snapshot version.
func (s *Store) Delete(_ context.Context, name string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.modelPath(name, version)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if s.versions[name] != version {
		return nil
	}

	versions, err := s.listVersions(name)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		delete(s.versions, name)
		return nil
	}
	s.versions[name] = versions[0]
	return nil
}

// Prune keeps only the newest keepVersions snapshots of a component.
func (s *Store) Prune(_ context.Context, name string, keepVersions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keepVersions < 1 {
		keepVersions = 1
	}
	versions, err := s.listVersions(name)
	if err != nil {
		return err
	}
	for _, v := range versions[min(keepVersions, len(versions)):] {
		_ = os.Remove(s.modelPath(name, v)) //nolint:errcheck // best-effort cleanup of old versions
	}
	return nil
}

// listVersions returns the stored versions of a component, newest first.
// Must be called with mu held.
func (s *Store) listVersions(name string) ([]int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		n, v, ok := parseModelFilename(entry.Name())
		if ok && n == name {
			versions = append(versions, v)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))
	return versions, nil
}

func (s *Store) modelPath(name string, version int) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s_v%d%s", name, version, fileSuffix))
}
