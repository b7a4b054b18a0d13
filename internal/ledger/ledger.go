// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/almoner/internal/metrics"
	"github.com/tomtom215/almoner/internal/recommend"
)

const (
	entryPrefix = "entry:"
	shownPrefix = "shown:"
	pairPrefix  = "pair:"
)

// ErrEntryNotFound is returned for an unknown entry id.
var ErrEntryNotFound = errors.New("ledger entry not found")

// Config configures the ledger database.
type Config struct {
	// Path is the Badger directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory keeps the ledger in memory only (tests, dry runs).
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every write.
	SyncWrites bool `koanf:"sync_writes"`

	// GCInterval is how often value log garbage collection runs.
	GCInterval time.Duration `koanf:"gc_interval" validate:"gte=0"`
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		Path:       "/var/lib/almoner/ledger",
		GCInterval: 30 * time.Minute,
	}
}

// Store is the recommendation ledger.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
	now    func() time.Time
}

var (
	_ recommend.Ledger      = (*Store)(nil)
	_ recommend.LabelSource = (*Store)(nil)
)

// Open opens (or creates) the ledger database.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func Open(cfg Config, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("component", "ledger").Logger()

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs one round of value log garbage collection. badger.ErrNoRewrite
// means there was nothing to collect and is not an error.
func (s *Store) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

func entryKey(id string) []byte {
	return []byte(entryPrefix + id)
}

func shownKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", shownPrefix, at.UnixNano(), id))
}

func pairKeyPrefix(donorID, caseID int) string {
	return fmt.Sprintf("%s%d:%d:", pairPrefix, donorID, caseID)
}

func pairKey(e *recommend.LedgerEntry) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", pairKeyPrefix(e.DonorID, e.CaseID), e.ShownAt.UnixNano(), e.ID))
}

// Record appends entries in one transaction and returns them with ids
// assigned. A zero ShownAt is set to the current time.
func (s *Store) Record(ctx context.Context, entries []recommend.LedgerEntry) ([]recommend.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]recommend.LedgerEntry, len(entries))
	now := s.now().UTC()
	for i, e := range entries {
		if e.DonorID <= 0 || e.CaseID <= 0 {
			return nil, fmt.Errorf("entry %d: donor and case ids are required", i)
		}
		if e.Algorithm == "" {
			return nil, fmt.Errorf("entry %d: algorithm is required", i)
		}
		e.ID = uuid.NewString()
		if e.ShownAt.IsZero() {
			e.ShownAt = now
		}
		e.Viewed, e.Clicked, e.Donated = false, false, false
		e.ViewedAt, e.ClickedAt, e.DonatedAt = time.Time{}, time.Time{}, time.Time{}
		out[i] = e
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range out {
			data, err := json.Marshal(&out[i])
			if err != nil {
				return fmt.Errorf("marshal entry: %w", err)
			}
			if err := txn.Set(entryKey(out[i].ID), data); err != nil {
				return fmt.Errorf("set entry: %w", err)
			}
			if err := txn.Set(shownKey(out[i].ShownAt, out[i].ID), nil); err != nil {
				return fmt.Errorf("set time index: %w", err)
			}
			if err := txn.Set(pairKey(&out[i]), nil); err != nil {
				return fmt.Errorf("set pair index: %w", err)
			}
		}
		return nil
	})
	metrics.RecordLedgerOperation("record", err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, id string) (*recommend.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entry *recommend.LedgerEntry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = getEntry(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func getEntry(txn *badger.Txn, id string) (*recommend.LedgerEntry, error) {
	item, err := txn.Get(entryKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	var entry recommend.LedgerEntry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

func putEntry(txn *badger.Txn, entry *recommend.LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return txn.Set(entryKey(entry.ID), data)
}

// setFlag sets one interaction flag and reports whether it changed. The
// first timestamp wins.
func setFlag(e *recommend.LedgerEntry, kind recommend.InteractionKind, at time.Time) bool {
	switch kind {
	case recommend.InteractionViewed:
		if e.Viewed {
			return false
		}
		e.Viewed, e.ViewedAt = true, at
	case recommend.InteractionClicked:
		if e.Clicked {
			return false
		}
		e.Clicked, e.ClickedAt = true, at
	case recommend.InteractionDonated:
		if e.Donated {
			return false
		}
		e.Donated, e.DonatedAt = true, at
	default:
		return false
	}
	return true
}

// MarkInteraction sets one interaction flag on an entry. Marking an
// interaction that is already set keeps the first timestamp.
func (s *Store) MarkInteraction(ctx context.Context, id string, kind recommend.InteractionKind, at time.Time) (*recommend.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown interaction %q", kind)
	}
	if at.IsZero() {
		at = s.now().UTC()
	}

	var entry *recommend.LedgerEntry
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		entry, err = getEntry(txn, id)
		if err != nil {
			return err
		}
		if !setFlag(entry, kind, at) {
			return nil
		}
		return putEntry(txn, entry)
	})
	metrics.RecordLedgerOperation("mark_"+string(kind), err)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// MarkDonation attributes a completed donation to the most recent entry that
// showed the case to the donor at or before the donation time. It returns
// nil, nil when the case was never recommended to the donor.
func (s *Store) MarkDonation(ctx context.Context, donorID, caseID int, at time.Time) (*recommend.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *recommend.LedgerEntry
	err := s.db.Update(func(txn *badger.Txn) error {
		id, err := latestPairEntry(txn, donorID, caseID, at)
		if err != nil || id == "" {
			return err
		}
		entry, err = getEntry(txn, id)
		if err != nil {
			return err
		}
		if !setFlag(entry, recommend.InteractionDonated, at) {
			return nil
		}
		return putEntry(txn, entry)
	})
	metrics.RecordLedgerOperation("mark_donation", err)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// latestPairEntry returns the id of the newest pair index key shown at or
// before at, or "".
func latestPairEntry(txn *badger.Txn, donorID, caseID int, at time.Time) (string, error) {
	prefix := []byte(pairKeyPrefix(donorID, caseID))
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var latest string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		nanos, id, err := parseIndexSuffix(it.Item().Key()[len(prefix):])
		if err != nil {
			return "", err
		}
		if nanos > at.UnixNano() {
			break
		}
		latest = id
	}
	return latest, nil
}

// parseIndexSuffix splits "{nanos}:{id}".
func parseIndexSuffix(suffix []byte) (int64, string, error) {
	sep := bytes.IndexByte(suffix, ':')
	if sep < 0 {
		return 0, "", fmt.Errorf("malformed index key %q", suffix)
	}
	nanos, err := strconv.ParseInt(string(suffix[:sep]), 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed index key %q: %w", suffix, err)
	}
	return nanos, string(suffix[sep+1:]), nil
}

// scan calls fn for every entry shown in [since, until). A zero until means
// no upper bound.
func (s *Store) scan(ctx context.Context, since, until time.Time, fn func(*recommend.LedgerEntry)) error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(shownPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := []byte(shownPrefix)
		if !since.IsZero() {
			start = []byte(fmt.Sprintf("%s%020d", shownPrefix, since.UnixNano()))
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			nanos, id, err := parseIndexSuffix(it.Item().Key()[len(prefix):])
			if err != nil {
				return err
			}
			if !until.IsZero() && nanos >= until.UnixNano() {
				break
			}
			entry, err := getEntry(txn, id)
			if err != nil {
				s.logger.Warn().Err(err).Str("entry_id", id).Msg("dangling time index key")
				continue
			}
			fn(entry)
		}
		return nil
	})
}

// ShownPairs returns every pair shown since the given time in shown order.
// A pair counts as donated when any of its entries is.
func (s *Store) ShownPairs(ctx context.Context, since time.Time) ([]recommend.ShownPair, error) {
	type pair struct{ donor, cse int }
	index := make(map[pair]int)
	var pairs []recommend.ShownPair

	err := s.scan(ctx, since, time.Time{}, func(e *recommend.LedgerEntry) {
		k := pair{e.DonorID, e.CaseID}
		if i, ok := index[k]; ok {
			pairs[i].Donated = pairs[i].Donated || e.Donated
			return
		}
		index[k] = len(pairs)
		pairs = append(pairs, recommend.ShownPair{
			DonorID: e.DonorID,
			CaseID:  e.CaseID,
			ShownAt: e.ShownAt,
			Donated: e.Donated,
		})
	})
	metrics.RecordLedgerOperation("shown_pairs", err)
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// Count returns the number of entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(entryPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
