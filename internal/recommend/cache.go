// Almoner - Charity Case Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/almoner

package recommend

// cachedRanking returns a cached ranking if it is fresh, was produced by the
// current model version, and every item is still available and not donated
// to. Anything else is treated as a miss.
func (e *Engine) cachedRanking(donorID, n, version int) *Ranking {
	if !e.config.Cache.Enabled {
		return nil
	}

	e.cacheMu.RLock()
	entry, ok := e.cache[cacheKey{donorID: donorID, n: n}]
	e.cacheMu.RUnlock()
	if !ok || entry.version != version || e.now().After(entry.expiresAt) {
		return nil
	}

	if !e.stillServable(entry.ranking, entry.history) {
		e.cacheMu.Lock()
		delete(e.cache, cacheKey{donorID: donorID, n: n})
		e.cacheMu.Unlock()
		return nil
	}

	out := copyRanking(entry.ranking)
	out.CacheHit = true
	return out
}

// stillServable re-checks cached items against the current dataset. A
// change in the donor's completed history also invalidates the entry.
func (e *Engine) stillServable(r *Ranking, historyLen int) bool {
	e.dataMu.RLock()
	defer e.dataMu.RUnlock()

	if e.data == nil {
		return false
	}
	history := e.data.DonorHistory(r.DonorID)
	if len(history) != historyLen {
		return false
	}
	donated := make(map[int]struct{}, len(history))
	for _, id := range history {
		donated[id] = struct{}{}
	}
	for _, item := range r.Items {
		c, err := e.data.Case(item.CaseID)
		if err != nil || !c.IsAvailable() {
			return false
		}
		if _, ok := donated[item.CaseID]; ok {
			return false
		}
	}
	return true
}

func (e *Engine) storeCache(donorID, n, version int, r *Ranking) {
	if !e.config.Cache.Enabled {
		return
	}

	e.dataMu.RLock()
	historyLen := 0
	if e.data != nil {
		historyLen = len(e.data.DonorHistory(donorID))
	}
	e.dataMu.RUnlock()

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	e.evictLocked()
	e.cache[cacheKey{donorID: donorID, n: n}] = cacheEntry{
		ranking:   copyRanking(r),
		version:   version,
		history:   historyLen,
		expiresAt: e.now().Add(e.config.Cache.TTL),
	}
}

// evictLocked drops expired entries, then arbitrary entries while the cache
// is full. Must be called with cacheMu held.
func (e *Engine) evictLocked() {
	if len(e.cache) < e.config.Cache.MaxEntries {
		return
	}
	now := e.now()
	for k, entry := range e.cache {
		if now.After(entry.expiresAt) {
			delete(e.cache, k)
		}
	}
	for k := range e.cache {
		if len(e.cache) < e.config.Cache.MaxEntries {
			break
		}
		delete(e.cache, k)
	}
}

// clearCache drops every cached ranking.
func (e *Engine) clearCache() {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cache = make(map[cacheKey]cacheEntry)
}

// InvalidateDonor drops every cached ranking for one donor.
func (e *Engine) InvalidateDonor(donorID int) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	for k := range e.cache {
		if k.donorID == donorID {
			delete(e.cache, k)
		}
	}
}
