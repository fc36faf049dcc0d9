// Package memory provides an in-memory implementation of cache.Cache for
// testing and single-instance deployments. Entries are lost when the process
// restarts.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/cache"
)

// entry wraps a cache entry with its position in the creation-order list.
type entry struct {
	e    *cache.Entry
	elem *list.Element // position in createdList
}

// Store is an in-memory cache. Lookups take only a read lock; expired
// entries are treated as absent on lookup and purged opportunistically on
// the next Store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry            // fingerprint -> entry
	buckets map[string]map[string]*entry // similarity bucket -> fingerprint -> entry
	// createdList orders fingerprints by creation: front = newest,
	// back = oldest. Entries are always stored at creation time, so
	// insertion order matches CreatedAt order and capacity eviction
	// removes from the back.
	createdList *list.List

	now func() time.Time
}

// Ensure Store implements cache.Cache at compile time.
var _ cache.Cache = (*Store)(nil)

// New creates an empty in-memory cache.
func New() *Store {
	return &Store{
		entries:     make(map[string]*entry),
		buckets:     make(map[string]map[string]*entry),
		createdList: list.New(),
		now:         time.Now,
	}
}

// Lookup returns the live entry for the exact fingerprint, or the best
// near-duplicate in the same similarity bucket with score >= threshold.
func (s *Store) Lookup(_ context.Context, fingerprint string, key api.SimilarityKey, threshold float64) (*cache.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()

	if ent, ok := s.entries[fingerprint]; ok && !ent.e.Expired(now) {
		return ent.e, true, nil
	}

	// Near-duplicate scan within the bucket. A threshold above 1 can never
	// match, so skip the scan entirely.
	if threshold > 1 {
		return nil, false, nil
	}
	var best *cache.Entry
	var bestScore float64
	for _, ent := range s.buckets[key.Bucket] {
		if ent.e.Expired(now) {
			continue
		}
		score := key.Score(ent.e.SimilarityKey)
		if score < threshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && ent.e.CreatedAt.After(best.CreatedAt)) {
			best = ent.e
			bestScore = score
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return best, true, nil
}

// Store saves the entry, purges expired entries, and evicts the oldest
// created entries while over capacity.
func (s *Store) Store(_ context.Context, e *cache.Entry, maxEntries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[e.Fingerprint]; ok {
		s.remove(old)
	}

	ent := &entry{e: e}
	ent.elem = s.createdList.PushFront(e.Fingerprint)
	s.entries[e.Fingerprint] = ent

	bucket := s.buckets[e.SimilarityKey.Bucket]
	if bucket == nil {
		bucket = make(map[string]*entry)
		s.buckets[e.SimilarityKey.Bucket] = bucket
	}
	bucket[e.Fingerprint] = ent

	s.purgeExpired()
	if maxEntries > 0 {
		for len(s.entries) > maxEntries {
			s.evictOldest()
		}
	}
	return nil
}

// Len returns the number of entries currently held, including any expired
// entries not yet purged.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// HealthCheck always returns nil for the in-memory cache.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory cache.
func (s *Store) Close() error {
	return nil
}

// purgeExpired drops entries past their TTL. Must be called with s.mu held.
func (s *Store) purgeExpired() {
	now := s.now()
	for _, ent := range s.entries {
		if ent.e.Expired(now) {
			s.remove(ent)
		}
	}
}

// evictOldest removes the oldest-created entry. Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.createdList.Back()
	if back == nil {
		return
	}
	if ent, ok := s.entries[back.Value.(string)]; ok {
		s.remove(ent)
		return
	}
	s.createdList.Remove(back)
}

// remove deletes an entry from all indexes. Must be called with s.mu held.
func (s *Store) remove(ent *entry) {
	delete(s.entries, ent.e.Fingerprint)
	s.createdList.Remove(ent.elem)
	if bucket, ok := s.buckets[ent.e.SimilarityKey.Bucket]; ok {
		delete(bucket, ent.e.Fingerprint)
		if len(bucket) == 0 {
			delete(s.buckets, ent.e.SimilarityKey.Bucket)
		}
	}
}
