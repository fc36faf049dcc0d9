// Package cache defines the response cache consumed by the orchestration
// engine: an exact fingerprint lookup with a near-duplicate fallback, TTL
// expiry with an exclusive boundary, and oldest-created-first capacity
// eviction.
//
// Policy values (TTL, capacity, similarity threshold) travel with each call
// rather than being fixed at construction, because they come from the policy
// snapshot captured by the request being served. Backends live in the memory
// and redis subpackages.
package cache

import (
	"context"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
)

// Entry is one cached artifact keyed by its request fingerprint.
type Entry struct {
	Fingerprint   string            `json:"fingerprint"`
	SimilarityKey api.SimilarityKey `json:"similarity_key"`
	Payload       *api.Artifact     `json:"payload"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
// The boundary is exclusive: an entry whose ExpiresAt equals now is expired.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Cache is a response cache. Implementations must be safe for concurrent
// use. An expired entry is never returned from Lookup, no matter how
// recently it was stored.
type Cache interface {
	// Lookup returns the entry with the exact fingerprint if present and
	// live. On an exact miss it scans entries sharing key's bucket and
	// returns the highest-scoring live entry whose similarity score is at
	// least threshold. The boolean reports whether an entry was found.
	Lookup(ctx context.Context, fingerprint string, key api.SimilarityKey, threshold float64) (*Entry, bool, error)

	// Store saves the entry, replacing any previous entry with the same
	// fingerprint, then evicts entries in ascending CreatedAt order while
	// the backend holds more than maxEntries live entries. maxEntries <= 0
	// means unlimited.
	Store(ctx context.Context, e *Entry, maxEntries int) error

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
