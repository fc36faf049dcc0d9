// Package redis provides a Redis-backed implementation of cache.Cache for
// deployments where multiple gateway instances share one response cache.
//
// Entries are stored as JSON values with server-side expiry. Two sorted-set
// indexes support the non-exact operations: one per similarity bucket for
// near-duplicate scans, and one global creation-order index for capacity
// eviction. Index members whose entry has expired are cleaned up lazily.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/cache"
)

const (
	keyPrefix = "atelier:cache:"

	// similarityScanLimit caps how many bucket members one lookup fetches.
	similarityScanLimit = 256
)

// Store is a Redis-backed cache.
type Store struct {
	client *redis.Client
	now    func() time.Time
}

// Ensure Store implements cache.Cache at compile time.
var _ cache.Cache = (*Store)(nil)

// New connects to the Redis instance at url (redis://host:port/db) and
// verifies the connection.
func New(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of
// nothing; Close closes the client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// Lookup returns the live entry for the exact fingerprint, or the best
// near-duplicate in the same similarity bucket with score >= threshold.
func (s *Store) Lookup(ctx context.Context, fingerprint string, key api.SimilarityKey, threshold float64) (*cache.Entry, bool, error) {
	now := s.now()

	data, err := s.client.Get(ctx, entryKey(fingerprint)).Bytes()
	switch {
	case err == nil:
		var e cache.Entry
		if jsonErr := json.Unmarshal(data, &e); jsonErr != nil {
			return nil, false, fmt.Errorf("decoding cache entry: %w", jsonErr)
		}
		// Server-side expiry has second-level slack; enforce the exact
		// boundary here.
		if !e.Expired(now) {
			return &e, true, nil
		}
	case err != redis.Nil:
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	if threshold > 1 {
		return nil, false, nil
	}

	members, err := s.client.ZRange(ctx, bucketKey(key.Bucket), 0, similarityScanLimit-1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("cache bucket scan: %w", err)
	}
	if len(members) == 0 {
		return nil, false, nil
	}

	entryKeys := make([]string, len(members))
	for i, m := range members {
		entryKeys[i] = entryKey(m)
	}
	values, err := s.client.MGet(ctx, entryKeys...).Result()
	if err != nil {
		return nil, false, fmt.Errorf("cache bucket fetch: %w", err)
	}

	var best *cache.Entry
	var bestScore float64
	var stale []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, members[i])
			continue
		}
		var e cache.Entry
		if jsonErr := json.Unmarshal([]byte(raw), &e); jsonErr != nil {
			stale = append(stale, members[i])
			continue
		}
		if e.Expired(now) {
			continue
		}
		score := key.Score(e.SimilarityKey)
		if score < threshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && e.CreatedAt.After(best.CreatedAt)) {
			entry := e
			best = &entry
			bestScore = score
		}
	}

	if len(stale) > 0 {
		s.removeIndexMembers(ctx, key.Bucket, stale)
	}

	if best == nil {
		return nil, false, nil
	}
	return best, true, nil
}

// Store saves the entry with server-side expiry and evicts the oldest
// created entries while over capacity.
func (s *Store) Store(ctx context.Context, e *cache.Entry, maxEntries int) error {
	ttl := e.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, entryKey(e.Fingerprint), data, ttl)
	pipe.ZAdd(ctx, bucketKey(e.SimilarityKey.Bucket), &redis.Z{
		Score:  float64(e.CreatedAt.UnixNano()),
		Member: e.Fingerprint,
	})
	// Entries within one bucket share the policy TTL, so bumping the bucket
	// expiry on every store keeps it alive as long as any member.
	pipe.Expire(ctx, bucketKey(e.SimilarityKey.Bucket), ttl)
	pipe.ZAdd(ctx, createdKey(), &redis.Z{
		Score:  float64(e.CreatedAt.UnixNano()),
		Member: e.Fingerprint,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	if maxEntries > 0 {
		return s.evict(ctx, maxEntries)
	}
	return nil
}

// HealthCheck pings the Redis server.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// evict removes the oldest-created members beyond maxEntries. Members whose
// entry already expired are dropped from the index as part of the same pass.
func (s *Store) evict(ctx context.Context, maxEntries int) error {
	total, err := s.client.ZCard(ctx, createdKey()).Result()
	if err != nil {
		return fmt.Errorf("cache eviction count: %w", err)
	}
	excess := total - int64(maxEntries)
	if excess <= 0 {
		return nil
	}

	victims, err := s.client.ZRange(ctx, createdKey(), 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("cache eviction scan: %w", err)
	}
	if len(victims) == 0 {
		return nil
	}

	// Fetch the victims to learn their buckets before deleting.
	entryKeys := make([]string, len(victims))
	for i, v := range victims {
		entryKeys[i] = entryKey(v)
	}
	values, err := s.client.MGet(ctx, entryKeys...).Result()
	if err != nil {
		return fmt.Errorf("cache eviction fetch: %w", err)
	}

	pipe := s.client.Pipeline()
	for i, v := range values {
		if raw, ok := v.(string); ok {
			var e cache.Entry
			if json.Unmarshal([]byte(raw), &e) == nil {
				pipe.ZRem(ctx, bucketKey(e.SimilarityKey.Bucket), victims[i])
			}
		}
		pipe.Del(ctx, entryKeys[i])
	}
	ifaceVictims := make([]interface{}, len(victims))
	for i, v := range victims {
		ifaceVictims[i] = v
	}
	pipe.ZRem(ctx, createdKey(), ifaceVictims...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache eviction: %w", err)
	}
	return nil
}

// removeIndexMembers drops stale members from a bucket and the creation
// index. Best-effort: lookup correctness does not depend on it.
func (s *Store) removeIndexMembers(ctx context.Context, bucket string, members []string) {
	ifaceMembers := make([]interface{}, len(members))
	for i, m := range members {
		ifaceMembers[i] = m
	}
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, bucketKey(bucket), ifaceMembers...)
	pipe.ZRem(ctx, createdKey(), ifaceMembers...)
	_, _ = pipe.Exec(ctx)
}

func entryKey(fingerprint string) string {
	return keyPrefix + "entry:" + fingerprint
}

func bucketKey(bucket string) string {
	return keyPrefix + "bucket:" + bucket
}

func createdKey() string {
	return keyPrefix + "created"
}
