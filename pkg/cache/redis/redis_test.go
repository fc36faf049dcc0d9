package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/cache"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := NewWithClient(client)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEntry(prompt string, ttl time.Duration, now time.Time) *cache.Entry {
	req := &api.Request{Capability: api.CapabilityImage, Prompt: prompt}
	return &cache.Entry{
		Fingerprint:   req.Fingerprint(),
		SimilarityKey: req.SimilarityKey(),
		Payload: &api.Artifact{
			Capability: api.CapabilityImage,
			Provider:   "replicate",
			Media:      []api.Media{{URL: "https://example.test/" + prompt}},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestNewBadURL(t *testing.T) {
	if _, err := New("not-a-url"); err == nil {
		t.Fatal("New with invalid URL must fail")
	}
}

func TestExactLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testEntry("a red fox", time.Hour, time.Now())
	if err := s.Store(ctx, e, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := s.Lookup(ctx, e.Fingerprint, e.SimilarityKey, 1.0)
	if err != nil || !ok {
		t.Fatalf("Lookup = %v, %v; want hit", ok, err)
	}
	if got.Payload.Provider != "replicate" {
		t.Errorf("Provider = %q, want replicate", got.Payload.Provider)
	}
}

func TestLookupMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := &api.Request{Capability: api.CapabilityImage, Prompt: "nothing stored"}
	_, ok, err := s.Lookup(ctx, req.Fingerprint(), req.SimilarityKey(), 0.85)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Error("Lookup on empty cache must miss")
	}
}

func TestSimilarityLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored := testEntry("a red fox in deep snow", time.Hour, time.Now())
	if err := s.Store(ctx, stored, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}

	query := &api.Request{Capability: api.CapabilityImage, Prompt: "a red fox in white snow"}

	got, ok, err := s.Lookup(ctx, query.Fingerprint(), query.SimilarityKey(), 0.7)
	if err != nil || !ok {
		t.Fatalf("Lookup = %v, %v; want similarity hit", ok, err)
	}
	if got.Fingerprint != stored.Fingerprint {
		t.Error("similarity hit must return the stored entry")
	}

	if _, ok, _ := s.Lookup(ctx, query.Fingerprint(), query.SimilarityKey(), 0.9); ok {
		t.Error("similarity below threshold must miss")
	}
}

func TestTTLBoundaryExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	e := testEntry("a red fox", time.Minute, base)
	if err := s.Store(ctx, e, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}

	s.now = func() time.Time { return base.Add(time.Minute - time.Nanosecond) }
	if _, ok, _ := s.Lookup(ctx, e.Fingerprint, e.SimilarityKey, 1.0); !ok {
		t.Error("entry must be served right up to its TTL")
	}

	s.now = func() time.Time { return base.Add(time.Minute) }
	if _, ok, _ := s.Lookup(ctx, e.Fingerprint, e.SimilarityKey, 1.0); ok {
		t.Error("entry with expires_at == now must be expired")
	}
}

func TestStoreSkipsAlreadyExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testEntry("a red fox", time.Minute, time.Now().Add(-time.Hour))
	if err := s.Store(ctx, e, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok, _ := s.Lookup(ctx, e.Fingerprint, e.SimilarityKey, 1.0); ok {
		t.Error("an entry expired before storing must never be served")
	}
}

func TestCapacityEvictsOldestCreated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	var entries []*cache.Entry
	for i := 0; i < 4; i++ {
		e := testEntry(fmt.Sprintf("prompt number %d", i), time.Hour, base.Add(time.Duration(i)*time.Second))
		entries = append(entries, e)
		if err := s.Store(ctx, e, 3); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	if _, ok, _ := s.Lookup(ctx, entries[0].Fingerprint, entries[0].SimilarityKey, 1.0); ok {
		t.Error("oldest-created entry must be evicted first")
	}
	for _, e := range entries[1:] {
		if _, ok, _ := s.Lookup(ctx, e.Fingerprint, e.SimilarityKey, 1.0); !ok {
			t.Errorf("entry %q must survive eviction", e.Payload.Media[0].URL)
		}
	}
}

func TestServerSideExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := NewWithClient(client)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	e := testEntry("a red fox", time.Minute, time.Now())
	if err := s.Store(ctx, e, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	// Keep the client-side clock in step with the server.
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, ok, _ := s.Lookup(ctx, e.Fingerprint, e.SimilarityKey, 1.0); ok {
		t.Error("entry must expire server-side")
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestStore(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
