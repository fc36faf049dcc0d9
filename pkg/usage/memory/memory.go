// Package memory provides an in-memory usage recorder for testing and
// single-node deployments. Records live in a fixed-size ring; the oldest
// rows fall off when it is full.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/pkg/usage"
)

// DefaultCapacity is the ring size used when New is given a non-positive
// capacity.
const DefaultCapacity = 1024

// Recorder is an in-memory usage.Recorder backed by a ring buffer.
type Recorder struct {
	mu      sync.RWMutex
	records []*usage.Record
	head    int // next write position
	count   int
}

// Ensure Recorder implements usage.Recorder at compile time.
var _ usage.Recorder = (*Recorder)(nil)

// New creates a recorder keeping at most capacity records.
func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{records: make([]*usage.Record, capacity)}
}

// Record stores one usage row, displacing the oldest when the ring is full.
func (r *Recorder) Record(_ context.Context, rec *usage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[r.head] = rec
	r.head = (r.head + 1) % len(r.records)
	if r.count < len(r.records) {
		r.count++
	}
	return nil
}

// List returns the most recent records, newest first.
func (r *Recorder) List(_ context.Context, limit int) ([]*usage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*usage.Record, 0, n)
	for i := 1; i <= n; i++ {
		// head-1 is the newest entry; walk backwards through the ring.
		idx := (r.head - i + len(r.records)) % len(r.records)
		out = append(out, r.records[idx])
	}
	return out, nil
}

// Summarize aggregates spend across records created at or after since.
func (r *Recorder) Summarize(_ context.Context, since time.Time) (*usage.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := &usage.Summary{
		Since:      since,
		ByProvider: make(map[string]float64),
	}
	for i := 1; i <= r.count; i++ {
		idx := (r.head - i + len(r.records)) % len(r.records)
		rec := r.records[idx]
		if rec.CreatedAt.Before(since) {
			continue
		}
		summary.Requests++
		if rec.Cached {
			summary.CacheHits++
		}
		summary.TotalActual += rec.ActualCost
		if rec.Provider != "" {
			summary.ByProvider[rec.Provider] += rec.ActualCost
		}
	}
	return summary, nil
}

// HealthCheck always returns nil for the in-memory recorder.
func (r *Recorder) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory recorder.
func (r *Recorder) Close() error {
	return nil
}
