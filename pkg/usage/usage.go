// Package usage defines the usage recorder shared by its backend
// implementations: one row per orchestration, listing newest-first, and
// spend summaries for the admin surface.
//
// Backends (memory, postgres) implement the Recorder interface. Recording
// is best-effort from the engine's point of view; a failed write is logged,
// never surfaced to the caller.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/atelier-dev/atelier/pkg/api"
)

// Sentinel errors for recorder operations.
var (
	// ErrConflict is returned when a record with the given ID already exists.
	ErrConflict = errors.New("usage record already exists")
)

// Record is the accounting trail of one orchestration.
type Record struct {
	ID            string            `json:"id"`
	RequestID     string            `json:"request_id"`
	Capability    api.Capability    `json:"capability"`
	Provider      string            `json:"provider,omitempty"`
	Status        api.OutcomeStatus `json:"status"`
	EstimatedCost float64           `json:"estimated_cost_usd"`
	ActualCost    float64           `json:"actual_cost_usd"`
	Cached        bool              `json:"cached"`
	Attempts      int               `json:"attempts"`
	DurationMS    int64             `json:"duration_ms"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Summary aggregates usage since a point in time.
type Summary struct {
	Since       time.Time          `json:"since"`
	Requests    int                `json:"requests"`
	CacheHits   int                `json:"cache_hits"`
	TotalActual float64            `json:"total_actual_usd"`
	ByProvider  map[string]float64 `json:"by_provider_usd"`
}

// Recorder persists usage records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Record stores one usage row.
	Record(ctx context.Context, rec *Record) error

	// List returns the most recent records, newest first, at most limit.
	List(ctx context.Context, limit int) ([]*Record, error)

	// Summarize aggregates spend across records created at or after since.
	Summarize(ctx context.Context, since time.Time) (*Summary, error)

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
