// Package postgres provides a PostgreSQL implementation of usage.Recorder.
// It uses pgx/v5 for connection pooling; one row per orchestration.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/usage"
)

// Store is a PostgreSQL-backed usage recorder.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements usage.Recorder at compile time.
var _ usage.Recorder = (*Store)(nil)

// New creates a new PostgreSQL recorder with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Record stores one usage row.
func (s *Store) Record(ctx context.Context, rec *usage.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_records (
			id, request_id, capability, provider, status,
			estimated_cost_usd, actual_cost_usd,
			cached, attempts, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID, rec.RequestID, string(rec.Capability), rec.Provider, string(rec.Status),
		rec.EstimatedCost, rec.ActualCost,
		rec.Cached, rec.Attempts, rec.DurationMS, rec.CreatedAt,
	)

	if err != nil {
		if isDuplicateKey(err) {
			return usage.ErrConflict
		}
		return fmt.Errorf("inserting usage record: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first, at most limit.
func (s *Store) List(ctx context.Context, limit int) ([]*usage.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, request_id, capability, provider, status,
		       estimated_cost_usd, actual_cost_usd,
		       cached, attempts, duration_ms, created_at
		FROM usage_records
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}
	defer rows.Close()

	var out []*usage.Record
	for rows.Next() {
		var rec usage.Record
		var capability, status string
		if err := rows.Scan(
			&rec.ID, &rec.RequestID, &capability, &rec.Provider, &status,
			&rec.EstimatedCost, &rec.ActualCost,
			&rec.Cached, &rec.Attempts, &rec.DurationMS, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		rec.Capability = api.Capability(capability)
		rec.Status = api.OutcomeStatus(status)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Summarize aggregates spend across records created at or after since.
func (s *Store) Summarize(ctx context.Context, since time.Time) (*usage.Summary, error) {
	summary := &usage.Summary{
		Since:      since,
		ByProvider: make(map[string]float64),
	}

	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE cached),
		       coalesce(sum(actual_cost_usd), 0)
		FROM usage_records
		WHERE created_at >= $1
	`, since).Scan(&summary.Requests, &summary.CacheHits, &summary.TotalActual)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT provider, coalesce(sum(actual_cost_usd), 0)
		FROM usage_records
		WHERE created_at >= $1 AND provider <> ''
		GROUP BY provider
	`, since)
	if err != nil {
		return nil, fmt.Errorf("aggregating per-provider usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var provider string
		var total float64
		if err := rows.Scan(&provider, &total); err != nil {
			return nil, fmt.Errorf("scanning provider total: %w", err)
		}
		summary.ByProvider[provider] = total
	}
	return summary, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
