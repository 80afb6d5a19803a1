// Package store implements the Idempotency Store and Degradation Store:
// durable, TTL-bounded Postgres-backed caches.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when no live record exists for the key.
var ErrNotFound = errors.New("store: record not found")

// IdempotencyStore persists completed job results keyed by idempotency key
//. Writes are upserts; records past their
// expiry are never returned to readers.
type IdempotencyStore struct {
	db *sql.DB
}

// NewIdempotencyStore wraps a connection pool already migrated with the
// idempotency_records table.
func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// IdempotencyStats summarizes store occupancy for the health endpoint.
type IdempotencyStats struct {
	LiveRecords int64 `json:"live_records"`
}

// Store upserts value under key with the given TTL. Concurrent stores to the
// same key keep the last writer's value — Postgres row-level locking on the
// UPSERT makes this atomic; there is no read-modify-write window.
func (s *IdempotencyStore) Store(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("idempotency store: marshal value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, value, expires_at)
		VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, created_at = now()
	`, key, payload, ttl.String())
	if err != nil {
		return fmt.Errorf("idempotency store: upsert %q: %w", key, err)
	}
	return nil
}

// Get returns the stored value for key, unmarshalled into out. Returns
// ErrNotFound if the key is absent or has expired — expired rows are never
// surfaced, matching "Records beyond expires_at MUST NOT be returned".
func (s *IdempotencyStore) Get(ctx context.Context, key string, out any) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM idempotency_records
		WHERE key = $1 AND expires_at > now()
	`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("idempotency store: get %q: %w", key, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("idempotency store: unmarshal %q: %w", key, err)
	}
	return nil
}

// Has reports whether a live (unexpired) record exists for key.
func (s *IdempotencyStore) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM idempotency_records WHERE key = $1 AND expires_at > now())
	`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("idempotency store: has %q: %w", key, err)
	}
	return exists, nil
}

// Delete removes the record for key, if any.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("idempotency store: delete %q: %w", key, err)
	}
	return nil
}

// Stats reports the current count of live records.
func (s *IdempotencyStore) Stats(ctx context.Context) (IdempotencyStats, error) {
	var stats IdempotencyStats
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM idempotency_records WHERE expires_at > now()
	`).Scan(&stats.LiveRecords)
	if err != nil {
		return stats, fmt.Errorf("idempotency store: stats: %w", err)
	}
	return stats, nil
}
