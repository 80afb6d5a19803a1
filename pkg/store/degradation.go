package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DegradationStore persists the most recent successful analysis for a given
// (policy_type, content_hash) pair, with a longer TTL than the idempotency
// store, used only when the primary pipeline cannot produce a fresh result
//.
type DegradationStore struct {
	db *sql.DB
}

// NewDegradationStore wraps a connection pool already migrated with the
// degradation_records table.
func NewDegradationStore(db *sql.DB) *DegradationStore {
	return &DegradationStore{db: db}
}

// Store upserts a fallback-eligible result for (policyType, contentHash).
func (s *DegradationStore) Store(ctx context.Context, policyType, contentHash string, result any, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("degradation store: marshal value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO degradation_records (policy_type, content_hash, result, expires_at)
		VALUES ($1, $2, $3, now() + $4::interval)
		ON CONFLICT (policy_type, content_hash) DO UPDATE
		SET result = EXCLUDED.result, expires_at = EXCLUDED.expires_at, created_at = now()
	`, policyType, contentHash, payload, ttl.String())
	if err != nil {
		return fmt.Errorf("degradation store: upsert (%q, %q): %w", policyType, contentHash, err)
	}
	return nil
}

// Find looks up a live fallback result by strict equality on both fields.
// Returns ErrNotFound if no live record matches.
func (s *DegradationStore) Find(ctx context.Context, policyType, contentHash string, out any) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT result FROM degradation_records
		WHERE policy_type = $1 AND content_hash = $2 AND expires_at > now()
	`, policyType, contentHash).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("degradation store: find (%q, %q): %w", policyType, contentHash, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("degradation store: unmarshal (%q, %q): %w", policyType, contentHash, err)
	}
	return nil
}

// Clear removes every record for a given policy type. Used for operator-driven
// cache invalidation when the regulatory body changes for that category.
func (s *DegradationStore) Clear(ctx context.Context, policyType string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM degradation_records WHERE policy_type = $1`, policyType)
	if err != nil {
		return fmt.Errorf("degradation store: clear %q: %w", policyType, err)
	}
	return nil
}
