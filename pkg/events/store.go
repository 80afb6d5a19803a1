package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store is the read side of job_events, used both for catchup replay and to
// resolve a bare NOTIFY envelope (job_id, seq) into its full payload.
type Store struct {
	db *sql.DB
}

// NewStore wraps a connection pool already migrated with job_events.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Since returns every event for jobID with seq > sinceSeq, in order. Passing
// sinceSeq=0 returns the job's full event history — what a subscriber that
// connects before any events exist, or reconnects from scratch, needs.
func (s *Store) Since(ctx context.Context, jobID string, sinceSeq int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, seq, kind, payload, created_at
		FROM job_events WHERE job_id = $1 AND seq > $2 ORDER BY seq ASC
	`, jobID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("events store: since: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BySeq resolves a single (job_id, seq) pair, as carried in a bare NOTIFY
// envelope, to its full persisted payload.
func (s *Store) BySeq(ctx context.Context, jobID string, seq int) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, seq, kind, payload, created_at
		FROM job_events WHERE job_id = $1 AND seq = $2
	`, jobID, seq)
	return scanRecord(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r           Record
		kind        string
		payloadJSON []byte
	)
	if err := row.Scan(&r.ID, &r.JobID, &r.Seq, &kind, &payloadJSON, &r.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("events store: scan: %w", err)
	}
	r.Kind = Kind(kind)
	if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
		return Record{}, fmt.Errorf("events store: unmarshal payload: %w", err)
	}
	return r, nil
}

// IsTerminal reports whether kind ends a job's stream.
func IsTerminal(kind Kind) bool {
	return kind == KindCompleted || kind == KindFailed
}
