// Package job implements the Job Supervisor: submit, idempotency-gated
// enqueue, the worker pool that drains pending jobs, and best-effort
// cooperative cancellation.
package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopcompliance/engine/pkg/model"
)

// ErrNotFound is returned by Store.Get when no job exists for the given ID.
var ErrNotFound = errors.New("job: not found")

// ErrNoJobsAvailable signals an empty claim poll; the worker loop treats it
// as "sleep and retry", not an error.
var ErrNoJobsAvailable = errors.New("job: no pending jobs available")

// Store is the Postgres-backed repository for the jobs collection
//. A job row is both the persisted status record and,
// by virtue of its PENDING rows being claimable, the work queue itself —
// there is no separate broker process.
type Store struct {
	db *sql.DB
}

// NewStore wraps a connection pool already migrated with the jobs table.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new PENDING job record.
func (s *Store) Create(ctx context.Context, j *model.Job) error {
	completedStages, err := json.Marshal(j.CompletedStages)
	if err != nil {
		return fmt.Errorf("job store: marshal completed stages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, idempotency_key, content_hash, shop_name, specialization,
			policy_type, policy_text, status, current_stage, total_stages, progress_message,
			completed_stages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
	`, j.JobID, j.IdempotencyKey, j.ContentHash, j.Inputs.ShopName, j.Inputs.ShopSpecialization,
		string(j.Inputs.PolicyType), j.Inputs.PolicyText, string(j.Status), j.CurrentStage,
		j.TotalStages, j.ProgressMessage, completedStages)
	if err != nil {
		return fmt.Errorf("job store: create %q: %w", j.JobID, err)
	}
	return nil
}

// Get returns the current snapshot of a job, or ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT job_id, idempotency_key, content_hash, shop_name, specialization, policy_type,
			policy_text, status, current_stage, total_stages, progress_message, completed_stages,
			result, error_record, retry_count, created_at, updated_at, completed_at
		FROM jobs WHERE job_id = $1
	`, jobID))
}

func (s *Store) scanOne(row *sql.Row) (*model.Job, error) {
	var (
		j                              model.Job
		policyType                    string
		status                        string
		completedStages, result, errRec []byte
		completedAt                   sql.NullTime
	)
	err := row.Scan(&j.JobID, &j.IdempotencyKey, &j.ContentHash, &j.Inputs.ShopName,
		&j.Inputs.ShopSpecialization, &policyType, &j.Inputs.PolicyText, &status,
		&j.CurrentStage, &j.TotalStages, &j.ProgressMessage, &completedStages, &result, &errRec,
		&j.RetryCount, &j.CreatedAt, &j.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job store: scan: %w", err)
	}

	j.Inputs.PolicyType = model.PolicyType(policyType)
	j.Status = model.JobStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if len(completedStages) > 0 {
		if err := json.Unmarshal(completedStages, &j.CompletedStages); err != nil {
			return nil, fmt.Errorf("job store: unmarshal completed stages: %w", err)
		}
	}
	if len(result) > 0 {
		var r model.AnalysisResponse
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("job store: unmarshal result: %w", err)
		}
		j.Result = &r
	}
	if len(errRec) > 0 {
		var e model.ErrorRecord
		if err := json.Unmarshal(errRec, &e); err != nil {
			return nil, fmt.Errorf("job store: unmarshal error record: %w", err)
		}
		j.Error = &e
	}
	return &j, nil
}

// ClaimNext atomically claims the oldest PENDING job using FOR UPDATE SKIP
// LOCKED, so multiple workers never double-claim the same row, and transitions
// it to RUNNING. Returns ErrNoJobsAvailable when the queue is empty.
func (s *Store) ClaimNext(ctx context.Context, podID string) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("job store: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var jobID string
	err = tx.QueryRowContext(ctx, `
		SELECT job_id FROM jobs
		WHERE status = 'PENDING' AND next_attempt_at <= now()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("job store: claim query: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'RUNNING', pod_id = $2, started_at = now(),
			last_heartbeat_at = now(), updated_at = now()
		WHERE job_id = $1
	`, jobID, podID)
	if err != nil {
		return nil, fmt.Errorf("job store: claim update: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT job_id, idempotency_key, content_hash, shop_name, specialization, policy_type,
			policy_text, status, current_stage, total_stages, progress_message, completed_stages,
			result, error_record, retry_count, created_at, updated_at, completed_at
		FROM jobs WHERE job_id = $1
	`, jobID)
	j, err := s.scanOne(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("job store: commit claim: %w", err)
	}
	return j, nil
}

// UpdateProgress persists the current stage index, message, and accumulated
// stage outcomes for a running job. Progress events mirror this write.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, current, total int, message string, completed []model.StageOutcome) error {
	payload, err := json.Marshal(completed)
	if err != nil {
		return fmt.Errorf("job store: marshal completed stages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET current_stage = $2, total_stages = $3, progress_message = $4,
			completed_stages = $5, updated_at = now()
		WHERE job_id = $1
	`, jobID, current, total, message, payload)
	if err != nil {
		return fmt.Errorf("job store: update progress %q: %w", jobID, err)
	}
	return nil
}

// Heartbeat refreshes last_heartbeat_at so the orphan sweep does not reclaim
// a job that is still legitimately running.
func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET last_heartbeat_at = now() WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("job store: heartbeat %q: %w", jobID, err)
	}
	return nil
}

// Complete transitions a job to COMPLETED and persists its result.
func (s *Store) Complete(ctx context.Context, jobID string, result *model.AnalysisResponse) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("job store: marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'COMPLETED', result = $2, completed_at = now(), updated_at = now()
		WHERE job_id = $1
	`, jobID, payload)
	if err != nil {
		return fmt.Errorf("job store: complete %q: %w", jobID, err)
	}
	return nil
}

// Fail transitions a job to FAILED and persists its classified error.
func (s *Store) Fail(ctx context.Context, jobID string, errRec *model.ErrorRecord) error {
	payload, err := json.Marshal(errRec)
	if err != nil {
		return fmt.Errorf("job store: marshal error record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'FAILED', error_record = $2, completed_at = now(), updated_at = now()
		WHERE job_id = $1
	`, jobID, payload)
	if err != nil {
		return fmt.Errorf("job store: fail %q: %w", jobID, err)
	}
	return nil
}

// Reschedule returns a job to PENDING for another attempt after a retryable
// failure, bumping
// retry_count and deferring its next claim until notBefore so the backoff
// interval is actually honored rather than immediately re-claimed.
func (s *Store) Reschedule(ctx context.Context, jobID string, notBefore time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'PENDING', pod_id = NULL, retry_count = retry_count + 1,
			next_attempt_at = $2, updated_at = now()
		WHERE job_id = $1
	`, jobID, notBefore)
	if err != nil {
		return fmt.Errorf("job store: reschedule %q: %w", jobID, err)
	}
	return nil
}

// ReclaimOrphans resets jobs stuck in RUNNING with a stale heartbeat back to
// PENDING, so another worker picks them up after a crashed pod (mirrors the
// teacher's orphan detection sweep, adapted to a heartbeat-column check
// rather than a session-table join).
func (s *Store) ReclaimOrphans(ctx context.Context, staleAfter time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'PENDING', pod_id = NULL, next_attempt_at = now(), updated_at = now()
		WHERE status = 'RUNNING' AND last_heartbeat_at < now() - $1::interval
	`, staleAfter.String())
	if err != nil {
		return 0, fmt.Errorf("job store: reclaim orphans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("job store: reclaim orphans rows affected: %w", err)
	}
	return n, nil
}

// CountByStatus reports the queue depth and active-job count for the
// supervisor's health snapshot and Prometheus exporter.
func (s *Store) CountByStatus(ctx context.Context, status model.JobStatus) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("job store: count by status %q: %w", status, err)
	}
	return n, nil
}
