package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Publisher persists stream events to job_events and broadcasts them via
// pg_notify in the same transaction, so NOTIFY only fires once the event is
// durably committed — a reconnecting subscriber replays from the job store
// rather than a live buffer. It satisfies pkg/job's EventPublisher
// interface; the no-error return there means failures are logged rather
// than propagated — a publish failure must never fail an otherwise-
// successful job.
type Publisher struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPublisher wraps a connection pool already migrated with job_events.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db, logger: slog.Default()}
}

// PublishProgress persists and broadcasts a progress event.
func (p *Publisher) PublishProgress(ctx context.Context, jobID string, current, total int, status string) {
	p.publish(ctx, jobID, KindProgress, ProgressPayload{Current: current, Total: total, Status: status})
}

// PublishCompleted persists and broadcasts the terminal completed event.
func (p *Publisher) PublishCompleted(ctx context.Context, jobID string, result any) {
	p.publish(ctx, jobID, KindCompleted, CompletedPayload{Result: result})
}

// PublishFailed persists and broadcasts the terminal failed event.
func (p *Publisher) PublishFailed(ctx context.Context, jobID string, errRecord any) {
	p.publish(ctx, jobID, KindFailed, FailedPayload{Error: errRecord})
}

func (p *Publisher) publish(ctx context.Context, jobID string, kind Kind, payload any) {
	if err := p.persistAndNotify(ctx, jobID, kind, payload); err != nil {
		p.logger.Error("failed to publish job event", "job_id", jobID, "kind", kind, "error", err)
	}
}

// persistAndNotify inserts the event under the next per-job sequence number
// and issues pg_notify in the same transaction, so NOTIFY is held until
// COMMIT and the two can never diverge.
func (p *Publisher) persistAndNotify(ctx context.Context, jobID string, kind Kind, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s payload: %w", kind, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("events: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO job_events (job_id, seq, kind, payload, created_at)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM job_events WHERE job_id = $1), $2, $3, now())
		RETURNING seq
	`, jobID, string(kind), payloadJSON).Scan(&seq)
	if err != nil {
		return fmt.Errorf("events: insert: %w", err)
	}

	notifyPayload, err := json.Marshal(map[string]any{
		"job_id": jobID,
		"seq":    seq,
		"kind":   kind,
	})
	if err != nil {
		return fmt.Errorf("events: marshal notify envelope: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel(jobID), string(notifyPayload)); err != nil {
		return fmt.Errorf("events: pg_notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("events: commit: %w", err)
	}
	return nil
}
