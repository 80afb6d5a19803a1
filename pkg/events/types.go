// Package events implements the Event Stream Hub: per-job pub/sub fan-out
// over PostgreSQL NOTIFY/LISTEN, with every persistent event durably
// recorded so a late subscriber can replay a job's terminal state instead
// of depending on a live in-memory buffer.
package events

import "time"

// Kind is the closed enumeration of stream events.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Record is the persisted row backing both NOTIFY delivery and catchup
// replay. Seq is per-job, strictly increasing,
// and is what lets a subscriber resume without gaps or duplicates.
type Record struct {
	ID        int64           `json:"id"`
	JobID     string          `json:"job_id"`
	Seq       int             `json:"seq"`
	Kind      Kind            `json:"kind"`
	Payload   map[string]any  `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProgressPayload mirrors the fields requires for every
// progress slot: the stage index, the fixed total, and a status label.
type ProgressPayload struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status"`
}

// CompletedPayload wraps the finalized analysis result.
type CompletedPayload struct {
	Result any `json:"result"`
}

// FailedPayload wraps the classified terminal error.
type FailedPayload struct {
	Error any `json:"error"`
}

// channel returns the PostgreSQL NOTIFY channel name for a job's stream.
// Unexported: channel naming is an internal wiring detail between the
// publisher and the hub, never surfaced to HTTP clients.
func channel(jobID string) string {
	return "job_events:" + jobID
}
