package job

import (
	"context"
	"time"
)

// Config tunes the worker pool and job timeouts. Wired from pkg/config at
// process startup. HardStageTimeout is a single deadline on the job's
// context covering its whole run (validation and all stages together);
// SoftStageTimeout starts after validation and only logs a warning once it
// passes. Neither timeout is applied to each stage separately.
type Config struct {
	WorkerCount        int
	MaxConcurrentJobs  int
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	HeartbeatInterval  time.Duration
	SoftStageTimeout   time.Duration
	HardStageTimeout   time.Duration
	OrphanStaleAfter   time.Duration
	OrphanScanInterval time.Duration
	ComplianceThreshold float64
	UncertaintyLow     float64
	UncertaintyHigh    float64
	MaxRetries         int
	RetryBackoff       time.Duration
	IdempotencyTTL     time.Duration
	DegradationTTL     time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:         4,
		MaxConcurrentJobs:   16,
		PollInterval:        2 * time.Second,
		PollIntervalJitter:  500 * time.Millisecond,
		HeartbeatInterval:   15 * time.Second,
		SoftStageTimeout:    540 * time.Second,
		HardStageTimeout:    600 * time.Second,
		OrphanStaleAfter:    2 * time.Minute,
		OrphanScanInterval:  30 * time.Second,
		ComplianceThreshold: 95,
		UncertaintyLow:      0.30,
		UncertaintyHigh:     0.70,
		MaxRetries:          3,
		RetryBackoff:        60 * time.Second,
		IdempotencyTTL:      24 * time.Hour,
		DegradationTTL:      7 * 24 * time.Hour,
	}
}

// WorkerStatus is a worker's coarse health state.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a point-in-time snapshot of one worker.
type WorkerHealth struct {
	ID                string       `json:"id"`
	Status            WorkerStatus `json:"status"`
	CurrentJobID      string       `json:"current_job_id,omitempty"`
	JobsProcessed     int          `json:"jobs_processed"`
	LastActivity      time.Time    `json:"last_activity"`
}

// PoolHealth aggregates the worker pool's state for the health endpoint.
type PoolHealth struct {
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveJobs       int64          `json:"active_jobs"`
	QueueDepth       int64          `json:"queue_depth"`
	DBHealthy        bool           `json:"db_healthy"`
	DBError          string         `json:"db_error,omitempty"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	OrphansRecovered int64          `json:"orphans_recovered"`
}

// SubmitStatus is the coarse outcome of a Submit/ForceNew call.
type SubmitStatus string

const (
	SubmitStatusCompleted SubmitStatus = "completed"
	SubmitStatusPending   SubmitStatus = "pending"
)

// SubmitResult is returned to the HTTP layer's submit/force-new handlers
//.
type SubmitResult struct {
	Status         SubmitStatus
	FromCache      bool
	Result         any
	TaskID         string
	IdempotencyKey string
}

// EventPublisher is the subset of the Event Stream Hub the supervisor
// drives; kept as an interface here so pkg/job never imports pkg/events
// directly (avoids a dependency cycle with the hub's own job-state replay).
type EventPublisher interface {
	PublishProgress(ctx context.Context, jobID string, current, total int, status string)
	PublishCompleted(ctx context.Context, jobID string, result any)
	PublishFailed(ctx context.Context, jobID string, errRecord any)
}
