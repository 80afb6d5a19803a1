package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopcompliance/engine/pkg/fingerprint"
	"github.com/shopcompliance/engine/pkg/model"
	"github.com/shopcompliance/engine/pkg/provider"
	"github.com/shopcompliance/engine/pkg/store"
)

// IdempotencyLookup is the read side of the Idempotency Store the supervisor
// consults on submit.
type IdempotencyLookup interface {
	Get(ctx context.Context, key string, out any) error
}

// DegradationStore is the subset of the Degradation Store passed through to
// each job's pipeline.
type DegradationStore interface {
	Find(ctx context.Context, policyType, contentHash string, out any) error
	Store(ctx context.Context, policyType, contentHash string, result any, ttl time.Duration) error
}

// IdempotencyStore is the subset of the Idempotency Store passed through to
// each job's pipeline (finalization's write side), plus the submit-time read.
type IdempotencyStore interface {
	IdempotencyLookup
	Store(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Supervisor is the Job Supervisor: it owns submission, the jobs table, the
// worker pool, and best-effort cancellation.
type Supervisor struct {
	podID       string
	store       *Store
	idempotency IdempotencyStore
	degradation DegradationStore
	manager     *provider.Manager
	events      EventPublisher
	cfg         Config
	logger      *slog.Logger

	pool *WorkerPool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor wires a Supervisor over its storage and reliability-layer
// collaborators. podID identifies this process for the pod_id column and
// worker IDs, mirroring the prior WorkerPool construction.
func NewSupervisor(podID string, jobStore *Store, idempotency IdempotencyStore, degradation DegradationStore, manager *provider.Manager, events EventPublisher, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		podID:       podID,
		store:       jobStore,
		idempotency: idempotency,
		degradation: degradation,
		manager:     manager,
		events:      events,
		cfg:         cfg,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = newWorkerPool(s)
	return s
}

// Start spawns the worker pool and the orphan-reclaim sweep.
func (s *Supervisor) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Stop gracefully drains in-flight jobs before returning.
func (s *Supervisor) Stop() {
	s.pool.Stop()
}

// Submit implements "On submit". An idempotency hit returns
// the cached result with no work enqueued; a miss persists a PENDING job row
// (which doubles as the queued work item) and returns its job_id.
func (s *Supervisor) Submit(ctx context.Context, input model.SubmissionInput) (SubmitResult, error) {
	idempotencyKey := fingerprint.IdempotencyKey(input)

	var cached model.AnalysisResponse
	err := s.idempotency.Get(ctx, idempotencyKey, &cached)
	if err == nil {
		cached.FromCache = true
		return SubmitResult{Status: SubmitStatusCompleted, FromCache: true, Result: &cached, IdempotencyKey: idempotencyKey}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return SubmitResult{}, fmt.Errorf("job supervisor: idempotency lookup: %w", err)
	}

	return s.enqueue(ctx, input, idempotencyKey)
}

// ForceNew bypasses the idempotency-hit short circuit, but the finalization
// stage still writes to the Idempotency and Degradation Stores on
// completion, so a subsequent plain Submit will observe the refreshed
// result. Per-origin rate limiting for this endpoint is enforced at the
// HTTP layer.
func (s *Supervisor) ForceNew(ctx context.Context, input model.SubmissionInput) (SubmitResult, error) {
	idempotencyKey := fingerprint.IdempotencyKey(input)
	return s.enqueue(ctx, input, idempotencyKey)
}

func (s *Supervisor) enqueue(ctx context.Context, input model.SubmissionInput, idempotencyKey string) (SubmitResult, error) {
	jobID := uuid.NewString()
	j := &model.Job{
		JobID:          jobID,
		Inputs:         input,
		IdempotencyKey: idempotencyKey,
		ContentHash:    fingerprint.ContentHash(input.PolicyText),
		Status:         model.JobStatusPending,
		TotalStages:    0,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return SubmitResult{}, fmt.Errorf("job supervisor: create job: %w", err)
	}
	return SubmitResult{Status: SubmitStatusPending, TaskID: jobID, IdempotencyKey: idempotencyKey}, nil
}

// Status returns the current snapshot of a job for the status/stream
// endpoints.
func (s *Supervisor) Status(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Cancel requests best-effort cooperative cancellation of a running job
//. Returns true if a worker on this pod was
// actively processing the job and its context was cancelled.
func (s *Supervisor) Cancel(jobID string) bool {
	return s.pool.CancelJob(jobID)
}

// Health reports the worker pool and queue-depth snapshot.
func (s *Supervisor) Health(ctx context.Context) PoolHealth {
	return s.pool.Health(ctx)
}
