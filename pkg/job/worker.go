package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopcompliance/engine/pkg/model"
	"github.com/shopcompliance/engine/pkg/pipeline"
	"github.com/shopcompliance/engine/pkg/validation"
)

// worker polls the jobs table and processes claimed jobs one at a time.
// Stages within one job never overlap; a worker hosts many jobs over its
// lifetime but only one concurrently.
type worker struct {
	id  string
	sup *Supervisor
	reg *WorkerPool

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, sup *Supervisor, reg *WorkerPool) *worker {
	return &worker{id: id, sup: sup, reg: reg, status: WorkerStatusIdle, lastActivity: time.Now()}
}

func (w *worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}

// run is the worker's poll loop.
func (w *worker) run(ctx context.Context, stopCh <-chan struct{}) {
	log := w.sup.logger.With("worker_id", w.id)
	log.Info("job worker started")

	for {
		select {
		case <-stopCh:
			log.Info("job worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
			if err := w.pollAndProcess(ctx, stopCh); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					w.sleep(stopCh, w.pollInterval())
					continue
				}
				log.Error("error processing job", "error", err)
				w.sleep(stopCh, time.Second)
			}
		}
	}
}

func (w *worker) sleep(stopCh <-chan struct{}, d time.Duration) {
	select {
	case <-stopCh:
	case <-time.After(d):
	}
}

func (w *worker) pollInterval() time.Duration {
	base := w.sup.cfg.PollInterval
	jitter := w.sup.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// pollAndProcess claims the next pending job (if any) and runs it through
// validation and the stage pipeline to a terminal status (
// "On worker dequeue").
func (w *worker) pollAndProcess(ctx context.Context, stopCh <-chan struct{}) error {
	j, err := w.sup.store.ClaimNext(ctx, w.sup.podID)
	if err != nil {
		return err
	}

	log := w.sup.logger.With("job_id", j.JobID, "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(WorkerStatusWorking, j.JobID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancel := context.WithTimeout(ctx, w.sup.cfg.HardStageTimeout)
	defer cancel()

	w.reg.registerCancel(j.JobID, cancel)
	defer w.reg.unregisterCancel(j.JobID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	go w.runHeartbeat(heartbeatCtx, j.JobID)
	defer cancelHeartbeat()

	w.runJob(jobCtx, stopCh, j, log)

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()
	return nil
}

// runJob executes validation then the pipeline, persisting the terminal
// outcome and publishing the matching event.
func (w *worker) runJob(ctx context.Context, stopCh <-chan struct{}, j *model.Job, log *slog.Logger) {
	if verr := validation.Validate(j.Inputs); verr != nil {
		record := &model.ErrorRecord{
			Kind:       model.ErrorKindValidation,
			Message:    verr.Message,
			Details:    verr.Details,
			UserAction: verr.UserAction,
		}
		w.fail(context.Background(), j.JobID, record, log)
		return
	}

	soft := time.AfterFunc(w.sup.cfg.SoftStageTimeout, func() {
		log.Warn("job exceeded soft stage deadline", "soft_timeout", w.sup.cfg.SoftStageTimeout)
	})
	defer soft.Stop()

	p := pipeline.New(w.sup.manager, w.sup.degradation, w.sup.idempotency, j.IdempotencyKey,
		w.sup.cfg.ComplianceThreshold, w.sup.cfg.UncertaintyLow, w.sup.cfg.UncertaintyHigh,
		pipeline.WithLogger(log),
		pipeline.WithIdempotencyTTL(w.sup.cfg.IdempotencyTTL),
		pipeline.WithDegradationTTL(w.sup.cfg.DegradationTTL))

	pctx := &pipeline.Context{Input: j.Inputs, ContentHash: j.ContentHash}

	onProgress := func(current, total int, status string) {
		bg := context.Background()
		if err := w.sup.store.UpdateProgress(bg, j.JobID, current, total, status, pctx.CompletedStages); err != nil {
			log.Error("failed to persist progress", "error", err)
		}
		if w.sup.events != nil {
			w.sup.events.PublishProgress(bg, j.JobID, current, total, status)
		}
	}

	result, err := p.Run(ctx, pctx, onProgress)
	if err != nil {
		var record *model.ErrorRecord
		if !errors.As(err, &record) {
			record = &model.ErrorRecord{Kind: model.ErrorKindUnknown, Message: err.Error()}
		}
		if ctx.Err() != nil && record.Kind != model.ErrorKindCancelled && record.Kind != model.ErrorKindTimeout {
			kind := model.ErrorKindCancelled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = model.ErrorKindTimeout
			}
			record = &model.ErrorRecord{Kind: kind, Message: fmt.Sprintf("job cancelled or timed out: %v", err)}
		}

		if w.shouldRetry(j, record) {
			w.retry(context.Background(), j, record, log)
			return
		}
		w.fail(context.Background(), j.JobID, record, log)
		return
	}

	w.complete(context.Background(), j.JobID, result, log)
}

func (w *worker) complete(ctx context.Context, jobID string, result *model.AnalysisResponse, log *slog.Logger) {
	if err := w.sup.store.Complete(ctx, jobID, result); err != nil {
		log.Error("failed to persist completed job", "error", err)
	}
	if w.sup.events != nil {
		w.sup.events.PublishCompleted(ctx, jobID, result)
	}
	log.Info("job completed")
}

// shouldRetry reports whether the whole task should be requeued rather than
// terminally failed: the error kind must be cross-provider retryable and the
// job must not have exhausted worker.max_retries — this is the task-level
// retry that sits above the Provider Manager's own within-call
// cross-provider failover.
func (w *worker) shouldRetry(j *model.Job, record *model.ErrorRecord) bool {
	if !record.Kind.Retryable() {
		return false
	}
	return j.RetryCount < w.sup.cfg.MaxRetries
}

// retry requeues the job with exponential backoff seeded from
// worker.retry_backoff, instead of persisting a terminal failure.
func (w *worker) retry(ctx context.Context, j *model.Job, record *model.ErrorRecord, log *slog.Logger) {
	delay := w.backoffForAttempt(j.RetryCount)
	notBefore := time.Now().Add(delay)
	if err := w.sup.store.Reschedule(ctx, j.JobID, notBefore); err != nil {
		log.Error("failed to reschedule job for retry", "error", err)
		w.fail(ctx, j.JobID, record, log)
		return
	}
	log.Warn("job failed, scheduling retry", "kind", record.Kind, "attempt", j.RetryCount+1,
		"max_retries", w.sup.cfg.MaxRetries, "delay", delay)
}

// backoffForAttempt computes the delay before attempt retryCount+1, reusing
// the same exponential-backoff generator the Provider Manager's inter-provider
// spacing uses (github.com/cenkalti/backoff/v4), seeded instead with
// worker.retry_backoff as the initial interval.
func (w *worker) backoffForAttempt(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.sup.cfg.RetryBackoff
	b.MaxElapsedTime = 0
	var d time.Duration
	for i := 0; i <= retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (w *worker) fail(ctx context.Context, jobID string, record *model.ErrorRecord, log *slog.Logger) {
	if err := w.sup.store.Fail(ctx, jobID, record); err != nil {
		log.Error("failed to persist failed job", "error", err)
	}
	if w.sup.events != nil {
		w.sup.events.PublishFailed(ctx, jobID, record)
	}
	log.Warn("job failed", "kind", record.Kind, "message", record.Message)
}

// runHeartbeat periodically refreshes last_heartbeat_at so the orphan sweep
// does not reclaim a job that is still legitimately running.
func (w *worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.sup.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sup.store.Heartbeat(ctx, jobID); err != nil {
				w.sup.logger.Warn("heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}
