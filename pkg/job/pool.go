package job

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WorkerPool manages a pool of job workers draining the jobs table.
type WorkerPool struct {
	sup      *Supervisor
	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	// cancel registry: job_id -> cancel function, populated by whichever
	// worker on this pod claimed the job.
	mu      sync.RWMutex
	cancels map[string]context.CancelFunc

	orphanMu         sync.Mutex
	orphansRecovered int64
}

func newWorkerPool(sup *Supervisor) *WorkerPool {
	return &WorkerPool{
		sup:     sup,
		stopCh:  make(chan struct{}),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan-reclaim sweep. Safe to call
// multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true

	cfg := p.sup.cfg
	p.sup.logger.Info("starting job worker pool", "pod_id", p.sup.podID, "worker_count", cfg.WorkerCount)

	p.workers = make([]*worker, 0, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", p.sup.podID, i), p.sup, p)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx, p.stopCh)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanSweep(ctx)
	}()
}

// Stop signals every worker to stop and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	p.sup.logger.Info("stopping job worker pool", "pod_id", p.sup.podID)
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// registerCancel records a running job's cancel function.
func (p *WorkerPool) registerCancel(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[jobID] = cancel
}

// unregisterCancel removes a job's cancel function once it terminates.
func (p *WorkerPool) unregisterCancel(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, jobID)
}

// CancelJob triggers context cancellation for a job on this pod, if present.
func (p *WorkerPool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.cancels[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// runOrphanSweep periodically reclaims jobs whose worker died mid-flight
// (stale heartbeat), resetting them back to PENDING for another claim.
func (p *WorkerPool) runOrphanSweep(ctx context.Context) {
	ticker := time.NewTicker(p.sup.cfg.OrphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.sup.store.ReclaimOrphans(context.Background(), p.sup.cfg.OrphanStaleAfter)
			if err != nil {
				p.sup.logger.Error("orphan reclaim sweep failed", "error", err)
				continue
			}
			if n > 0 {
				p.orphanMu.Lock()
				p.orphansRecovered += n
				p.orphanMu.Unlock()
				p.sup.logger.Warn("reclaimed orphaned jobs", "count", n)
			}
		}
	}
}

// Health aggregates worker and queue-depth state for the health endpoint.
func (p *WorkerPool) Health(ctx context.Context) PoolHealth {
	queueDepth, errQ := p.sup.store.CountByStatus(ctx, "PENDING")
	activeJobs, errA := p.sup.store.CountByStatus(ctx, "RUNNING")
	dbHealthy := errQ == nil && errA == nil

	var dbError string
	switch {
	case errQ != nil:
		dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
	case errA != nil:
		dbError = fmt.Sprintf("active jobs query failed: %v", errA)
	}

	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.health()
		stats[i] = h
		if h.Status == WorkerStatusWorking {
			active++
		}
	}

	p.orphanMu.Lock()
	recovered := p.orphansRecovered
	p.orphanMu.Unlock()

	return PoolHealth{
		PodID:            p.sup.podID,
		ActiveWorkers:    active,
		TotalWorkers:     len(p.workers),
		ActiveJobs:       activeJobs,
		QueueDepth:       queueDepth,
		DBHealthy:        dbHealthy,
		DBError:          dbError,
		WorkerStats:      stats,
		OrphansRecovered: recovered,
	}
}
