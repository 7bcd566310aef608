package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/jobs"
)

// PoolConfig sizes a Pool's worker count and stale-sweep cadence.
type PoolConfig struct {
	WorkerCount        int
	StaleSweepInterval time.Duration
}

// DefaultPoolConfig returns a small, conservative pool suitable for a
// single-node deployment.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		WorkerCount:        4,
		StaleSweepInterval: 5 * time.Minute,
	}
}

// Pool is the bounded worker pool that picks PENDING jobs off
// JobManager's notification channel and drives them through Engine.Run,
// using a single queue since job priority is out of scope, with a
// Start/Stop/context-cancel/WaitGroup shutdown shape.
type Pool struct {
	engine     *Engine
	jobManager *jobs.Manager
	locker     jobs.JobLocker
	logger     *slog.Logger
	config     PoolConfig

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	sweepWg    sync.WaitGroup
}

// NewPool builds a Pool. cfg's zero values fall back to DefaultPoolConfig.
// locker is consulted before a job runs so no two workers (in this process
// or another) drive the same tenant+entity_type pair concurrently; a nil
// locker defaults to jobs.NoopLocker{}.
func NewPool(engine *Engine, jobManager *jobs.Manager, locker jobs.JobLocker, logger *slog.Logger, cfg PoolConfig) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = jobs.NoopLocker{}
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultPoolConfig().WorkerCount
	}
	if cfg.StaleSweepInterval <= 0 {
		cfg.StaleSweepInterval = DefaultPoolConfig().StaleSweepInterval
	}
	return &Pool{engine: engine, jobManager: jobManager, locker: locker, logger: logger, config: cfg}
}

// Start launches the worker goroutines and the stale-sweep timer. ctx
// cancellation (or Stop) unwinds both.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("starting sync worker pool", "workers", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.sweepWg.Add(1)
	go p.sweepLoop()
}

// Stop cancels the pool's context and waits up to timeout for in-flight
// jobs and the sweep loop to unwind.
func (p *Pool) Stop(timeout time.Duration) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.sweepWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("sync worker pool stopped")
		return nil
	case <-time.After(timeout):
		p.logger.Warn("sync worker pool stop timed out", "timeout", timeout)
		return context.DeadlineExceeded
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	notifications := p.jobManager.Notifications()

	for {
		select {
		case <-p.ctx.Done():
			return
		case jobID, ok := <-notifications:
			if !ok {
				return
			}
			p.runJob(id, jobID)
		}
	}
}

func (p *Pool) runJob(workerID int, jobID string) {
	job, err := p.jobManager.Get(jobID)
	if err != nil {
		p.logger.Error("worker could not load job", "worker_id", workerID, "job_id", jobID, "error", err)
		return
	}
	if job.Status != domain.JobStatusPending {
		// Already picked up, cancelled, or swept stale before this worker
		// got to it; nothing to do.
		return
	}

	releases, ok, err := p.acquireLocks(job)
	if err != nil {
		p.logger.Error("job lock acquisition failed", "worker_id", workerID, "job_id", jobID, "error", err)
		return
	}
	if !ok {
		p.logger.Info("job deferred, entity type already locked by another job", "worker_id", workerID, "job_id", jobID)
		return
	}
	defer func() {
		for _, release := range releases {
			if relErr := release(p.ctx); relErr != nil {
				p.logger.Warn("job lock release failed", "worker_id", workerID, "job_id", jobID, "error", relErr)
			}
		}
	}()

	if err := p.engine.Run(p.ctx, job); err != nil {
		p.logger.Error("job run failed", "worker_id", workerID, "job_id", jobID, "error", err)
	}
}

// acquireLocks takes the tenant+entity_type lock for every entity type the
// job will process, in domain.EntityOrder so concurrent jobs that overlap
// on more than one entity type always contend for them in the same order
// (preventing lock-ordering deadlocks across workers). On partial failure
// already-taken locks are released before returning.
func (p *Pool) acquireLocks(job domain.Job) ([]func(context.Context) error, bool, error) {
	entityTypes := p.engine.entityTypesFor(job)
	releases := make([]func(context.Context) error, 0, len(entityTypes))

	for _, et := range entityTypes {
		release, ok, err := p.locker.Acquire(p.ctx, job.TenantID, string(et))
		if err != nil {
			p.rollback(releases)
			return nil, false, err
		}
		if !ok {
			p.rollback(releases)
			return nil, false, nil
		}
		releases = append(releases, release)
	}
	return releases, true, nil
}

func (p *Pool) rollback(releases []func(context.Context) error) {
	for _, release := range releases {
		if err := release(p.ctx); err != nil {
			p.logger.Warn("job lock rollback release failed", "error", err)
		}
	}
}

func (p *Pool) sweepLoop() {
	defer p.sweepWg.Done()
	ticker := time.NewTicker(p.config.StaleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			swept, err := p.jobManager.SweepStale(p.ctx)
			if err != nil {
				p.logger.Error("stale job sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				p.logger.Info("swept stale jobs", "count", swept)
			}
		}
	}
}
