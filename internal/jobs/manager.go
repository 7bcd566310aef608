// Package jobs implements JobManager: submission, lifecycle transitions,
// and the stale-job sweep.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/camasync/syncengine/internal/audit"
	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/syncerr"
)

// DefaultStaleTimeout is used when no stale timeout is configured.
const DefaultStaleTimeout = 30 * time.Minute

// NotifyQueueSize bounds the Submit->pool handoff channel. A worker pool
// that falls this far behind still finds the job via Store.Get; the
// channel is a wakeup signal, not the system of record.
const NotifyQueueSize = 256

// Manager accepts job submissions, persists transitions, and sweeps stale
// jobs. Only Manager mutates a Job's status; callers read it back via Get.
type Manager struct {
	store        Store
	audit        audit.Sink
	logger       *slog.Logger
	staleTimeout time.Duration
	now          func() time.Time
	notify       chan string
}

// New creates a Manager. nowFn defaults to time.Now; staleTimeout defaults
// to DefaultStaleTimeout when zero.
func New(store Store, auditSink audit.Sink, logger *slog.Logger, staleTimeout time.Duration, nowFn func() time.Time) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		store:        store,
		audit:        auditSink,
		logger:       logger,
		staleTimeout: staleTimeout,
		now:          nowFn,
		notify:       make(chan string, NotifyQueueSize),
	}
}

// Notifications returns the channel a worker pool reads newly-submitted
// job IDs from. It is never closed by Manager.
func (m *Manager) Notifications() <-chan string {
	return m.notify
}

// Submit creates a PENDING job and returns its ID.
func (m *Manager) Submit(ctx context.Context, kind domain.JobKind, tenantID string, params map[string]any) (string, error) {
	job := domain.Job{
		JobID:     uuid.NewString(),
		Kind:      kind,
		TenantID:  tenantID,
		Status:    domain.JobStatusPending,
		CreatedAt: m.now(),
		Params:    params,
	}
	if err := m.store.Insert(job); err != nil {
		return "", syncerr.Wrap(syncerr.Internal, "jobs.Submit", "persist job", err)
	}
	m.recordJob(ctx, job)
	m.recordEvent(ctx, job.JobID, audit.EventJobCreated, nil)

	select {
	case m.notify <- job.JobID:
	default:
		m.logger.Warn("job notify queue full, pool will pick it up on next poll", "job_id", job.JobID)
	}
	return job.JobID, nil
}

// Get returns the job, or NotFound.
func (m *Manager) Get(jobID string) (domain.Job, error) {
	job, ok := m.store.Get(jobID)
	if !ok {
		return domain.Job{}, &syncerr.NotFound{Resource: "job", ID: jobID}
	}
	return job, nil
}

// MarkRunning transitions PENDING -> RUNNING, setting started_at. It is
// idempotent: calling it again on an already-RUNNING job is a no-op and
// does not re-stamp started_at.
func (m *Manager) MarkRunning(ctx context.Context, jobID string) error {
	job, err := m.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusRunning {
		return nil
	}

	now := m.now()
	ok, casErr := m.store.CompareAndSwapStatus(jobID, domain.JobStatusPending, func(j *domain.Job) {
		j.Status = domain.JobStatusRunning
		j.StartedAt = &now
	})
	if casErr != nil {
		return syncerr.Wrap(syncerr.Internal, "jobs.MarkRunning", "cas to running", casErr)
	}
	if !ok {
		return &syncerr.InvalidTransition{JobID: jobID, From: string(job.Status), To: string(domain.JobStatusRunning)}
	}
	m.recordEvent(ctx, jobID, audit.EventJobStarted, nil)
	return nil
}

// Complete transitions RUNNING -> COMPLETED with resultSummary.
func (m *Manager) Complete(ctx context.Context, jobID string, resultSummary map[string]any) error {
	now := m.now()
	ok, err := m.store.CompareAndSwapStatus(jobID, domain.JobStatusRunning, func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.CompletedAt = &now
		j.ResultSummary = resultSummary
	})
	if err != nil {
		return syncerr.Wrap(syncerr.Internal, "jobs.Complete", "cas to completed", err)
	}
	if !ok {
		// A concurrent cancel or sweep may have already finalized this
		// job; that is not an error for the worker reporting completion.
		return nil
	}
	m.recordEvent(ctx, jobID, audit.EventJobCompleted, map[string]any{"result_summary": resultSummary})
	return nil
}

// Fail transitions RUNNING -> FAILED with errMsg.
func (m *Manager) Fail(ctx context.Context, jobID string, errMsg string) error {
	now := m.now()
	ok, err := m.store.CompareAndSwapStatus(jobID, domain.JobStatusRunning, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.CompletedAt = &now
		j.Error = errMsg
	})
	if err != nil {
		return syncerr.Wrap(syncerr.Internal, "jobs.Fail", "cas to failed", err)
	}
	if !ok {
		return nil
	}
	m.recordEvent(ctx, jobID, audit.EventJobFailed, map[string]any{"error": errMsg})
	return nil
}

// Cancel requests cancellation: PENDING moves straight to CANCELLED;
// RUNNING moves to CANCELLING so the worker can cooperatively observe it
// and finalize to CANCELLED. Terminal jobs reject with InvalidTransition.
func (m *Manager) Cancel(ctx context.Context, jobID string) (domain.JobStatus, error) {
	job, err := m.Get(jobID)
	if err != nil {
		return "", err
	}

	switch job.Status {
	case domain.JobStatusPending:
		now := m.now()
		ok, casErr := m.store.CompareAndSwapStatus(jobID, domain.JobStatusPending, func(j *domain.Job) {
			j.Status = domain.JobStatusCancelled
			j.CompletedAt = &now
		})
		if casErr != nil {
			return "", syncerr.Wrap(syncerr.Internal, "jobs.Cancel", "cas pending to cancelled", casErr)
		}
		if !ok {
			return m.Cancel(ctx, jobID)
		}
		m.recordEvent(ctx, jobID, audit.EventJobCancelled, nil)
		return domain.JobStatusCancelled, nil

	case domain.JobStatusRunning:
		ok, casErr := m.store.CompareAndSwapStatus(jobID, domain.JobStatusRunning, func(j *domain.Job) {
			j.Status = domain.JobStatusCancelling
		})
		if casErr != nil {
			return "", syncerr.Wrap(syncerr.Internal, "jobs.Cancel", "cas running to cancelling", casErr)
		}
		if !ok {
			return m.Cancel(ctx, jobID)
		}
		return domain.JobStatusCancelling, nil

	default:
		return "", &syncerr.InvalidTransition{JobID: jobID, From: string(job.Status), To: string(domain.JobStatusCancelled)}
	}
}

// FinalizeCancellation moves a CANCELLING job to CANCELLED once the
// worker has observed the request and unwound. Called by SyncEngine, not
// the HTTP layer.
func (m *Manager) FinalizeCancellation(ctx context.Context, jobID string) error {
	now := m.now()
	ok, err := m.store.CompareAndSwapStatus(jobID, domain.JobStatusCancelling, func(j *domain.Job) {
		j.Status = domain.JobStatusCancelled
		j.CompletedAt = &now
	})
	if err != nil {
		return syncerr.Wrap(syncerr.Internal, "jobs.FinalizeCancellation", "cas cancelling to cancelled", err)
	}
	if ok {
		m.recordEvent(ctx, jobID, audit.EventJobCancelled, nil)
	}
	return nil
}

// IsCancelling reports whether jobID has an in-flight cancellation
// request, for SyncEngine to check between records.
func (m *Manager) IsCancelling(jobID string) bool {
	job, ok := m.store.Get(jobID)
	return ok && job.Status == domain.JobStatusCancelling
}

// SweepStale marks every RUNNING job older than staleTimeout as FAILED
// with reason "timeout". It is idempotent: a job already moved out of
// RUNNING by this or a prior sweep (or by the worker) is left alone and
// produces no duplicate audit event.
func (m *Manager) SweepStale(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.staleTimeout)
	stale, err := m.store.ListRunningOlderThan(cutoff)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.Internal, "jobs.SweepStale", "list stale", err)
	}

	swept := 0
	for _, job := range stale {
		now := m.now()
		ok, casErr := m.store.CompareAndSwapStatus(job.JobID, domain.JobStatusRunning, func(j *domain.Job) {
			j.Status = domain.JobStatusFailed
			j.CompletedAt = &now
			j.Error = "timeout"
		})
		if casErr != nil {
			m.logger.Error("stale sweep cas failed", "job_id", job.JobID, "error", casErr)
			continue
		}
		if !ok {
			continue
		}
		swept++
		m.recordEvent(ctx, job.JobID, audit.EventStaleExpired, map[string]any{"reason": "timeout"})
	}
	return swept, nil
}

func (m *Manager) recordJob(ctx context.Context, job domain.Job) {
	if m.audit == nil {
		return
	}
	if err := m.audit.RecordJob(ctx, job); err != nil {
		m.logger.Warn("audit record job failed", "job_id", job.JobID, "error", err)
	}
}

func (m *Manager) recordEvent(ctx context.Context, jobID string, kind audit.EventKind, payload map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.RecordEvent(ctx, jobID, kind, payload); err != nil {
		m.logger.Warn("audit record event failed", "job_id", jobID, "kind", kind, "error", err)
	}
}
