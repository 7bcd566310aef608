// Package audit defines the AuditSink interface components use to record
// job lifecycle events and conflicts.
package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/camasync/syncengine/internal/domain"
)

// EventKind names a job_events row's kind column.
type EventKind string

const (
	EventJobCreated   EventKind = "job_created"
	EventJobStarted   EventKind = "job_started"
	EventJobCompleted EventKind = "job_completed"
	EventJobFailed    EventKind = "job_failed"
	EventJobCancelled EventKind = "job_cancelled"
	EventStaleExpired EventKind = "stale_expired"
	EventHealingDone  EventKind = "healing_applied"
	EventBatchSkipped EventKind = "batch_skipped"
)

// Sink records per-job events, conflicts, and healing actions for audit.
type Sink interface {
	RecordJob(ctx context.Context, job domain.Job) error
	RecordEvent(ctx context.Context, jobID string, kind EventKind, payload map[string]any) error
	RecordConflict(ctx context.Context, jobID string, conflict domain.Conflict) error
}

// LogSink writes audit records to a structured logger only; nothing is
// persisted. The application wires PostgresSink instead.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink wraps logger, defaulting to slog.Default() when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) RecordJob(_ context.Context, job domain.Job) error {
	s.logger.Info("job audit", "job_id", job.JobID, "kind", job.Kind, "status", job.Status, "tenant_id", job.TenantID)
	return nil
}

func (s *LogSink) RecordEvent(_ context.Context, jobID string, kind EventKind, payload map[string]any) error {
	s.logger.Info("job event", "job_id", jobID, "event", kind, "payload", payload)
	return nil
}

func (s *LogSink) RecordConflict(_ context.Context, jobID string, conflict domain.Conflict) error {
	s.logger.Info("conflict recorded",
		"job_id", jobID,
		"source_id", conflict.SourceID,
		"entity_type", conflict.EntityType,
		"field", conflict.Field,
		"resolution", conflict.Resolution,
	)
	return nil
}

// MemorySink accumulates audit records in memory, used by tests that
// assert on exact audit trails (e.g. "healer lists all three actions").
type MemorySink struct {
	mu        sync.Mutex
	Jobs      []domain.Job
	Events    []RecordedEvent
	Conflicts []RecordedConflict
}

// RecordedEvent pairs a job ID with the event recorded against it.
type RecordedEvent struct {
	JobID   string
	Kind    EventKind
	Payload map[string]any
}

// RecordedConflict pairs a job ID with the conflict recorded against it.
type RecordedConflict struct {
	JobID    string
	Conflict domain.Conflict
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) RecordJob(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Jobs = append(s.Jobs, job)
	return nil
}

func (s *MemorySink) RecordEvent(_ context.Context, jobID string, kind EventKind, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, RecordedEvent{JobID: jobID, Kind: kind, Payload: payload})
	return nil
}

func (s *MemorySink) RecordConflict(_ context.Context, jobID string, conflict domain.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Conflicts = append(s.Conflicts, RecordedConflict{JobID: jobID, Conflict: conflict})
	return nil
}

// HasEvent reports whether kind was recorded for jobID, for idempotent
// sweep assertions ("second sweep does not produce a second event").
func (s *MemorySink) HasEvent(jobID string, kind EventKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.Events {
		if e.JobID == jobID && e.Kind == kind {
			return true
		}
	}
	return false
}

// CountEvents counts how many times kind was recorded for jobID.
func (s *MemorySink) CountEvents(jobID string, kind EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.Events {
		if e.JobID == jobID && e.Kind == kind {
			n++
		}
	}
	return n
}
