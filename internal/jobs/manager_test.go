package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/camasync/syncengine/internal/audit"
	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SubmitMarkRunningComplete(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := audit.NewMemorySink()
	m := New(NewMemoryStore(), sink, nil, 0, func() time.Time { return fixed })

	jobID, err := m.Submit(context.Background(), domain.JobKindFullSync, "tenant1", nil)
	require.NoError(t, err)

	job, err := m.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	require.NoError(t, m.MarkRunning(context.Background(), jobID))
	job, _ = m.Get(jobID)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	startedAt := *job.StartedAt

	// idempotent: re-entering RUNNING does not re-stamp started_at.
	require.NoError(t, m.MarkRunning(context.Background(), jobID))
	job, _ = m.Get(jobID)
	assert.Equal(t, startedAt, *job.StartedAt)

	require.NoError(t, m.Complete(context.Background(), jobID, map[string]any{"processed": 10}))
	job, _ = m.Get(jobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, job.Status.IsTerminal())
}

func TestManager_CancelPendingIsImmediate(t *testing.T) {
	m := New(NewMemoryStore(), audit.NewMemorySink(), nil, 0, nil)
	jobID, err := m.Submit(context.Background(), domain.JobKindIncrementalSync, "tenant1", nil)
	require.NoError(t, err)

	status, err := m.Cancel(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, status)
}

func TestManager_CancelRunningIsCooperative(t *testing.T) {
	m := New(NewMemoryStore(), audit.NewMemorySink(), nil, 0, nil)
	jobID, err := m.Submit(context.Background(), domain.JobKindIncrementalSync, "tenant1", nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkRunning(context.Background(), jobID))

	status, err := m.Cancel(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelling, status)
	assert.True(t, m.IsCancelling(jobID))

	require.NoError(t, m.FinalizeCancellation(context.Background(), jobID))
	job, _ := m.Get(jobID)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
}

func TestManager_CancelTerminalJobRejected(t *testing.T) {
	m := New(NewMemoryStore(), audit.NewMemorySink(), nil, 0, nil)
	jobID, err := m.Submit(context.Background(), domain.JobKindIncrementalSync, "tenant1", nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkRunning(context.Background(), jobID))
	require.NoError(t, m.Complete(context.Background(), jobID, nil))

	_, err = m.Cancel(context.Background(), jobID)
	require.Error(t, err)
	var invalidTransition *syncerr.InvalidTransition
	assert.ErrorAs(t, err, &invalidTransition)
}

func TestManager_SweepStaleMarksFailedOnceIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	started := now.Add(-45 * time.Minute)

	sink := audit.NewMemorySink()
	store := NewMemoryStore()
	m := New(store, sink, nil, 30*time.Minute, func() time.Time { return now })

	jobID, err := m.Submit(context.Background(), domain.JobKindIncrementalSync, "tenant1", nil)
	require.NoError(t, err)
	require.NoError(t, store.Update(domain.Job{JobID: jobID, Status: domain.JobStatusRunning, StartedAt: &started}))

	swept, err := m.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	job, _ := m.Get(jobID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "timeout", job.Error)
	assert.Equal(t, 1, sink.CountEvents(jobID, audit.EventStaleExpired))

	swept2, err := m.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept2)
	assert.Equal(t, 1, sink.CountEvents(jobID, audit.EventStaleExpired))
}

func TestManager_GetUnknownJobReturnsNotFound(t *testing.T) {
	m := New(NewMemoryStore(), audit.NewMemorySink(), nil, 0, nil)
	_, err := m.Get("does-not-exist")
	require.Error(t, err)
	var notFound *syncerr.NotFound
	assert.ErrorAs(t, err, &notFound)
}
