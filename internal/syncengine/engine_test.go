package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camasync/syncengine/internal/adapter"
	"github.com/camasync/syncengine/internal/audit"
	"github.com/camasync/syncengine/internal/conflict"
	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/heal"
	"github.com/camasync/syncengine/internal/jobs"
	memoryadapter "github.com/camasync/syncengine/internal/adapter/memory"
	"github.com/camasync/syncengine/internal/resilience"
	"github.com/camasync/syncengine/internal/transform"
	"github.com/camasync/syncengine/internal/validate"
)

func testMappings() []domain.EntityMapping {
	return []domain.EntityMapping{
		{
			EntityType: domain.EntityProperty,
			Fields: []domain.FieldMapping{
				{SourceField: "parcel_no", TargetField: "parcel_number"},
				{SourceField: "addr", TargetField: "address"},
				{SourceField: "st", TargetField: "state"},
				{SourceField: "acreage", TargetField: "acreage"},
				{SourceField: "year_built", TargetField: "year_built"},
			},
		},
		{
			EntityType: domain.EntityOwner,
			Fields: []domain.FieldMapping{
				{SourceField: "property_id", TargetField: "property_id", IsParentRef: true},
				{SourceField: "owner_name", TargetField: "name"},
			},
		},
		{
			EntityType: domain.EntityValue,
			Fields: []domain.FieldMapping{
				{SourceField: "property_id", TargetField: "property_id", IsParentRef: true},
				{SourceField: "land_value", TargetField: "land_value"},
				{SourceField: "improvement_value", TargetField: "improvement_value"},
				{SourceField: "market_value", TargetField: "market_value"},
			},
		},
		{
			EntityType: domain.EntityStructure,
			Fields: []domain.FieldMapping{
				{SourceField: "property_id", TargetField: "property_id", IsParentRef: true},
			},
		},
	}
}

func newTestEngine(t *testing.T, source *memoryadapter.Source, target *memoryadapter.Target, auditSink audit.Sink) (*Engine, *jobs.Manager) {
	t.Helper()

	resolver, err := adapter.NewLRUIDResolver(1024)
	require.NoError(t, err)

	orchestrator := resilience.NewOrchestrator(nil)
	orchestrator.RegisterBreaker("source", resilience.DefaultBreakerConfig())
	orchestrator.RegisterBreaker("target", resilience.DefaultBreakerConfig())

	validator := validate.New(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })

	jobStore := jobs.NewMemoryStore()
	jobManager := jobs.New(jobStore, auditSink, nil, 0, nil)
	watermarks := jobs.NewMemoryWatermarkStore()

	engine := New(Deps{
		Source:       source,
		Target:       target,
		Resolver:     resolver,
		Transformer:  transform.NewTransformer(testMappings()),
		Validator:    validator,
		Healer:       heal.New(validator, nil),
		Conflicts:    conflict.New(nil, nil),
		Orchestrator: orchestrator,
		JobManager:   jobManager,
		Watermarks:   watermarks,
		AuditSink:    auditSink,
	}, Config{BatchSize: 10})

	return engine, jobManager
}

func seedBasicProperty(source *memoryadapter.Source, modified time.Time) {
	source.Seed(
		domain.SourceRecord{
			EntityType: domain.EntityProperty, SourceID: "p1", LastModified: modified,
			Payload: map[string]any{"parcel_no": "ABC-123", "addr": "100 Main Street", "st": "CA", "acreage": 1.5, "year_built": 1990},
		},
		domain.SourceRecord{
			EntityType: domain.EntityOwner, SourceID: "o1", LastModified: modified,
			Payload: map[string]any{"property_id": "p1", "owner_name": "Jane Doe"},
		},
		domain.SourceRecord{
			EntityType: domain.EntityValue, SourceID: "v1", LastModified: modified,
			Payload: map[string]any{"property_id": "p1", "land_value": 100000.0, "improvement_value": 50000.0, "market_value": 150000.0},
		},
	)
}

func TestEngineRun_FullSyncHappyPath(t *testing.T) {
	source := memoryadapter.NewSource()
	target := memoryadapter.NewTarget()
	auditSink := audit.NewMemorySink()
	seedBasicProperty(source, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	engine, jobManager := newTestEngine(t, source, target, auditSink)

	jobID, err := jobManager.Submit(context.Background(), domain.JobKindFullSync, "tenant-1", nil)
	require.NoError(t, err)
	job, err := jobManager.Get(jobID)
	require.NoError(t, err)

	err = engine.Run(context.Background(), job)
	require.NoError(t, err)

	final, err := jobManager.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)

	properties := target.All(domain.EntityProperty)
	require.Len(t, properties, 1)
	assert.Equal(t, "ABC-123", properties["p1"]["parcel_number"])

	owners := target.All(domain.EntityOwner)
	require.Len(t, owners, 1)
	assert.Equal(t, "tgt-1", owners["o1"]["property_id"], "owner's property_id should resolve to the property's assigned target_id")

	values := target.All(domain.EntityValue)
	require.Len(t, values, 1)
	assert.Equal(t, "tgt-1", values["v1"]["property_id"])

	summary := final.ResultSummary
	require.NotNil(t, summary)
	assert.Equal(t, 3, summary["succeeded"])
	assert.Equal(t, 0, summary["failed"])
}

func TestEngineRun_RecordRejectedDoesNotFailJob(t *testing.T) {
	source := memoryadapter.NewSource()
	target := memoryadapter.NewTarget()
	auditSink := audit.NewMemorySink()
	source.Seed(domain.SourceRecord{
		EntityType: domain.EntityProperty, SourceID: "bad-1", LastModified: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload: map[string]any{"parcel_no": "???", "addr": "x", "st": "CALIFORNIA", "acreage": -1.0, "year_built": 3000},
	})

	engine, jobManager := newTestEngine(t, source, target, auditSink)
	jobID, err := jobManager.Submit(context.Background(), domain.JobKindFullSync, "tenant-1", nil)
	require.NoError(t, err)
	job, err := jobManager.Get(jobID)
	require.NoError(t, err)

	require.NoError(t, engine.Run(context.Background(), job))

	final, err := jobManager.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, final.Status, "unhealable record rejection must not fail the whole job")
	assert.Equal(t, 1, final.ResultSummary["failed"])
	assert.Equal(t, 0, final.ResultSummary["succeeded"])
}

func TestEngineRun_IncrementalAdvancesWatermarkAndSkipsUnchanged(t *testing.T) {
	source := memoryadapter.NewSource()
	target := memoryadapter.NewTarget()
	auditSink := audit.NewMemorySink()
	seedBasicProperty(source, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	engine, jobManager := newTestEngine(t, source, target, auditSink)

	jobID, err := jobManager.Submit(context.Background(), domain.JobKindIncrementalSync, "tenant-1", map[string]any{
		"since": "2025-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	job, err := jobManager.Get(jobID)
	require.NoError(t, err)
	require.NoError(t, engine.Run(context.Background(), job))

	final, err := jobManager.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.ResultSummary["succeeded"])

	// A second incremental run with no "since" override picks up the
	// watermark just advanced and finds nothing new to sync.
	jobID2, err := jobManager.Submit(context.Background(), domain.JobKindIncrementalSync, "tenant-1", nil)
	require.NoError(t, err)
	job2, err := jobManager.Get(jobID2)
	require.NoError(t, err)
	require.NoError(t, engine.Run(context.Background(), job2))

	final2, err := jobManager.Get(jobID2)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, final2.Status)
	assert.Equal(t, 0, final2.ResultSummary["processed"])
}

func TestEngineFinalizeCancellation(t *testing.T) {
	source := memoryadapter.NewSource()
	target := memoryadapter.NewTarget()
	auditSink := audit.NewMemorySink()

	engine, jobManager := newTestEngine(t, source, target, auditSink)
	jobID, err := jobManager.Submit(context.Background(), domain.JobKindFullSync, "tenant-1", nil)
	require.NoError(t, err)

	require.NoError(t, jobManager.MarkRunning(context.Background(), jobID))
	status, err := jobManager.Cancel(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCancelling, status)

	job, err := jobManager.Get(jobID)
	require.NoError(t, err)

	require.NoError(t, engine.finalizeCancellation(context.Background(), job, Counters{Processed: 2, Succeeded: 1}, nil))

	final, err := jobManager.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, final.Status)
}

func TestEngineRun_UnsupportedJobKindFailsImmediately(t *testing.T) {
	source := memoryadapter.NewSource()
	target := memoryadapter.NewTarget()
	auditSink := audit.NewMemorySink()

	engine, jobManager := newTestEngine(t, source, target, auditSink)
	jobID, err := jobManager.Submit(context.Background(), domain.JobKindReport, "tenant-1", nil)
	require.NoError(t, err)
	job, err := jobManager.Get(jobID)
	require.NoError(t, err)

	err = engine.Run(context.Background(), job)
	require.Error(t, err)

	final, getErr := jobManager.Get(jobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, final.Status)
}
