// Package syncengine implements the sync pipeline driver: per job, page
// changed records out of PACS, transform, validate, heal, resolve
// conflicts against CAMA, and persist — one entity type at a time, in
// dependency order, under the resilience orchestrator.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/camasync/syncengine/internal/adapter"
	"github.com/camasync/syncengine/internal/audit"
	"github.com/camasync/syncengine/internal/changedetector"
	"github.com/camasync/syncengine/internal/conflict"
	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/heal"
	"github.com/camasync/syncengine/internal/jobs"
	"github.com/camasync/syncengine/internal/metrics"
	"github.com/camasync/syncengine/internal/resilience"
	"github.com/camasync/syncengine/internal/syncerr"
	"github.com/camasync/syncengine/internal/transform"
	"github.com/camasync/syncengine/internal/validate"
)

// DefaultBatchSize is used when neither the job params nor Config specify one.
const DefaultBatchSize = 200

// Config tunes engine behavior shared across every job it runs.
type Config struct {
	BatchSize int
}

// Engine drives one job at a time through the full pipeline. A single
// Engine is safe for concurrent use by a worker pool: all mutable
// per-job state (validPropertyIDs, counters) lives on the stack of Run.
type Engine struct {
	source       adapter.SourceAdapter
	target       adapter.TargetAdapter
	resolver     adapter.IDResolver
	detector     *changedetector.Detector
	transformer  *transform.Transformer
	validator    *validate.Validator
	healer       *heal.SelfHealer
	conflicts    *conflict.Resolver
	orchestrator *resilience.Orchestrator
	jobManager   *jobs.Manager
	watermarks   jobs.WatermarkStore
	auditSink    audit.Sink
	metricsSink  metrics.Sink
	logger       *slog.Logger
	batchSize    int
	now          func() time.Time
}

// Deps collects Engine's collaborators. Every field is required except
// AuditSink, MetricsSink, and Logger, which default to no-ops.
type Deps struct {
	Source       adapter.SourceAdapter
	Target       adapter.TargetAdapter
	Resolver     adapter.IDResolver
	Transformer  *transform.Transformer
	Validator    *validate.Validator
	Healer       *heal.SelfHealer
	Conflicts    *conflict.Resolver
	Orchestrator *resilience.Orchestrator
	JobManager   *jobs.Manager
	Watermarks   jobs.WatermarkStore
	AuditSink    audit.Sink
	MetricsSink  metrics.Sink
	Logger       *slog.Logger
}

// New builds an Engine from deps and cfg.
func New(deps Deps, cfg Config) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		source:       deps.Source,
		target:       deps.Target,
		resolver:     deps.Resolver,
		detector:     changedetector.New(deps.Source),
		transformer:  deps.Transformer,
		validator:    deps.Validator,
		healer:       deps.Healer,
		conflicts:    deps.Conflicts,
		orchestrator: deps.Orchestrator,
		jobManager:   deps.JobManager,
		watermarks:   deps.Watermarks,
		auditSink:    deps.AuditSink,
		metricsSink:  deps.MetricsSink,
		logger:       logger,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// Counters accumulates per-entity-type outcomes into a job's result_summary.
type Counters struct {
	Processed         int `json:"processed"`
	Succeeded         int `json:"succeeded"`
	Failed            int `json:"failed"`
	Conflicts         int `json:"conflicts"`
	ConflictsResolved int `json:"conflicts_resolved"`
	Healed            int `json:"healed"`
}

func (c *Counters) add(o Counters) {
	c.Processed += o.Processed
	c.Succeeded += o.Succeeded
	c.Failed += o.Failed
	c.Conflicts += o.Conflicts
	c.ConflictsResolved += o.ConflictsResolved
	c.Healed += o.Healed
}

// Run executes one job end to end: marks it RUNNING, drives every
// configured entity type in dependency order, and finalizes
// COMPLETED/FAILED/CANCELLED. It returns a non-nil error only for job
// kinds the pipeline cannot run and for failures that abort the whole job
// (SourceUnavailable during detection, sustained TargetUnavailable during
// persistence) — both are also recorded on the job via JobManager.Fail.
func (e *Engine) Run(ctx context.Context, job domain.Job) error {
	if err := e.jobManager.MarkRunning(ctx, job.JobID); err != nil {
		return err
	}
	running, err := e.jobManager.Get(job.JobID)
	if err != nil {
		return err
	}
	job = running

	if job.Kind != domain.JobKindFullSync && job.Kind != domain.JobKindIncrementalSync {
		failErr := syncerr.New(syncerr.InputInvalid, "syncengine.Run", fmt.Sprintf("job kind %q has no sync pipeline", job.Kind))
		_ = e.jobManager.Fail(ctx, job.JobID, failErr.Error())
		return failErr
	}

	var sinceOverride *time.Time
	if job.Kind == domain.JobKindIncrementalSync {
		sinceOverride, err = e.resolveSinceOverride(job)
		if err != nil {
			_ = e.jobManager.Fail(ctx, job.JobID, err.Error())
			return err
		}
	}

	startTS := e.now()
	if job.StartedAt != nil {
		startTS = *job.StartedAt
	}

	entityTypes := e.entityTypesFor(job)
	batchSize := e.batchSizeFor(job)

	total := Counters{}
	perEntity := make(map[domain.EntityType]Counters, len(entityTypes))
	validPropertyIDs := make(map[string]struct{})

	for _, entityType := range entityTypes {
		if e.jobManager.IsCancelling(job.JobID) {
			return e.finalizeCancellation(ctx, job, total, perEntity)
		}

		entitySince := time.Time{}
		if job.Kind == domain.JobKindIncrementalSync {
			switch {
			case sinceOverride != nil:
				entitySince = *sinceOverride
			default:
				if wm, found, wErr := e.watermarks.Get(job.TenantID, entityType); wErr == nil && found {
					entitySince = wm
				}
			}
		}

		counters, runErr := e.runEntityType(ctx, job, entityType, entitySince, batchSize, validPropertyIDs)
		perEntity[entityType] = counters
		total.add(counters)

		e.recordCounterMetrics(entityType, counters)

		if runErr != nil {
			msg := fmt.Sprintf("%s: %v", entityType, runErr)
			_ = e.jobManager.Fail(ctx, job.JobID, msg)
			if e.metricsSink != nil {
				e.metricsSink.Counter("sync_jobs_total", map[string]string{"kind": string(job.Kind), "status": "failed"}).Inc(1)
			}
			return runErr
		}
	}

	for _, entityType := range entityTypes {
		if err := e.watermarks.Set(job.TenantID, entityType, startTS); err != nil {
			e.logger.Error("advance watermark failed", "job_id", job.JobID, "entity_type", entityType, "error", err)
		}
	}

	if e.metricsSink != nil {
		e.metricsSink.Counter("sync_jobs_total", map[string]string{"kind": string(job.Kind), "status": "completed"}).Inc(1)
	}

	summary := map[string]any{
		"processed":          total.Processed,
		"succeeded":          total.Succeeded,
		"failed":             total.Failed,
		"conflicts":          total.Conflicts,
		"conflicts_resolved": total.ConflictsResolved,
		"healed":             total.Healed,
		"by_entity_type":     perEntity,
	}
	return e.jobManager.Complete(ctx, job.JobID, summary)
}

func (e *Engine) finalizeCancellation(ctx context.Context, job domain.Job, total Counters, perEntity map[domain.EntityType]Counters) error {
	e.logger.Info("job cancellation observed, finalizing", "job_id", job.JobID, "processed", total.Processed, "succeeded", total.Succeeded)
	if err := e.jobManager.FinalizeCancellation(ctx, job.JobID); err != nil {
		e.logger.Error("finalize cancellation failed", "job_id", job.JobID, "error", err)
		return err
	}
	if e.metricsSink != nil {
		e.metricsSink.Counter("sync_jobs_total", map[string]string{"kind": string(job.Kind), "status": "cancelled"}).Inc(1)
	}
	return nil
}

// resolveSinceOverride extracts an explicit "since" param (RFC3339 string
// or time.Time) from an incremental job, if the caller supplied one
// instead of deferring to the stored watermark.
func (e *Engine) resolveSinceOverride(job domain.Job) (*time.Time, error) {
	raw, ok := job.Params["since"]
	if !ok || raw == nil {
		return nil, nil
	}
	switch t := raw.(type) {
	case time.Time:
		return &t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.InputInvalid, "syncengine.resolveSinceOverride", "parse since param as RFC3339", err)
		}
		return &parsed, nil
	default:
		return nil, syncerr.New(syncerr.InputInvalid, "syncengine.resolveSinceOverride", "since param must be an RFC3339 string")
	}
}

func (e *Engine) entityTypesFor(job domain.Job) []domain.EntityType {
	raw, ok := job.Params["entity_types"]
	if !ok {
		return domain.EntityOrder
	}
	requested := toStringSlice(raw)
	if len(requested) == 0 {
		return domain.EntityOrder
	}
	want := make(map[domain.EntityType]struct{}, len(requested))
	for _, s := range requested {
		want[domain.EntityType(s)] = struct{}{}
	}
	out := make([]domain.EntityType, 0, len(domain.EntityOrder))
	for _, et := range domain.EntityOrder {
		if _, ok := want[et]; ok {
			out = append(out, et)
		}
	}
	if len(out) == 0 {
		return domain.EntityOrder
	}
	return out
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

func (e *Engine) batchSizeFor(job domain.Job) int {
	if raw, ok := job.Params["batch_size"]; ok {
		switch t := raw.(type) {
		case int:
			if t > 0 {
				return t
			}
		case float64:
			if t > 0 {
				return int(t)
			}
		}
	}
	if e.batchSize > 0 {
		return e.batchSize
	}
	return DefaultBatchSize
}

// runEntityType pages through one entity type's changed records and runs
// each page through runBatch, short-circuiting the remaining pages on a
// sustained target failure so the watermark only advances on full success.
func (e *Engine) runEntityType(ctx context.Context, job domain.Job, entityType domain.EntityType, since time.Time, batchSize int, validPropertyIDs map[string]struct{}) (Counters, error) {
	var total Counters
	offset := 0

	for {
		if e.jobManager.IsCancelling(job.JobID) {
			return total, nil
		}

		var page []domain.SourceRecord
		detectErr := e.orchestrator.ExecuteWithResilience(ctx, "source", "source", func() error {
			var fetchErr error
			page, _, fetchErr = e.detector.GetChanged(ctx, job.TenantID, entityType, since, batchSize, offset)
			return fetchErr
		})
		if detectErr != nil {
			return total, syncerr.Wrap(syncerr.RemoteUnavailable, "syncengine.runEntityType", fmt.Sprintf("detect changed %s", entityType), detectErr)
		}
		if len(page) == 0 {
			return total, nil
		}

		batchCounters, batchErr := e.runBatch(ctx, job, entityType, page, validPropertyIDs)
		total.add(batchCounters)
		if batchErr != nil {
			return total, batchErr
		}

		if len(page) < batchSize {
			return total, nil
		}
		offset += len(page)
	}
}

// runBatch transforms, validates, heals, resolves conflicts for, and
// persists one page of records. A per-batch exception in transform/build
// is absorbed (the batch is abandoned, all its records counted failed,
// job continues). A sustained target failure during persistence returns
// an error so the caller can short-circuit the rest of the entity type.
func (e *Engine) runBatch(ctx context.Context, job domain.Job, entityType domain.EntityType, page []domain.SourceRecord, validPropertyIDs map[string]struct{}) (Counters, error) {
	var counters Counters
	counters.Processed = len(page)

	parentIDMap, err := e.buildParentIDMap(ctx, job, entityType, page)
	if err != nil {
		e.recordBatchSkipped(ctx, job.JobID, entityType, err)
		counters.Failed = len(page)
		return counters, nil
	}
	for _, targetID := range parentIDMap {
		validPropertyIDs[targetID] = struct{}{}
	}

	transformed := e.transformer.BatchTransform(page, parentIDMap)
	valid, invalid := e.validator.BatchValidate(transformed, validPropertyIDs)

	if len(invalid) > 0 {
		healedValid, stillInvalid, actions := e.healer.HealBatch(invalid, validPropertyIDs)
		valid = append(valid, healedValid...)
		counters.Healed += len(actions)
		if len(actions) > 0 {
			e.recordHealing(ctx, job.JobID, entityType, actions)
		}
		for _, rwr := range stillInvalid {
			counters.Failed++
			e.recordRejected(ctx, job.JobID, rwr)
		}
	}

	for _, rec := range valid {
		if e.jobManager.IsCancelling(job.JobID) {
			break
		}
		ok, persistErr := e.persistRecord(ctx, job, entityType, rec, validPropertyIDs, &counters)
		if persistErr != nil {
			return counters, persistErr
		}
		if ok {
			counters.Succeeded++
		} else {
			counters.Failed++
		}
	}

	return counters, nil
}

// buildParentIDMap resolves the SourceID->TargetID map needed for
// entityType's parent-reference field (e.g. owner.property_id). property
// itself has no parent reference and returns a nil map.
func (e *Engine) buildParentIDMap(ctx context.Context, job domain.Job, entityType domain.EntityType, page []domain.SourceRecord) (map[string]string, error) {
	sourceField, ok := e.transformer.ParentRefSourceField(entityType)
	if !ok {
		return nil, nil
	}

	parentIDMap := make(map[string]string)
	seen := make(map[string]struct{})
	var missing []string

	for _, rec := range page {
		raw, present := rec.Payload[sourceField]
		if !present || raw == nil {
			continue
		}
		parentSourceID := fmt.Sprint(raw)
		if _, dup := seen[parentSourceID]; dup {
			continue
		}
		seen[parentSourceID] = struct{}{}

		if targetID, resolved := e.resolver.Resolve(domain.EntityProperty, parentSourceID); resolved {
			parentIDMap[parentSourceID] = targetID
			continue
		}
		missing = append(missing, parentSourceID)
	}

	if len(missing) == 0 {
		return parentIDMap, nil
	}

	var looked map[string]string
	lookupErr := e.orchestrator.ExecuteWithResilience(ctx, "target", "target", func() error {
		var err error
		looked, err = e.target.LookupTargetIDs(ctx, job.TenantID, domain.EntityProperty, missing)
		return err
	})
	if lookupErr != nil {
		return nil, syncerr.Wrap(syncerr.RemoteUnavailable, "syncengine.buildParentIDMap", "lookup parent target ids", lookupErr)
	}
	for sourceID, targetID := range looked {
		parentIDMap[sourceID] = targetID
		e.resolver.Record(domain.EntityProperty, sourceID, targetID)
	}
	return parentIDMap, nil
}

// persistRecord fetches any existing target record, resolves field
// conflicts against it, and upserts the merged result. It returns
// (false, nil) for no surviving case today (reserved for future per-record
// business rejections at the persistence boundary) and (_, err) when the
// target adapter call itself failed after retry/breaker.
func (e *Engine) persistRecord(ctx context.Context, job domain.Job, entityType domain.EntityType, rec domain.TransformedRecord, validPropertyIDs map[string]struct{}, counters *Counters) (bool, error) {
	var existing map[string]any
	var found bool
	getErr := e.orchestrator.ExecuteWithResilience(ctx, "target", "target", func() error {
		var err error
		existing, found, err = e.target.Get(ctx, job.TenantID, entityType, rec.SourceID)
		return err
	})
	if getErr != nil {
		return false, syncerr.Wrap(syncerr.RemoteUnavailable, "syncengine.persistRecord", fmt.Sprintf("get existing %s/%s", entityType, rec.SourceID), getErr)
	}

	targetData := rec.TargetData
	if found {
		conflicts := e.conflicts.Detect(rec.SourceID, entityType, rec.TargetData, existing)
		if len(conflicts) > 0 {
			merged, resolved := e.conflicts.ResolveAll(conflicts, existing)
			conflictFields := make(map[string]struct{}, len(conflicts))
			for _, c := range conflicts {
				conflictFields[c.Field] = struct{}{}
			}
			for field, value := range rec.TargetData {
				if _, isConflict := conflictFields[field]; !isConflict {
					merged[field] = value
				}
			}
			targetData = merged

			counters.Conflicts += len(resolved)
			for _, c := range resolved {
				e.recordConflict(ctx, job.JobID, c)
				if c.Resolution != domain.ResolutionManual {
					counters.ConflictsResolved++
				}
			}
		}
	}
	rec.TargetData = targetData

	var targetID string
	upsertErr := e.orchestrator.ExecuteWithResilience(ctx, "target", "target", func() error {
		var err error
		targetID, _, err = e.target.Upsert(ctx, job.TenantID, rec)
		return err
	})
	if upsertErr != nil {
		return false, syncerr.Wrap(syncerr.RemoteUnavailable, "syncengine.persistRecord", fmt.Sprintf("upsert %s/%s", entityType, rec.SourceID), upsertErr)
	}

	e.resolver.Record(entityType, rec.SourceID, targetID)
	if entityType == domain.EntityProperty {
		validPropertyIDs[targetID] = struct{}{}
	}
	return true, nil
}

func (e *Engine) recordConflict(ctx context.Context, jobID string, c domain.Conflict) {
	if e.auditSink == nil {
		return
	}
	if err := e.auditSink.RecordConflict(ctx, jobID, c); err != nil {
		e.logger.Warn("record conflict failed", "job_id", jobID, "error", err)
	}
}

func (e *Engine) recordHealing(ctx context.Context, jobID string, entityType domain.EntityType, actions []heal.Action) {
	if e.auditSink == nil {
		return
	}
	payload := map[string]any{"entity_type": entityType, "actions": actions}
	if err := e.auditSink.RecordEvent(ctx, jobID, audit.EventHealingDone, payload); err != nil {
		e.logger.Warn("record healing failed", "job_id", jobID, "error", err)
	}
}

// recordRejected logs a single record's post-healing rejection. This is
// per-record, non-fatal, and already reflected in the job's failed
// counter; it does not warrant its own job_events row (that's reserved for
// batch-level abandonment), so it goes to the logger, not the audit sink.
func (e *Engine) recordRejected(_ context.Context, jobID string, rwr validate.RecordWithResult) {
	e.logger.Info("record rejected after healing",
		"job_id", jobID,
		"entity_type", rwr.Record.EntityType,
		"source_id", rwr.Record.SourceID,
		"errors", rwr.Result.Errors,
	)
}

func (e *Engine) recordBatchSkipped(ctx context.Context, jobID string, entityType domain.EntityType, cause error) {
	if e.auditSink == nil {
		return
	}
	payload := map[string]any{"entity_type": entityType, "error": cause.Error()}
	if err := e.auditSink.RecordEvent(ctx, jobID, audit.EventBatchSkipped, payload); err != nil {
		e.logger.Warn("record batch skipped failed", "job_id", jobID, "error", err)
	}
}

func (e *Engine) recordCounterMetrics(entityType domain.EntityType, c Counters) {
	if e.metricsSink == nil {
		return
	}
	labels := map[string]string{"entity_type": string(entityType)}
	e.metricsSink.Counter("sync_records_processed_total", labels).Inc(float64(c.Processed))
	e.metricsSink.Counter("sync_records_succeeded_total", labels).Inc(float64(c.Succeeded))
	e.metricsSink.Counter("sync_records_failed_total", labels).Inc(float64(c.Failed))
	e.metricsSink.Counter("sync_records_healed_total", labels).Inc(float64(c.Healed))
	e.metricsSink.Counter("sync_conflicts_total", labels).Inc(float64(c.Conflicts))
}
