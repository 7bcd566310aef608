// Package domain holds the core types shared across the sync engine:
// jobs, records moving through the pipeline, and the resilience/health
// state the orchestrator tracks.
package domain

import "time"

// JobKind identifies what a Job does once picked up by a worker.
type JobKind string

const (
	JobKindFullSync        JobKind = "FULL_SYNC"
	JobKindIncrementalSync JobKind = "INCREMENTAL_SYNC"
	JobKindReport          JobKind = "REPORT"
	JobKindMarketAnalysis  JobKind = "MARKET_ANALYSIS"
	JobKindGISExport       JobKind = "GIS_EXPORT"
)

// JobStatus is a Job's position in its lifecycle state machine.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusRunning    JobStatus = "RUNNING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelling JobStatus = "CANCELLING"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// IsTerminal reports whether a job in this status can never transition again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the unit of work tracked by JobManager. Only JobManager mutates
// a Job's status; SyncEngine owns its staging data for the job's duration.
type Job struct {
	JobID         string
	Kind          JobKind
	TenantID      string
	Status        JobStatus
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Params        map[string]any
	ResultSummary map[string]any
	Error         string
}

// EntityType names one of the record kinds the pipeline synchronizes.
// property must precede owner/value/structure for referential integrity.
type EntityType string

const (
	EntityProperty  EntityType = "property"
	EntityOwner     EntityType = "owner"
	EntityValue     EntityType = "value"
	EntityStructure EntityType = "structure"
)

// EntityOrder is the deterministic dependency order the pipeline processes
// entity types in: property must land before anything that references it.
var EntityOrder = []EntityType{EntityProperty, EntityOwner, EntityValue, EntityStructure}

// SourceRecord is a single row read from PACS for one entity type.
type SourceRecord struct {
	EntityType   EntityType
	SourceID     string
	Payload      map[string]any
	LastModified time.Time
}

// TransformedRecord is a SourceRecord mapped onto the CAMA schema.
// TargetID is set iff a corresponding target record already exists.
type TransformedRecord struct {
	EntityType EntityType
	SourceID   string
	TargetID   string
	TargetData map[string]any
	Notes      []string
}

// ValidationError is one machine-readable reason a record failed validation.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

// ValidationResult is the structured outcome of validating one record.
type ValidationResult struct {
	IsValid bool
	Errors  []ValidationError
}

// ResolutionStrategy names how a per-field conflict between source and
// target values was, or should be, resolved.
type ResolutionStrategy string

const (
	ResolutionSourceWins ResolutionStrategy = "SOURCE_WINS"
	ResolutionTargetWins ResolutionStrategy = "TARGET_WINS"
	ResolutionMerge      ResolutionStrategy = "MERGE"
	ResolutionManual     ResolutionStrategy = "MANUAL"
)

// Conflict records a single field divergence between a transformed record
// and the existing target record sharing its source_id.
type Conflict struct {
	SourceID      string
	EntityType    EntityType
	Field         string
	SourceValue   any
	TargetValue   any
	Resolution    ResolutionStrategy
	ResolvedValue any
}

// Watermark is the per-(tenant, entity_type) cutoff of the last
// successfully completed incremental sync.
type Watermark struct {
	TenantID     string
	EntityType   EntityType
	LastCutoffTS time.Time
}
