// Package adapter defines the boundary interfaces the sync pipeline uses to
// read PACS source records and write CAMA target records.
package adapter

import (
	"context"
	"time"

	"github.com/camasync/syncengine/internal/domain"
)

// Lifecycle is embedded by both adapter kinds: connection state is managed
// outside the request path so breaker/retry wrapping in the orchestrator
// only ever guards the per-call methods.
type Lifecycle interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Healthy(ctx context.Context) error
}

// SourceAdapter reads records from the legacy PACS system.
type SourceAdapter interface {
	Lifecycle

	// GetChanged returns one page of records of entityType with
	// last_modified strictly after since (zero time means "all"), ordered
	// by last_modified descending, ties broken by source_id, plus a total
	// count estimate for the unpaged query.
	GetChanged(ctx context.Context, tenantID string, entityType domain.EntityType, since time.Time, batchSize, offset int) (records []domain.SourceRecord, totalCount int, err error)

	// GetRelated fetches, for each of relatedTypes, the records that
	// reference any of parentIDs. Empty parentIDs returns empty maps and
	// never errors.
	GetRelated(ctx context.Context, tenantID string, parentType domain.EntityType, parentIDs []string, relatedTypes []domain.EntityType) (map[domain.EntityType][]domain.SourceRecord, error)

	// GetCount returns the total number of entityType records for tenantID.
	GetCount(ctx context.Context, tenantID string, entityType domain.EntityType) (int, error)
}

// TargetAdapter writes records to the CAMA system of record.
type TargetAdapter interface {
	Lifecycle

	// Get returns the existing target record for a source_id, if any.
	Get(ctx context.Context, tenantID string, entityType domain.EntityType, sourceID string) (map[string]any, bool, error)

	// LookupTargetIDs resolves a batch of source_ids to their existing
	// target_ids. Source IDs with no existing target record are omitted.
	LookupTargetIDs(ctx context.Context, tenantID string, entityType domain.EntityType, sourceIDs []string) (map[string]string, error)

	// Upsert writes rec, returning the assigned or existing target_id and
	// whether the call created a new row (false means it updated one).
	// Idempotent: redelivery of the same rec is always safe.
	Upsert(ctx context.Context, tenantID string, rec domain.TransformedRecord) (targetID string, created bool, err error)

	// Delete removes the target record for targetID, reporting whether a
	// row was actually removed.
	Delete(ctx context.Context, tenantID string, entityType domain.EntityType, targetID string) (bool, error)
}

// IDResolver maps a SourceID to the TargetID assigned to it during this run
// (or a previous one), used to resolve parent-reference fields.
type IDResolver interface {
	Resolve(entityType domain.EntityType, sourceID string) (targetID string, ok bool)
	Record(entityType domain.EntityType, sourceID, targetID string)
}
