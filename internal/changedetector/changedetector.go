// Package changedetector wraps a SourceAdapter to page through entities
// modified since a watermark and fetch their related records.
package changedetector

import (
	"context"
	"fmt"
	"time"

	"github.com/camasync/syncengine/internal/adapter"
	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/syncerr"
)

// Detector pages a SourceAdapter for changed entities.
type Detector struct {
	source adapter.SourceAdapter
}

// New wraps source.
func New(source adapter.SourceAdapter) *Detector {
	return &Detector{source: source}
}

// GetChanged returns one page of entityType records modified strictly
// after since (zero time means "all"), plus the total count for the
// unpaged query. since equal to a record's last_modified excludes it,
// guaranteeing forward progress across incremental runs.
func (d *Detector) GetChanged(ctx context.Context, tenantID string, entityType domain.EntityType, since time.Time, batchSize, offset int) ([]domain.SourceRecord, int, error) {
	records, total, err := d.source.GetChanged(ctx, tenantID, entityType, since, batchSize, offset)
	if err != nil {
		return nil, 0, syncerr.Wrap(syncerr.Transient, "changedetector.GetChanged", fmt.Sprintf("query %s since %s", entityType, since), err)
	}
	return records, total, nil
}

// PageAll drains every page of entityType records modified after since,
// invoking onPage for each non-empty page. A page shorter than batchSize
// is treated as the final page.
func (d *Detector) PageAll(ctx context.Context, tenantID string, entityType domain.EntityType, since time.Time, batchSize int, onPage func([]domain.SourceRecord) error) error {
	offset := 0
	for {
		page, _, err := d.GetChanged(ctx, tenantID, entityType, since, batchSize, offset)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := onPage(page); err != nil {
			return err
		}
		if len(page) < batchSize {
			return nil
		}
		offset += len(page)
	}
}

// GetRelated fetches, for each of relatedTypes, the records referencing
// any of parentIDs. Empty parentIDs always returns empty maps, never an
// error.
func (d *Detector) GetRelated(ctx context.Context, tenantID string, parentType domain.EntityType, parentIDs []string, relatedTypes []domain.EntityType) (map[domain.EntityType][]domain.SourceRecord, error) {
	if len(parentIDs) == 0 {
		return map[domain.EntityType][]domain.SourceRecord{}, nil
	}
	related, err := d.source.GetRelated(ctx, tenantID, parentType, parentIDs, relatedTypes)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Transient, "changedetector.GetRelated", fmt.Sprintf("related of %s", parentType), err)
	}
	return related, nil
}
