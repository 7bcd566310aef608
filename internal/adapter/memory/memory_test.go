package memory

import (
	"context"
	"testing"
	"time"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_GetChangedFiltersBySinceAndPaginates(t *testing.T) {
	s := NewSource()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	recent2 := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)

	s.Seed(
		domain.SourceRecord{EntityType: domain.EntityProperty, SourceID: "p1", LastModified: old},
		domain.SourceRecord{EntityType: domain.EntityProperty, SourceID: "p2", LastModified: recent},
		domain.SourceRecord{EntityType: domain.EntityProperty, SourceID: "p3", LastModified: recent2},
	)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	page, total, err := s.GetChanged(context.Background(), "tenant1", domain.EntityProperty, since, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "p3", page[0].SourceID)

	page2, _, err := s.GetChanged(context.Background(), "tenant1", domain.EntityProperty, since, 1, 1)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "p2", page2[0].SourceID)
}

func TestSource_GetChangedExcludesEqualToSince(t *testing.T) {
	s := NewSource()
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Seed(domain.SourceRecord{EntityType: domain.EntityProperty, SourceID: "p1", LastModified: since})

	page, total, err := s.GetChanged(context.Background(), "tenant1", domain.EntityProperty, since, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, page)
}

func TestSource_GetRelatedEmptyParentIDsNeverErrors(t *testing.T) {
	s := NewSource()
	related, err := s.GetRelated(context.Background(), "tenant1", domain.EntityProperty, nil, []domain.EntityType{domain.EntityOwner})
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestSource_GetRelatedFiltersByParent(t *testing.T) {
	s := NewSource()
	s.Seed(
		domain.SourceRecord{EntityType: domain.EntityOwner, SourceID: "o1", Payload: map[string]any{"property_id": "p1"}},
		domain.SourceRecord{EntityType: domain.EntityOwner, SourceID: "o2", Payload: map[string]any{"property_id": "p2"}},
	)

	related, err := s.GetRelated(context.Background(), "tenant1", domain.EntityProperty, []string{"p1"}, []domain.EntityType{domain.EntityOwner})
	require.NoError(t, err)
	require.Len(t, related[domain.EntityOwner], 1)
	assert.Equal(t, "o1", related[domain.EntityOwner][0].SourceID)
}

func TestTarget_UpsertAssignsTargetIDOnceThenReuses(t *testing.T) {
	tgt := NewTarget()
	rec := domain.TransformedRecord{EntityType: domain.EntityProperty, SourceID: "p1", TargetData: map[string]any{"address": "123 Main St"}}

	id1, created1, err := tgt.Upsert(context.Background(), "tenant1", rec)
	require.NoError(t, err)
	require.NotEmpty(t, id1)
	assert.True(t, created1)

	rec.TargetData["address"] = "456 New St"
	id2, created2, err := tgt.Upsert(context.Background(), "tenant1", rec)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.False(t, created2)

	data, found, err := tgt.Get(context.Background(), "tenant1", domain.EntityProperty, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "456 New St", data["address"])
}

func TestTarget_LookupTargetIDsOmitsUnknown(t *testing.T) {
	tgt := NewTarget()
	rec := domain.TransformedRecord{EntityType: domain.EntityProperty, SourceID: "p1", TargetData: map[string]any{}}
	id1, _, err := tgt.Upsert(context.Background(), "tenant1", rec)
	require.NoError(t, err)

	ids, err := tgt.LookupTargetIDs(context.Background(), "tenant1", domain.EntityProperty, []string{"p1", "p2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p1": id1}, ids)
}

func TestTarget_DeleteRemovesRecord(t *testing.T) {
	tgt := NewTarget()
	rec := domain.TransformedRecord{EntityType: domain.EntityProperty, SourceID: "p1", TargetData: map[string]any{}}
	id1, _, err := tgt.Upsert(context.Background(), "tenant1", rec)
	require.NoError(t, err)

	removed, err := tgt.Delete(context.Background(), "tenant1", domain.EntityProperty, id1)
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err := tgt.Get(context.Background(), "tenant1", domain.EntityProperty, "p1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTarget_GetMissReturnsFalse(t *testing.T) {
	tgt := NewTarget()
	_, found, err := tgt.Get(context.Background(), "tenant1", domain.EntityProperty, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}
