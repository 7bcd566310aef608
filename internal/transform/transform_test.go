package transform

import (
	"testing"
	"time"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func propertyMapping() domain.EntityMapping {
	return domain.EntityMapping{
		EntityType: domain.EntityProperty,
		Fields: []domain.FieldMapping{
			{SourceField: "parcel_number", TargetField: "parcel_number", Transforms: []domain.TransformSpec{{Name: "uppercase"}, {Name: "trim"}}},
			{SourceField: "state", TargetField: "state", Transforms: []domain.TransformSpec{{Name: "uppercase"}}},
			{SourceField: "acreage", TargetField: "acreage", Transforms: []domain.TransformSpec{{Name: "to_float"}}},
			{SourceField: "notes_field", TargetField: "notes_field", Default: "n/a", HasDefault: true},
		},
	}
}

func ownerMapping() domain.EntityMapping {
	return domain.EntityMapping{
		EntityType: domain.EntityOwner,
		Fields: []domain.FieldMapping{
			{SourceField: "property_id", TargetField: "property_id", IsParentRef: true},
			{SourceField: "name", TargetField: "name"},
		},
	}
}

func TestTransformer_BasicMapping(t *testing.T) {
	tr := NewTransformer([]domain.EntityMapping{propertyMapping()})

	rec := domain.SourceRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p1",
		Payload: map[string]any{
			"parcel_number": " ab-123 ",
			"state":         "wa",
			"acreage":       "1.5",
		},
		LastModified: time.Now(),
	}

	out := tr.Transform(rec, nil)
	assert.Equal(t, "AB-123", out.TargetData["parcel_number"])
	assert.Equal(t, "WA", out.TargetData["state"])
	assert.Equal(t, 1.5, out.TargetData["acreage"])
	assert.Equal(t, "n/a", out.TargetData["notes_field"])
}

func TestTransformer_MissingFieldNoDefaultOmitted(t *testing.T) {
	tr := NewTransformer([]domain.EntityMapping{propertyMapping()})
	rec := domain.SourceRecord{EntityType: domain.EntityProperty, SourceID: "p2", Payload: map[string]any{}}

	out := tr.Transform(rec, nil)
	_, hasParcel := out.TargetData["parcel_number"]
	assert.False(t, hasParcel)
	assert.Equal(t, "n/a", out.TargetData["notes_field"])
}

func TestTransformer_FailureKeepsPreTransformValueAndNotes(t *testing.T) {
	tr := NewTransformer([]domain.EntityMapping{propertyMapping()})
	rec := domain.SourceRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p3",
		Payload:    map[string]any{"acreage": "not-a-number"},
	}

	out := tr.Transform(rec, nil)
	assert.Equal(t, "not-a-number", out.TargetData["acreage"])
	require.NotEmpty(t, out.Notes)
}

func TestTransformer_ParentRefResolvesThroughMap(t *testing.T) {
	tr := NewTransformer([]domain.EntityMapping{ownerMapping()})
	rec := domain.SourceRecord{
		EntityType: domain.EntityOwner,
		SourceID:   "o1",
		Payload:    map[string]any{"property_id": "p1", "name": "Jane"},
	}

	out := tr.Transform(rec, map[string]string{"p1": "target-p1"})
	assert.Equal(t, "target-p1", out.TargetData["property_id"])
	assert.Equal(t, "Jane", out.TargetData["name"])
}

func TestTransformer_ParentRefUnresolvedDropsFieldWithNote(t *testing.T) {
	tr := NewTransformer([]domain.EntityMapping{ownerMapping()})
	rec := domain.SourceRecord{
		EntityType: domain.EntityOwner,
		SourceID:   "o2",
		Payload:    map[string]any{"property_id": "unknown", "name": "Jane"},
	}

	out := tr.Transform(rec, map[string]string{})
	_, has := out.TargetData["property_id"]
	assert.False(t, has)
	require.NotEmpty(t, out.Notes)
}

func TestTransformer_UnknownTransformSkippedWithNote(t *testing.T) {
	mapping := domain.EntityMapping{
		EntityType: domain.EntityProperty,
		Fields: []domain.FieldMapping{
			{SourceField: "x", TargetField: "x", Transforms: []domain.TransformSpec{{Name: "not_a_real_transform"}}},
		},
	}
	tr := NewTransformer([]domain.EntityMapping{mapping})
	rec := domain.SourceRecord{EntityType: domain.EntityProperty, SourceID: "p4", Payload: map[string]any{"x": "value"}}

	out := tr.Transform(rec, nil)
	assert.Equal(t, "value", out.TargetData["x"])
	require.NotEmpty(t, out.Notes)
}
