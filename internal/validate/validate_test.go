package validate

import (
	"testing"
	"time"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestValidator_PropertyHealthyRecordPasses(t *testing.T) {
	v := New(fixedNow)
	rec := domain.TransformedRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p1",
		TargetData: map[string]any{
			"parcel_number": "AB-123",
			"address":       "123 Main St",
			"state":         "WA",
			"acreage":       1.5,
			"year_built":    1990,
		},
	}

	result := v.Validate(rec, nil)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
}

func TestValidator_PropertyRejectsAllRuleViolations(t *testing.T) {
	v := New(fixedNow)
	rec := domain.TransformedRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p2",
		TargetData: map[string]any{
			"parcel_number": "AB$123!",
			"state":         "WASHINGTON",
			"year_built":    3000,
		},
	}

	result := v.Validate(rec, nil)
	require.False(t, result.IsValid)
	codes := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, "PARCEL_FORMAT")
	assert.Contains(t, codes, "STATE_LENGTH")
	assert.Contains(t, codes, "YEAR_OUT_OF_RANGE")
}

func TestValidator_ForeignRefRequired(t *testing.T) {
	v := New(fixedNow)
	rec := domain.TransformedRecord{
		EntityType: domain.EntityOwner,
		SourceID:   "o1",
		TargetData: map[string]any{"name": "Jane"},
	}

	result := v.Validate(rec, map[string]struct{}{})
	require.False(t, result.IsValid)
	assert.Equal(t, "REF_MISSING", result.Errors[0].Code)
}

func TestValidator_ForeignRefResolvesWithinBatch(t *testing.T) {
	v := New(fixedNow)
	rec := domain.TransformedRecord{
		EntityType: domain.EntityOwner,
		SourceID:   "o2",
		TargetData: map[string]any{"property_id": "p1", "name": "Jane"},
	}

	result := v.Validate(rec, map[string]struct{}{"p1": {}})
	assert.True(t, result.IsValid)
}

func TestValidator_ValueConsistency(t *testing.T) {
	v := New(fixedNow)
	valid := map[string]struct{}{"p1": {}}

	ok := domain.TransformedRecord{
		EntityType: domain.EntityValue,
		SourceID:   "v1",
		TargetData: map[string]any{"property_id": "p1", "land_value": 50000.0, "improvement_value": 100000.0, "market_value": 150000.0},
	}
	assert.True(t, v.Validate(ok, valid).IsValid)

	mismatched := domain.TransformedRecord{
		EntityType: domain.EntityValue,
		SourceID:   "v2",
		TargetData: map[string]any{"property_id": "p1", "land_value": 50000.0, "improvement_value": 100000.0, "market_value": 999999.0},
	}
	result := v.Validate(mismatched, valid)
	require.False(t, result.IsValid)
	assert.Equal(t, "VALUE_MISMATCH", result.Errors[0].Code)
}

func TestValidator_IsOrderIndependent(t *testing.T) {
	v := New(fixedNow)
	rec := domain.TransformedRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p3",
		TargetData: map[string]any{"parcel_number": "BAD$", "state": "TOOLONG"},
	}

	first := v.Validate(rec, nil)
	second := v.Validate(rec, nil)
	assert.Equal(t, first, second)
}

func TestValidator_BatchValidatePartitions(t *testing.T) {
	v := New(fixedNow)
	records := []domain.TransformedRecord{
		{EntityType: domain.EntityProperty, SourceID: "p1", TargetData: map[string]any{"parcel_number": "AB-1", "state": "WA"}},
		{EntityType: domain.EntityProperty, SourceID: "p2", TargetData: map[string]any{"parcel_number": "bad$", "state": "WA"}},
	}

	valid, invalid := v.BatchValidate(records, nil)
	assert.Len(t, valid, 1)
	assert.Len(t, invalid, 1)
}
