package conflict

import (
	"testing"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func propertyClassifier(_ domain.EntityType, field string) (FieldClass, bool) {
	switch field {
	case "address":
		return ClassAddress, true
	case "market_value", "land_value", "improvement_value":
		return ClassValuation, true
	case "features":
		return ClassStructural, true
	default:
		return "", false
	}
}

func TestResolver_ScenarioAddressSourceWinsMarketValueTargetWins(t *testing.T) {
	rules := []domain.ResolutionRule{
		{EntityType: domain.EntityProperty, Field: "address", DefaultStrategy: domain.ResolutionSourceWins},
		{EntityType: domain.EntityProperty, Field: "market_value", DefaultStrategy: domain.ResolutionTargetWins},
	}
	r := New(rules, propertyClassifier)

	target := map[string]any{"address": "456 Old St", "market_value": 150000.0}
	transformed := map[string]any{"address": "123 New St", "market_value": 100000.0}

	conflicts := r.Detect("p1", domain.EntityProperty, transformed, target)
	require.Len(t, conflicts, 2)

	merged, resolved := r.ResolveAll(conflicts, target)
	require.Len(t, resolved, 2)

	assert.Equal(t, "123 New St", merged["address"])
	assert.Equal(t, 150000.0, merged["market_value"])
}

func TestResolver_NoConflictWhenTargetFieldAbsentOrNull(t *testing.T) {
	r := New(nil, nil)
	conflicts := r.Detect("p1", domain.EntityProperty, map[string]any{"address": "123 New St"}, map[string]any{"address": nil})
	assert.Empty(t, conflicts)

	conflicts = r.Detect("p1", domain.EntityProperty, map[string]any{"address": "123 New St"}, map[string]any{})
	assert.Empty(t, conflicts)
}

func TestResolver_NoConflictWhenValuesEqual(t *testing.T) {
	r := New(nil, nil)
	conflicts := r.Detect("p1", domain.EntityProperty, map[string]any{"address": "same"}, map[string]any{"address": "same"})
	assert.Empty(t, conflicts)
}

func TestResolver_DefaultAppliesWhenOverridePredicateDoesNotHold(t *testing.T) {
	rules := []domain.ResolutionRule{
		{
			EntityType:      domain.EntityProperty,
			Field:           "acreage",
			DefaultStrategy: domain.ResolutionTargetWins,
			Overrides: []domain.ResolutionOverride{
				{Predicate: domain.PredicateTargetValueIsNull, Strategy: domain.ResolutionSourceWins},
			},
		},
	}
	r := New(rules, nil)

	c := domain.Conflict{EntityType: domain.EntityProperty, Field: "acreage", SourceValue: 2.5, TargetValue: 1.0}
	resolved := r.Resolve(c)
	assert.Equal(t, domain.ResolutionTargetWins, resolved.Resolution)
	assert.Equal(t, 1.0, resolved.ResolvedValue)
}

func TestResolver_FieldClassDefaultsWhenNoRule(t *testing.T) {
	r := New(nil, propertyClassifier)

	addr := r.Resolve(domain.Conflict{Field: "address", SourceValue: "new", TargetValue: "old"})
	assert.Equal(t, domain.ResolutionSourceWins, addr.Resolution)
	assert.Equal(t, "new", addr.ResolvedValue)

	val := r.Resolve(domain.Conflict{Field: "market_value", SourceValue: 100.0, TargetValue: 150.0})
	assert.Equal(t, domain.ResolutionTargetWins, val.Resolution)
	assert.Equal(t, 150.0, val.ResolvedValue)
}

func TestResolver_FallbackSourceWinsWhenUnclassified(t *testing.T) {
	r := New(nil, nil)
	resolved := r.Resolve(domain.Conflict{Field: "unknown_field", SourceValue: "src", TargetValue: "tgt"})
	assert.Equal(t, domain.ResolutionSourceWins, resolved.Resolution)
	assert.Equal(t, "src", resolved.ResolvedValue)
}

func TestResolver_MergeNumericTakesMean(t *testing.T) {
	rules := []domain.ResolutionRule{
		{EntityType: domain.EntityProperty, Field: "acreage", DefaultStrategy: domain.ResolutionMerge},
	}
	r := New(rules, nil)
	resolved := r.Resolve(domain.Conflict{EntityType: domain.EntityProperty, Field: "acreage", SourceValue: 2.0, TargetValue: 4.0})
	assert.Equal(t, 3.0, resolved.ResolvedValue)
}

func TestResolver_MergeListUnionPreservesTargetOrderThenAppendsSourceExtras(t *testing.T) {
	r := New([]domain.ResolutionRule{
		{EntityType: domain.EntityProperty, Field: "features", DefaultStrategy: domain.ResolutionMerge},
	}, nil)

	target := []any{"garage", "pool"}
	source := []any{"pool", "deck"}
	resolved := r.Resolve(domain.Conflict{EntityType: domain.EntityProperty, Field: "features", SourceValue: source, TargetValue: target})

	assert.Equal(t, []any{"garage", "pool", "deck"}, resolved.ResolvedValue)
}

func TestResolver_MergeMapShallowMergeSourceOverridesPerKey(t *testing.T) {
	r := New([]domain.ResolutionRule{
		{EntityType: domain.EntityProperty, Field: "extended_attributes", DefaultStrategy: domain.ResolutionMerge},
	}, nil)

	target := map[string]any{"zoning": "R1", "pool": false}
	source := map[string]any{"pool": true, "solar": true}
	resolved := r.Resolve(domain.Conflict{EntityType: domain.EntityProperty, Field: "extended_attributes", SourceValue: source, TargetValue: target})

	assert.Equal(t, map[string]any{"zoning": "R1", "pool": true, "solar": true}, resolved.ResolvedValue)
}

func TestResolver_MergeFallsBackToSourceWinsForIncompatibleTypes(t *testing.T) {
	r := New([]domain.ResolutionRule{
		{EntityType: domain.EntityProperty, Field: "note", DefaultStrategy: domain.ResolutionMerge},
	}, nil)

	resolved := r.Resolve(domain.Conflict{EntityType: domain.EntityProperty, Field: "note", SourceValue: "new note", TargetValue: "old note"})
	assert.Equal(t, "new note", resolved.ResolvedValue)
}

func TestResolver_ManualLeavesTargetValueIntactAndDoesNotMergeField(t *testing.T) {
	r := New([]domain.ResolutionRule{
		{EntityType: domain.EntityProperty, Field: "owner_name", DefaultStrategy: domain.ResolutionManual},
	}, nil)

	target := map[string]any{"owner_name": "Jane Doe", "address": "123 New St"}
	conflicts := r.Detect("p1", domain.EntityProperty, map[string]any{"owner_name": "John Doe", "address": "123 New St"}, target)
	require.Len(t, conflicts, 1)

	merged, resolved := r.ResolveAll(conflicts, target)
	require.Len(t, resolved, 1)
	assert.Equal(t, domain.ResolutionManual, resolved[0].Resolution)
	assert.Equal(t, "Jane Doe", merged["owner_name"])
}
