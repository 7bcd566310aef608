package heal

import (
	"testing"
	"time"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestSelfHealer_FullScenario(t *testing.T) {
	v := validate.New(fixedNow)
	h := New(v, fixedNow)

	rec := domain.TransformedRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p1",
		TargetData: map[string]any{
			"parcel_number": "AB$123!",
			"address":       "123 Main St",
			"state":         "WASHINGTON",
			"year_built":    3000,
		},
	}

	result := v.Validate(rec, nil)
	require.False(t, result.IsValid)

	healed, revalidated, actions := h.HealAndRevalidate(rec, result, nil)
	assert.True(t, revalidated.IsValid)
	assert.Equal(t, "AB123", healed.TargetData["parcel_number"])
	assert.Equal(t, "WA", healed.TargetData["state"])
	assert.Equal(t, 2026, healed.TargetData["year_built"])
	assert.Len(t, actions, 3)
}

func TestSelfHealer_IsFixpoint(t *testing.T) {
	v := validate.New(fixedNow)
	h := New(v, fixedNow)

	rec := domain.TransformedRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p2",
		TargetData: map[string]any{"parcel_number": "bad!", "state": "TOOLONG"},
	}

	result := v.Validate(rec, nil)
	once, onceResult, _ := h.HealAndRevalidate(rec, result, nil)
	twice, twiceResult, secondActions := h.HealAndRevalidate(once, onceResult, nil)

	assert.Equal(t, once.TargetData, twice.TargetData)
	assert.Equal(t, onceResult, twiceResult)
	if onceResult.IsValid {
		assert.Empty(t, secondActions)
	}
}

func TestSelfHealer_UnfixableEmptyParcel(t *testing.T) {
	v := validate.New(fixedNow)
	h := New(v, fixedNow)

	rec := domain.TransformedRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p3",
		TargetData: map[string]any{"parcel_number": "$$$"},
	}

	result := v.Validate(rec, nil)
	_, revalidated, _ := h.HealAndRevalidate(rec, result, nil)
	assert.False(t, revalidated.IsValid)
}
