package changedetector

import (
	"context"
	"testing"
	"time"

	"github.com/camasync/syncengine/internal/adapter/memory"
	"github.com/camasync/syncengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_PageAllDrainsAllPagesAndStopsOnShortPage(t *testing.T) {
	src := memory.NewSource()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		src.Seed(domain.SourceRecord{
			EntityType:   domain.EntityProperty,
			SourceID:     string(rune('a' + i)),
			LastModified: base.Add(time.Duration(i) * time.Hour),
		})
	}

	d := New(src)
	var seen []string
	err := d.PageAll(context.Background(), "tenant1", domain.EntityProperty, base.Add(-time.Hour), 2, func(page []domain.SourceRecord) error {
		for _, r := range page {
			seen = append(seen, r.SourceID)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Len(t, seen, 5)
}

func TestDetector_GetRelatedEmptyParentIDsNeverErrors(t *testing.T) {
	src := memory.NewSource()
	d := New(src)

	related, err := d.GetRelated(context.Background(), "tenant1", domain.EntityProperty, nil, []domain.EntityType{domain.EntityOwner})
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestDetector_EmptyPageTerminatesImmediately(t *testing.T) {
	src := memory.NewSource()
	d := New(src)

	calls := 0
	err := d.PageAll(context.Background(), "tenant1", domain.EntityProperty, time.Time{}, 10, func([]domain.SourceRecord) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}
