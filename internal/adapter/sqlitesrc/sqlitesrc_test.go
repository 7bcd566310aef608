package sqlitesrc_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camasync/syncengine/internal/adapter/sqlitesrc"
	"github.com/camasync/syncengine/internal/domain"
)

func newTestAdapter(t *testing.T) *sqlitesrc.Adapter {
	t.Helper()
	dbPath := t.TempDir() + "/pacs.db"
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	a := sqlitesrc.New(sqlitesrc.Config{Path: dbPath}, logger)
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })
	return a
}

func seedProperty(t *testing.T, a *sqlitesrc.Adapter, tenantID, sourceID, parcelNo string, modified time.Time) {
	t.Helper()
	require.NoError(t, execSQL(a,
		"INSERT INTO property (tenant_id, source_id, parcel_no, addr, st, acreage, year_built, last_modified) VALUES (?,?,?,?,?,?,?,?)",
		tenantID, sourceID, parcelNo, "100 Main St", "CA", 1.5, 1990, modified.UnixMilli(),
	))
}

func seedOwner(t *testing.T, a *sqlitesrc.Adapter, tenantID, sourceID, propertyID string, modified time.Time) {
	t.Helper()
	require.NoError(t, execSQL(a,
		"INSERT INTO owner (tenant_id, source_id, property_id, owner_name, ownership_pct, last_modified) VALUES (?,?,?,?,?,?)",
		tenantID, sourceID, propertyID, "Jane Doe", 100.0, modified.UnixMilli(),
	))
}

// execSQL reaches into the adapter's underlying sqlite connection through
// its exported Healthy-gated lifecycle only; tests use DB() for direct
// seeding since there is no SourceAdapter write path (PACS is read-only).
func execSQL(a *sqlitesrc.Adapter, query string, args ...any) error {
	_, err := a.DB().ExecContext(context.Background(), query, args...)
	return err
}

func TestAdapter_GetChanged_OrdersAndPages(t *testing.T) {
	a := newTestAdapter(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedProperty(t, a, "tenant-1", "p1", "A-1", base)
	seedProperty(t, a, "tenant-1", "p2", "A-2", base.Add(time.Hour))
	seedProperty(t, a, "tenant-1", "p3", "A-3", base.Add(2*time.Hour))

	records, total, err := a.GetChanged(context.Background(), "tenant-1", domain.EntityProperty, time.Time{}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, records, 2)
	assert.Equal(t, "p3", records[0].SourceID, "newest first")
	assert.Equal(t, "p2", records[1].SourceID)

	page2, _, err := a.GetChanged(context.Background(), "tenant-1", domain.EntityProperty, time.Time{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "p1", page2[0].SourceID)
}

func TestAdapter_GetChanged_ExcludesEqualSince(t *testing.T) {
	a := newTestAdapter(t)
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedProperty(t, a, "tenant-1", "p1", "A-1", cutoff)

	records, total, err := a.GetChanged(context.Background(), "tenant-1", domain.EntityProperty, cutoff, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, records)
}

func TestAdapter_GetChanged_TenantIsolation(t *testing.T) {
	a := newTestAdapter(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedProperty(t, a, "tenant-1", "p1", "A-1", now)
	seedProperty(t, a, "tenant-2", "p2", "B-1", now)

	records, total, err := a.GetChanged(context.Background(), "tenant-1", domain.EntityProperty, time.Time{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].SourceID)
}

func TestAdapter_GetRelated(t *testing.T) {
	a := newTestAdapter(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedProperty(t, a, "tenant-1", "p1", "A-1", now)
	seedOwner(t, a, "tenant-1", "o1", "p1", now)
	seedOwner(t, a, "tenant-1", "o2", "p-other", now)

	related, err := a.GetRelated(context.Background(), "tenant-1", domain.EntityProperty, []string{"p1"}, []domain.EntityType{domain.EntityOwner})
	require.NoError(t, err)
	require.Len(t, related[domain.EntityOwner], 1)
	assert.Equal(t, "o1", related[domain.EntityOwner][0].SourceID)
}

func TestAdapter_GetRelated_EmptyParentIDsNeverErrors(t *testing.T) {
	a := newTestAdapter(t)
	related, err := a.GetRelated(context.Background(), "tenant-1", domain.EntityProperty, nil, []domain.EntityType{domain.EntityOwner})
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestAdapter_GetCount(t *testing.T) {
	a := newTestAdapter(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedProperty(t, a, "tenant-1", "p1", "A-1", now)
	seedProperty(t, a, "tenant-1", "p2", "A-2", now)

	count, err := a.GetCount(context.Background(), "tenant-1", domain.EntityProperty)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAdapter_Healthy(t *testing.T) {
	a := newTestAdapter(t)
	assert.NoError(t, a.Healthy(context.Background()))
}
