package postgres_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	dbpostgres "github.com/camasync/syncengine/internal/database/postgres"
	"github.com/camasync/syncengine/internal/adapter/postgres"
	"github.com/camasync/syncengine/internal/domain"
)

// setupAdapter starts a real Postgres container and returns an Adapter
// connected to it, ready to be exercised as a CAMA TargetAdapter.
func setupAdapter(t *testing.T) *postgres.Adapter {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("cama_test"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := dbpostgres.DefaultConfig()
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.Database = "cama_test"
	cfg.User = "testuser"
	cfg.Password = "testpassword"

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	pool := dbpostgres.NewPostgresPool(cfg, logger)
	adapter := postgres.New(pool, logger)
	require.NoError(t, adapter.Connect(ctx))
	t.Cleanup(func() { _ = adapter.Disconnect(context.Background()) })
	return adapter
}

func TestAdapter_UpsertThenGet(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	rec := domain.TransformedRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p1",
		TargetData: map[string]any{"parcel_number": "ABC-123", "address": "100 Main St"},
	}

	targetID, created, err := a.Upsert(ctx, "tenant-1", rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, targetID)

	got, ok, err := a.Get(ctx, "tenant-1", domain.EntityProperty, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ABC-123", got["parcel_number"])
	assert.Equal(t, targetID, got["_target_id"])
}

func TestAdapter_UpsertIsIdempotentOnRedelivery(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	rec := domain.TransformedRecord{
		EntityType: domain.EntityProperty,
		SourceID:   "p1",
		TargetData: map[string]any{"parcel_number": "ABC-123"},
	}

	id1, created1, err := a.Upsert(ctx, "tenant-1", rec)
	require.NoError(t, err)
	assert.True(t, created1)

	rec.TargetData["parcel_number"] = "ABC-999"
	id2, created2, err := a.Upsert(ctx, "tenant-1", rec)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, id1, id2, "redelivery of the same source_id must reuse the existing target_id")

	got, ok, err := a.Get(ctx, "tenant-1", domain.EntityProperty, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ABC-999", got["parcel_number"])
}

func TestAdapter_LookupTargetIDs(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	id1, _, err := a.Upsert(ctx, "tenant-1", domain.TransformedRecord{EntityType: domain.EntityProperty, SourceID: "p1", TargetData: map[string]any{}})
	require.NoError(t, err)
	id2, _, err := a.Upsert(ctx, "tenant-1", domain.TransformedRecord{EntityType: domain.EntityProperty, SourceID: "p2", TargetData: map[string]any{}})
	require.NoError(t, err)

	ids, err := a.LookupTargetIDs(ctx, "tenant-1", domain.EntityProperty, []string{"p1", "p2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, id1, ids["p1"])
	assert.Equal(t, id2, ids["p2"])
	_, found := ids["missing"]
	assert.False(t, found)
}

func TestAdapter_Delete(t *testing.T) {
	a := setupAdapter(t)
	ctx := context.Background()

	targetID, _, err := a.Upsert(ctx, "tenant-1", domain.TransformedRecord{EntityType: domain.EntityProperty, SourceID: "p1", TargetData: map[string]any{}})
	require.NoError(t, err)

	removed, err := a.Delete(ctx, "tenant-1", domain.EntityProperty, targetID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := a.Get(ctx, "tenant-1", domain.EntityProperty, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	removedAgain, err := a.Delete(ctx, "tenant-1", domain.EntityProperty, targetID)
	require.NoError(t, err)
	assert.False(t, removedAgain)
}

func TestAdapter_Healthy(t *testing.T) {
	a := setupAdapter(t)
	assert.NoError(t, a.Healthy(context.Background()))
}
