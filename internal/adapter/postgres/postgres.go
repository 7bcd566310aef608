// Package postgres implements adapter.TargetAdapter over the CAMA system of
// record, built on the database/postgres connection pool. Target rows are
// stored generically as
// JSONB keyed by (tenant_id, entity_type, source_id): the catalog-driven
// field mapping, not a fixed column set, is the source of truth for what a
// record contains, so the table mirrors that shape rather than modeling
// one column per CAMA field.
package postgres

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	dbpostgres "github.com/camasync/syncengine/internal/database/postgres"
	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/syncerr"
)

// Adapter implements adapter.TargetAdapter over a CAMA Postgres database.
type Adapter struct {
	pool   *dbpostgres.PostgresPool
	logger *slog.Logger
}

// New wraps an already-constructed connection pool. Connect/Disconnect
// delegate to it so the orchestrator's Lifecycle calls manage the same
// pool a caller may also use directly for migrations.
func New(pool *dbpostgres.PostgresPool, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{pool: pool, logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS cama_records (
    tenant_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    target_data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, entity_type, source_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_cama_records_target_id ON cama_records(tenant_id, entity_type, target_id);
`

// Connect opens the pool and ensures the target schema exists.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.pool.Connect(ctx); err != nil {
		return syncerr.Wrap(syncerr.RemoteUnavailable, "postgres.Connect", "failed to connect to cama database", err)
	}
	if _, err := a.pool.Exec(ctx, schema); err != nil {
		return syncerr.Wrap(syncerr.Internal, "postgres.Connect", "failed to initialize cama schema", err)
	}
	return nil
}

// Disconnect closes the pool.
func (a *Adapter) Disconnect(ctx context.Context) error {
	return a.pool.Disconnect(ctx)
}

// Healthy runs the pool's health check.
func (a *Adapter) Healthy(ctx context.Context) error {
	if err := a.pool.Health(ctx); err != nil {
		return syncerr.Wrap(syncerr.RemoteUnavailable, "postgres.Healthy", "cama health check failed", err)
	}
	return nil
}

// Get returns the existing target record for source_id, if any.
func (a *Adapter) Get(ctx context.Context, tenantID string, entityType domain.EntityType, sourceID string) (map[string]any, bool, error) {
	row := a.pool.QueryRow(ctx,
		"SELECT target_id, target_data FROM cama_records WHERE tenant_id = $1 AND entity_type = $2 AND source_id = $3",
		tenantID, string(entityType), sourceID,
	)

	var targetID string
	var raw []byte
	if err := row.Scan(&targetID, &raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, syncerr.Wrap(syncerr.Transient, "postgres.Get", "select failed", err)
	}

	data, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	data["_target_id"] = targetID
	return data, true, nil
}

// LookupTargetIDs resolves a batch of source_ids to existing target_ids.
func (a *Adapter) LookupTargetIDs(ctx context.Context, tenantID string, entityType domain.EntityType, sourceIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(sourceIDs))
	if len(sourceIDs) == 0 {
		return out, nil
	}

	rows, err := a.pool.Query(ctx,
		"SELECT source_id, target_id FROM cama_records WHERE tenant_id = $1 AND entity_type = $2 AND source_id = ANY($3)",
		tenantID, string(entityType), sourceIDs,
	)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.Transient, "postgres.LookupTargetIDs", "select failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceID, targetID string
		if err := rows.Scan(&sourceID, &targetID); err != nil {
			return nil, syncerr.Wrap(syncerr.Internal, "postgres.LookupTargetIDs", "row scan failed", err)
		}
		out[sourceID] = targetID
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Wrap(syncerr.Transient, "postgres.LookupTargetIDs", "row iteration failed", err)
	}
	return out, nil
}

// Upsert writes rec, assigning a new target_id on first insert. Idempotent
// on redelivery of the same source_id: the existing target_id is reused
// and the row's JSONB payload is overwritten, never appended.
func (a *Adapter) Upsert(ctx context.Context, tenantID string, rec domain.TransformedRecord) (string, bool, error) {
	targetID := rec.TargetID
	if targetID == "" {
		existing, err := a.LookupTargetIDs(ctx, tenantID, rec.EntityType, []string{rec.SourceID})
		if err != nil {
			return "", false, err
		}
		if id, ok := existing[rec.SourceID]; ok {
			targetID = id
		}
	}

	created := targetID == ""
	if created {
		targetID = uuid.NewString()
	}

	raw, err := json.Marshal(rec.TargetData)
	if err != nil {
		return "", false, syncerr.Wrap(syncerr.Internal, "postgres.Upsert", "failed to marshal target data", err)
	}

	_, err = a.pool.Exec(ctx, `
INSERT INTO cama_records (tenant_id, entity_type, source_id, target_id, target_data)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, entity_type, source_id) DO UPDATE SET
    target_data = excluded.target_data,
    updated_at = now()
`, tenantID, string(rec.EntityType), rec.SourceID, targetID, raw)
	if err != nil {
		return "", false, syncerr.Wrap(syncerr.Transient, "postgres.Upsert", "upsert failed", err)
	}

	return targetID, created, nil
}

// Delete removes the target record identified by targetID.
func (a *Adapter) Delete(ctx context.Context, tenantID string, entityType domain.EntityType, targetID string) (bool, error) {
	tag, err := a.pool.Exec(ctx,
		"DELETE FROM cama_records WHERE tenant_id = $1 AND entity_type = $2 AND target_id = $3",
		tenantID, string(entityType), targetID,
	)
	if err != nil {
		return false, syncerr.Wrap(syncerr.Transient, "postgres.Delete", "delete failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

func decode(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, syncerr.Wrap(syncerr.Internal, "postgres.decode", "failed to unmarshal target data", err)
	}
	return data, nil
}
