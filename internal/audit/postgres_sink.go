package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	dbpostgres "github.com/camasync/syncengine/internal/database/postgres"
	"github.com/camasync/syncengine/internal/domain"
)

// PostgresSink persists job_events and conflicts rows created by the
// migrations/ goose scripts. RecordJob is a log-only fallback: job rows
// themselves are owned and written by jobs.PostgresStore, not this sink,
// to avoid two writers racing on the same row.
type PostgresSink struct {
	pool   dbpostgres.DatabaseConnection
	logger *slog.Logger
}

// NewPostgresSink wraps an already-connected pool.
func NewPostgresSink(pool dbpostgres.DatabaseConnection, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{pool: pool, logger: logger}
}

func (s *PostgresSink) RecordJob(_ context.Context, job domain.Job) error {
	s.logger.Info("job audit", "job_id", job.JobID, "kind", job.Kind, "status", job.Status)
	return nil
}

func (s *PostgresSink) RecordEvent(ctx context.Context, jobID string, kind EventKind, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO job_events (job_id, kind, payload_json) VALUES ($1, $2, $3)`,
		jobID, string(kind), payloadJSON)
	return err
}

func (s *PostgresSink) RecordConflict(ctx context.Context, jobID string, conflict domain.Conflict) error {
	sourceJSON, err := json.Marshal(conflict.SourceValue)
	if err != nil {
		return err
	}
	targetJSON, err := json.Marshal(conflict.TargetValue)
	if err != nil {
		return err
	}
	resolvedJSON, err := json.Marshal(conflict.ResolvedValue)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conflicts (job_id, entity_type, source_id, field, source_value_json,
		                       target_value_json, strategy, resolved_value_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		jobID, string(conflict.EntityType), conflict.SourceID, conflict.Field,
		sourceJSON, targetJSON, string(conflict.Resolution), resolvedJSON)
	return err
}
