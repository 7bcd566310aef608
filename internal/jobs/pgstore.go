package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camasync/syncengine/internal/domain"
	dbpostgres "github.com/camasync/syncengine/internal/database/postgres"
)

// PostgresStore persists Job rows in the `jobs` table created by the
// migrations/ goose scripts, using conditional UPDATE ... WHERE status =
// $expected for CompareAndSwapStatus so a completing worker and the
// stale-job sweeper can never both win.
type PostgresStore struct {
	pool dbpostgres.DatabaseConnection
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool dbpostgres.DatabaseConnection) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(job domain.Job) error {
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return err
	}
	ctx := context.Background()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, kind, tenant_id, status, created_at, params_json)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.JobID, string(job.Kind), job.TenantID, string(job.Status), job.CreatedAt, paramsJSON)
	return err
}

func (s *PostgresStore) Get(jobID string) (domain.Job, bool) {
	ctx := context.Background()
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, kind, tenant_id, status, created_at, started_at, completed_at,
		       params_json, result_summary_json, error
		FROM jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return domain.Job{}, false
	}
	return job, true
}

func (s *PostgresStore) Update(job domain.Job) error {
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return err
	}
	resultJSON, err := json.Marshal(job.ResultSummary)
	if err != nil {
		return err
	}
	ctx := context.Background()
	_, err = s.pool.Exec(ctx, `
		UPDATE jobs SET status=$2, started_at=$3, completed_at=$4, params_json=$5,
		                result_summary_json=$6, error=$7
		WHERE job_id=$1`,
		job.JobID, string(job.Status), job.StartedAt, job.CompletedAt,
		paramsJSON, resultJSON, job.Error)
	return err
}

// CompareAndSwapStatus loads the current row, applies mutate in-process,
// then writes it back with an UPDATE guarded by `WHERE status = expected`;
// zero rows affected means someone else already moved the job on.
func (s *PostgresStore) CompareAndSwapStatus(jobID string, expected domain.JobStatus, mutate func(*domain.Job)) (bool, error) {
	job, ok := s.Get(jobID)
	if !ok || job.Status != expected {
		return false, nil
	}
	mutate(&job)

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return false, err
	}
	resultJSON, err := json.Marshal(job.ResultSummary)
	if err != nil {
		return false, err
	}

	ctx := context.Background()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status=$3, started_at=$4, completed_at=$5, params_json=$6,
		                result_summary_json=$7, error=$8
		WHERE job_id=$1 AND status=$2`,
		jobID, string(expected), string(job.Status), job.StartedAt, job.CompletedAt,
		paramsJSON, resultJSON, job.Error)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListRunningOlderThan(cutoff time.Time) ([]domain.Job, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, kind, tenant_id, status, created_at, started_at, completed_at,
		       params_json, result_summary_json, error
		FROM jobs WHERE status = $1 AND started_at < $2`,
		string(domain.JobStatusRunning), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// rowScanner abstracts over pgx.Row and pgx.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var kind, status string
	var paramsJSON, resultJSON []byte
	if err := row.Scan(&job.JobID, &kind, &job.TenantID, &status, &job.CreatedAt,
		&job.StartedAt, &job.CompletedAt, &paramsJSON, &resultJSON, &job.Error); err != nil {
		return domain.Job{}, err
	}
	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	if len(paramsJSON) > 0 {
		_ = json.Unmarshal(paramsJSON, &job.Params)
	}
	if len(resultJSON) > 0 {
		_ = json.Unmarshal(resultJSON, &job.ResultSummary)
	}
	return job, nil
}

// PostgresWatermarkStore persists the per-(tenant, entity_type) cutoff in
// the `watermarks` table via upsert.
type PostgresWatermarkStore struct {
	pool dbpostgres.DatabaseConnection
}

// NewPostgresWatermarkStore wraps an already-connected pool.
func NewPostgresWatermarkStore(pool dbpostgres.DatabaseConnection) *PostgresWatermarkStore {
	return &PostgresWatermarkStore{pool: pool}
}

func (s *PostgresWatermarkStore) Get(tenantID string, entityType domain.EntityType) (time.Time, bool, error) {
	ctx := context.Background()
	row := s.pool.QueryRow(ctx,
		`SELECT last_cutoff_ts FROM watermarks WHERE tenant_id=$1 AND entity_type=$2`,
		tenantID, string(entityType))
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

func (s *PostgresWatermarkStore) Set(tenantID string, entityType domain.EntityType, cutoff time.Time) error {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watermarks (tenant_id, entity_type, last_cutoff_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, entity_type) DO UPDATE SET last_cutoff_ts = EXCLUDED.last_cutoff_ts`,
		tenantID, string(entityType), cutoff)
	return err
}
