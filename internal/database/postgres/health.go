package postgres

import (
	"context"
	"time"
)

// checkHealth runs a cheap liveness probe against the pool and records the
// outcome in the pool's metrics. The periodic polling and alerting for this
// check lives in the resilience orchestrator, not here.
func (p *PostgresPool) checkHealth(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := p.pool.Query(checkCtx, "SELECT 1")
	if err != nil {
		p.metrics.RecordHealthCheck(false)
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		p.metrics.RecordHealthCheck(false)
		return ErrHealthCheckFailed
	}

	var result int
	if err := rows.Scan(&result); err != nil {
		p.metrics.RecordHealthCheck(false)
		return err
	}
	if result != 1 {
		p.metrics.RecordHealthCheck(false)
		return ErrHealthCheckFailed
	}

	p.metrics.RecordHealthCheck(true)
	return nil
}
