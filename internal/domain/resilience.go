package domain

import "time"

// BreakerState is a circuit breaker's current position in its state machine.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerCounters tracks lifetime success/failure totals for a breaker,
// independent of the sliding consecutive-failure count driving transitions.
type BreakerCounters struct {
	TotalSuccess int64
	TotalFailure int64
}

// CircuitBreakerState is the observable snapshot of one named breaker.
type CircuitBreakerState struct {
	Name                string
	State               BreakerState
	ConsecutiveFailures int
	LastFailureAt       *time.Time
	HalfOpenSuccesses   int
	Counters            BreakerCounters
}

// HealthStatus is a monitored resource's current health classification.
type HealthStatus string

const (
	HealthHealthy    HealthStatus = "HEALTHY"
	HealthDegraded   HealthStatus = "DEGRADED"
	HealthFailing    HealthStatus = "FAILING"
	HealthRecovering HealthStatus = "RECOVERING"
)

// ResourceHealth is the observable snapshot of one health-monitored resource.
type ResourceHealth struct {
	ResourceID   string
	Status       HealthStatus
	LastCheckAt  time.Time
	Dependencies map[string]struct{}
}
