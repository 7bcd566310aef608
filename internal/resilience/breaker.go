// Package resilience implements the self-healing substrate: circuit
// breakers, retry strategies, and the orchestrator that composes them with
// a dependency-ordered health-monitoring loop.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/syncerr"
)

// BreakerConfig configures one named circuit breaker.
type BreakerConfig struct {
	FailureThreshold        int
	HalfOpenSuccessThreshold int
	ResetTimeout             time.Duration
}

// DefaultBreakerConfig returns reasonable breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:         5,
		HalfOpenSuccessThreshold: 1,
		ResetTimeout:             30 * time.Second,
	}
}

// OnOpen and OnClose are invoked on breaker state transitions. Panics inside
// a callback are recovered and logged by the breaker, never propagated.
type StateCallback func(name string)

// CircuitBreaker implements the CLOSED/OPEN/HALF_OPEN state machine: it
// opens after consecutive failures, probes after a reset timeout, and
// closes again after enough half-open successes.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu                  sync.Mutex
	state               domain.BreakerState
	consecutiveFailures int
	lastFailureAt       time.Time
	halfOpenSuccesses   int
	counters            domain.BreakerCounters

	onOpen  StateCallback
	onClose StateCallback
}

// NewCircuitBreaker creates a breaker named name, starting CLOSED.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  domain.BreakerClosed,
	}
}

// OnStateChange registers transition callbacks; either may be nil.
func (b *CircuitBreaker) OnStateChange(onOpen, onClose StateCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onOpen = onOpen
	b.onClose = onClose
}

// CanAttempt reports whether a call may proceed right now, transitioning
// OPEN -> HALF_OPEN if the reset timeout has elapsed.
func (b *CircuitBreaker) CanAttempt() (bool, *syncerr.CircuitOpen) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed, domain.BreakerHalfOpen:
		return true, nil
	case domain.BreakerOpen:
		resetAt := b.lastFailureAt.Add(b.config.ResetTimeout)
		if time.Now().Before(resetAt) {
			return false, &syncerr.CircuitOpen{Name: b.name, ResetAt: resetAt.Format(time.RFC3339)}
		}
		b.state = domain.BreakerHalfOpen
		b.halfOpenSuccesses = 0
		return true, nil
	default:
		return true, nil
	}
}

// RecordSuccess reports a successful call, possibly closing the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	b.counters.TotalSuccess++

	switch b.state {
	case domain.BreakerClosed:
		b.consecutiveFailures = 0
	case domain.BreakerHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.HalfOpenSuccessThreshold {
			b.state = domain.BreakerClosed
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			cb := b.onClose
			b.mu.Unlock()
			invokeCallback(cb, b.name)
			return
		}
	}
	b.mu.Unlock()
}

// RecordFailure reports a monitored failure, possibly opening the breaker.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	b.counters.TotalFailure++
	now := time.Now()

	switch b.state {
	case domain.BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.state = domain.BreakerOpen
			b.lastFailureAt = now
			cb := b.onOpen
			b.mu.Unlock()
			invokeCallback(cb, b.name)
			return
		}
	case domain.BreakerHalfOpen:
		b.state = domain.BreakerOpen
		b.lastFailureAt = now
		b.halfOpenSuccesses = 0
		cb := b.onOpen
		b.mu.Unlock()
		invokeCallback(cb, b.name)
		return
	}
	b.mu.Unlock()
}

func invokeCallback(cb StateCallback, name string) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("circuit breaker state callback panicked", "breaker", name, "panic", r)
		}
	}()
	cb(name)
}

// State returns a snapshot of the breaker's observable state.
func (b *CircuitBreaker) State() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lastFailure *time.Time
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		lastFailure = &t
	}

	return domain.CircuitBreakerState{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       lastFailure,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
		Counters:            b.counters,
	}
}

// Reset forces the breaker back to CLOSED, clearing the failure streak, the
// half-open probe count and the last failure time. The lifetime
// success/failure totals in Counters are kept.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.BreakerClosed
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
	b.lastFailureAt = time.Time{}
}

// Execute runs fn if the breaker allows it, recording the outcome.
// Non-monitored errors (anything not syncerr.IsRetryable) still count as
// failures here — the caller decides what's "monitored" by what it passes
// through Execute versus calling fn directly.
func (b *CircuitBreaker) Execute(fn func() error) error {
	ok, cbErr := b.CanAttempt()
	if !ok {
		return cbErr
	}

	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
