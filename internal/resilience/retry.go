package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	sharedmetrics "github.com/camasync/syncengine/pkg/metrics"

	"github.com/camasync/syncengine/internal/syncerr"
)

// RetryStrategyKind names one of the supported backoff shapes.
type RetryStrategyKind string

const (
	RetryFixed                 RetryStrategyKind = "fixed"
	RetryLinear                RetryStrategyKind = "linear"
	RetryExponential           RetryStrategyKind = "exponential"
	RetryExponentialWithJitter RetryStrategyKind = "exponential_jitter"
)

// RetryConfig parameterizes a RetryStrategy.
type RetryConfig struct {
	Kind          RetryStrategyKind
	InitialWait   time.Duration
	Increment     time.Duration // used by Linear
	Base          float64       // used by Exponential/ExponentialWithJitter
	MaxWait       time.Duration
	MaxRetries    int
	MaxRetryTime  time.Duration
	JitterFactor  float64 // clamped to [0,1]
}

// DefaultRetryConfig returns a conservative exponential-with-jitter policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Kind:         RetryExponentialWithJitter,
		InitialWait:  100 * time.Millisecond,
		Base:         2,
		MaxWait:      30 * time.Second,
		MaxRetries:   3,
		MaxRetryTime: 60 * time.Second,
		JitterFactor: 0.2,
	}
}

// OnRetryFunc is invoked between attempts; panics are recovered and ignored.
type OnRetryFunc func(attempt int, err error, wait time.Duration)

// RetryStrategy bounds re-execution of a fallible operation by attempt
// count and wall-clock budget, sleeping according to its configured shape
// between attempts.
type RetryStrategy struct {
	name    string
	config  RetryConfig
	onRetry OnRetryFunc
	metrics *sharedmetrics.RetryMetrics
}

// NewRetryStrategy creates a named retry strategy.
func NewRetryStrategy(name string, config RetryConfig) *RetryStrategy {
	if config.JitterFactor < 0 {
		config.JitterFactor = 0
	}
	if config.JitterFactor > 1 {
		config.JitterFactor = 1
	}
	return &RetryStrategy{name: name, config: config}
}

func (r *RetryStrategy) OnRetry(fn OnRetryFunc) { r.onRetry = fn }

// SetMetrics attaches a shared RetryMetrics recorder; nil disables
// recording. Safe to call once at registration time, before Execute runs
// concurrently.
func (r *RetryStrategy) SetMetrics(m *sharedmetrics.RetryMetrics) { r.metrics = m }

// waitTime computes the sleep duration before the given attempt number
// (1-indexed: the wait before retry attempt `attempt`).
func (r *RetryStrategy) waitTime(attempt int) time.Duration {
	c := r.config
	var wait time.Duration

	switch c.Kind {
	case RetryFixed:
		wait = c.InitialWait
	case RetryLinear:
		wait = c.InitialWait + time.Duration(attempt-1)*c.Increment
	case RetryExponential, RetryExponentialWithJitter:
		base := c.Base
		if base <= 0 {
			base = 2
		}
		raw := float64(c.InitialWait) * math.Pow(base, float64(attempt-1))
		wait = time.Duration(raw)
		if c.MaxWait > 0 && wait > c.MaxWait {
			wait = c.MaxWait
		}
		if c.Kind == RetryExponentialWithJitter {
			j := float64(wait) * c.JitterFactor
			jitter := (rand.Float64() - 0.5) * j // uniform in [-j/2, +j/2]
			wait = time.Duration(float64(wait) + jitter)
		}
	default:
		wait = c.InitialWait
	}

	if c.MaxWait > 0 && wait > c.MaxWait {
		wait = c.MaxWait
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// Execute runs fn, retrying on syncerr.IsRetryable errors up to MaxRetries
// additional times (so at most MaxRetries+1 invocations), bounded by
// MaxRetryTime total sleep. Non-retryable errors propagate immediately.
func (r *RetryStrategy) Execute(ctx context.Context, fn func() error) error {
	start := time.Now()
	var lastErr error
	var totalSleep time.Duration
	attempts := 0

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		attempts++
		lastErr = fn()
		if lastErr == nil {
			r.recordOutcome("success", attempts, start)
			return nil
		}
		if !syncerr.IsRetryable(lastErr) {
			r.recordOutcome("failure", attempts, start)
			return lastErr
		}
		if attempt == r.config.MaxRetries {
			break
		}

		wait := r.waitTime(attempt + 1)
		if r.config.MaxRetryTime > 0 && totalSleep+wait > r.config.MaxRetryTime {
			break
		}

		if err := sleepWithContext(ctx, wait); err != nil {
			r.recordOutcome("cancelled", attempts, start)
			return err
		}
		totalSleep += wait
		if r.metrics != nil {
			r.metrics.RecordBackoff(r.name, wait.Seconds())
		}

		if r.onRetry != nil {
			invokeOnRetry(r.onRetry, attempt+1, lastErr, wait)
		}
	}

	r.recordOutcome("failure", attempts, start)
	return lastErr
}

func (r *RetryStrategy) recordOutcome(outcome string, attempts int, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordAttempt(r.name, outcome, "", time.Since(start).Seconds())
	r.metrics.RecordFinalAttempt(r.name, outcome, attempts)
}

func invokeOnRetry(fn OnRetryFunc, attempt int, err error, wait time.Duration) {
	defer func() { recover() }()
	fn(attempt, err, wait)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
