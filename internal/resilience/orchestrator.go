package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/camasync/syncengine/internal/domain"
)

// HealthCheckFunc probes a resource's health; a non-nil error counts as a
// failed check for that resource's health-state tracking.
type HealthCheckFunc func(ctx context.Context) error

// RecoveryFunc attempts to restore a FAILING resource to health.
type RecoveryFunc func(ctx context.Context) error

type healthCheckEntry struct {
	resourceID        string
	check             HealthCheckFunc
	interval          time.Duration
	failureThreshold  int
	recoveryThreshold int
	dependsOn         []string
	breakerName       string
	retryName         string

	mu             sync.Mutex
	status         domain.HealthStatus
	lastCheckAt    time.Time
	failureStreak  int
	successStreak  int
	lastRecoverAt  time.Time
}

type recoveryEntry struct {
	resourceID string
	recover    RecoveryFunc
	cooldown   time.Duration
}

// Orchestrator is the registry + execution facade composing breakers,
// retries, health checks, and recovery actions.
type Orchestrator struct {
	logger *slog.Logger

	mu         sync.Mutex
	breakers   map[string]*CircuitBreaker
	retries    map[string]*RetryStrategy
	limiters   map[string]*rate.Limiter
	healthByID map[string]*healthCheckEntry
	recovery   map[string]*recoveryEntry

	tickerCancel context.CancelFunc
	loopWg       sync.WaitGroup
}

// NewOrchestrator creates an empty orchestrator.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:     logger,
		breakers:   make(map[string]*CircuitBreaker),
		retries:    make(map[string]*RetryStrategy),
		limiters:   make(map[string]*rate.Limiter),
		healthByID: make(map[string]*healthCheckEntry),
		recovery:   make(map[string]*recoveryEntry),
	}
}

// RegisterRateLimiter registers a named token-bucket rate limiter guarding
// calls ahead of their circuit breaker, e.g. to cap outbound PACS/CAMA
// request rate regardless of breaker state. ratePerSecond <= 0 means
// unlimited (no limiter registered).
func (o *Orchestrator) RegisterRateLimiter(name string, ratePerSecond float64, burst int) {
	if ratePerSecond <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.limiters[name] = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}

// RegisterBreaker registers a named circuit breaker.
func (o *Orchestrator) RegisterBreaker(name string, config BreakerConfig) *CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	b := NewCircuitBreaker(name, config)
	o.breakers[name] = b
	return b
}

// RegisterRetry registers a named retry strategy.
func (o *Orchestrator) RegisterRetry(name string, config RetryConfig) *RetryStrategy {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := NewRetryStrategy(name, config)
	o.retries[name] = r
	return r
}

// RegisterHealthCheck registers a periodic health probe for resourceID.
// breakerName/retryName, if non-empty, wrap the check's own execution.
func (o *Orchestrator) RegisterHealthCheck(resourceID string, check HealthCheckFunc, interval time.Duration, failureThreshold, recoveryThreshold int, dependsOn []string, breakerName, retryName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.healthByID[resourceID] = &healthCheckEntry{
		resourceID:        resourceID,
		check:             check,
		interval:          interval,
		failureThreshold:  failureThreshold,
		recoveryThreshold: recoveryThreshold,
		dependsOn:         dependsOn,
		breakerName:       breakerName,
		retryName:         retryName,
		status:            domain.HealthHealthy,
	}
}

// RegisterRecovery registers a recovery action invoked when resourceID
// enters FAILING, debounced by cooldown.
func (o *Orchestrator) RegisterRecovery(resourceID string, recover RecoveryFunc, cooldown time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recovery[resourceID] = &recoveryEntry{resourceID: resourceID, recover: recover, cooldown: cooldown}
}

// ExecuteWithResilience runs fn under the named breaker and/or retry
// strategy. If both are given, retry wraps breaker — the breaker makes a
// fresh admission decision on every attempt, and a CircuitOpen rejection
// is never itself retried. If only one is given, only that one applies.
// If neither, fn runs directly.
func (o *Orchestrator) ExecuteWithResilience(ctx context.Context, breakerName, retryName string, fn func() error) error {
	o.mu.Lock()
	breaker := o.breakers[breakerName]
	retry := o.retries[retryName]
	limiter := o.limiters[breakerName]
	o.mu.Unlock()

	guarded := fn
	if breaker != nil {
		inner := guarded
		guarded = func() error {
			ok, cbErr := breaker.CanAttempt()
			if !ok {
				return cbErr
			}
			err := inner()
			if err != nil {
				breaker.RecordFailure()
				return err
			}
			breaker.RecordSuccess()
			return nil
		}
	}
	if limiter != nil {
		breakerGuarded := guarded
		guarded = func() error {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter wait: %w", err)
			}
			return breakerGuarded()
		}
	}

	if retry != nil {
		return retry.Execute(ctx, guarded)
	}
	return guarded()
}

// Breaker returns a registered breaker by name, if any.
func (o *Orchestrator) Breaker(name string) (*CircuitBreaker, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.breakers[name]
	return b, ok
}

// HealthSnapshot returns the current observable state of every registered
// resource.
func (o *Orchestrator) HealthSnapshot() []domain.ResourceHealth {
	o.mu.Lock()
	entries := make([]*healthCheckEntry, 0, len(o.healthByID))
	for _, e := range o.healthByID {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	out := make([]domain.ResourceHealth, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		deps := make(map[string]struct{}, len(e.dependsOn))
		for _, d := range e.dependsOn {
			deps[d] = struct{}{}
		}
		out = append(out, domain.ResourceHealth{
			ResourceID:   e.resourceID,
			Status:       e.status,
			LastCheckAt:  e.lastCheckAt,
			Dependencies: deps,
		})
		e.mu.Unlock()
	}
	return out
}

// StartHealthLoop launches the periodic health-monitoring worker, ticking
// every tick until StopHealthLoop is called or ctx is cancelled.
func (o *Orchestrator) StartHealthLoop(ctx context.Context, tick time.Duration) {
	loopCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.tickerCancel = cancel
	o.mu.Unlock()

	o.loopWg.Add(1)
	go func() {
		defer o.loopWg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				o.runHealthTick(loopCtx)
			}
		}
	}()
}

// StopHealthLoop stops the health loop and waits for the in-flight tick,
// if any, to finish.
func (o *Orchestrator) StopHealthLoop() {
	o.mu.Lock()
	cancel := o.tickerCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.loopWg.Wait()
}

// runHealthTick executes one iteration of the health loop: snapshot due
// resources, topologically order by dependency, run each check, and
// advance its health state machine.
func (o *Orchestrator) runHealthTick(ctx context.Context) {
	o.mu.Lock()
	due := make([]*healthCheckEntry, 0)
	now := time.Now()
	for _, e := range o.healthByID {
		e.mu.Lock()
		isDue := now.Sub(e.lastCheckAt) >= e.interval
		e.mu.Unlock()
		if isDue {
			due = append(due, e)
		}
	}
	o.mu.Unlock()

	ordered, cyclic := topoSort(due)
	for _, id := range cyclic {
		o.logger.Warn("health check dependency cycle detected, skipping for this tick", "resource_id", id)
	}

	for _, e := range ordered {
		o.runOneCheck(ctx, e)
	}
}

// topoSort orders entries so dependencies run before dependents, returning
// resources involved in a cycle separately so they can be skipped.
func topoSort(entries []*healthCheckEntry) (ordered []*healthCheckEntry, cyclic []string) {
	byID := make(map[string]*healthCheckEntry, len(entries))
	for _, e := range entries {
		byID[e.resourceID] = e
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(entries))
	var order []*healthCheckEntry
	var cycleIDs []string

	var visit func(id string) bool
	visit = func(id string) bool {
		e, ok := byID[id]
		if !ok {
			return true // dependency not due/registered this tick; ignore
		}
		switch color[id] {
		case black:
			return true
		case gray:
			cycleIDs = append(cycleIDs, id)
			return false
		}
		color[id] = gray
		for _, dep := range e.dependsOn {
			if !visit(dep) {
				return false
			}
		}
		color[id] = black
		order = append(order, e)
		return true
	}

	for _, e := range entries {
		if color[e.resourceID] == white {
			visit(e.resourceID)
		}
	}

	cycleSet := make(map[string]struct{}, len(cycleIDs))
	for _, id := range cycleIDs {
		cycleSet[id] = struct{}{}
	}
	filtered := order[:0]
	for _, e := range order {
		if _, skip := cycleSet[e.resourceID]; !skip {
			filtered = append(filtered, e)
		}
	}

	return filtered, cycleIDs
}

func (o *Orchestrator) runOneCheck(ctx context.Context, e *healthCheckEntry) {
	run := e.check
	if e.breakerName != "" || e.retryName != "" {
		run = func(ctx context.Context) error {
			return o.ExecuteWithResilience(ctx, e.breakerName, e.retryName, func() error {
				return e.check(ctx)
			})
		}
	}

	err := run(ctx)

	e.mu.Lock()
	e.lastCheckAt = time.Now()
	prevStatus := e.status

	if err != nil {
		e.failureStreak++
		e.successStreak = 0
		switch {
		case e.failureStreak >= e.failureThreshold*2:
			e.status = domain.HealthFailing
		case e.failureStreak >= e.failureThreshold:
			e.status = domain.HealthDegraded
		}
	} else {
		e.successStreak++
		e.failureStreak = 0
		if e.successStreak >= e.recoveryThreshold {
			e.status = domain.HealthHealthy
		} else if prevStatus != domain.HealthHealthy && prevStatus != domain.HealthRecovering {
			// still degraded/failing until recoveryThreshold consecutive successes
		}
	}
	statusNow := e.status
	lastRecover := e.lastRecoverAt
	cooldownEligible := statusNow == domain.HealthFailing
	e.mu.Unlock()

	if prevStatus != statusNow {
		o.logger.Info("resource health transition", "resource_id", e.resourceID, "from", prevStatus, "to", statusNow)
	}

	if cooldownEligible {
		o.maybeRecover(ctx, e, lastRecover)
	}
}

func (o *Orchestrator) maybeRecover(ctx context.Context, e *healthCheckEntry, lastRecover time.Time) {
	o.mu.Lock()
	rec, ok := o.recovery[e.resourceID]
	o.mu.Unlock()
	if !ok {
		return
	}

	if time.Since(lastRecover) < rec.cooldown {
		return
	}

	e.mu.Lock()
	e.status = domain.HealthRecovering
	e.lastRecoverAt = time.Now()
	e.mu.Unlock()

	err := rec.recover(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.status = domain.HealthHealthy
		e.failureStreak = 0
		e.successStreak = 0
		if b, found := o.Breaker(e.breakerName); found && e.breakerName != "" {
			b.Reset()
		}
		o.logger.Info("resource recovered", "resource_id", e.resourceID)
	} else {
		e.status = domain.HealthFailing
		o.logger.Error("resource recovery failed", "resource_id", e.resourceID, "error", err)
	}
}

// HealthError is returned by readiness checks when one or more resources
// are not HEALTHY.
type HealthError struct {
	Unhealthy []domain.ResourceHealth
}

func (e *HealthError) Error() string {
	return fmt.Sprintf("%d resource(s) not healthy", len(e.Unhealthy))
}
