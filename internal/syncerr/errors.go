// Package syncerr defines the sync engine's error taxonomy: a small set of
// kinds that drive retry, circuit-breaker, and job-failure behavior
// uniformly across every component in the pipeline.
package syncerr

import "fmt"

// Kind classifies an error for the purposes of retry/breaker/job handling.
type Kind string

const (
	// Transient errors are network blips, connection resets, deadline
	// exceeded — retryable and circuit-breaker-monitored.
	Transient Kind = "transient"

	// RemoteUnavailable means an adapter's Connect failed or its breaker
	// is OPEN. Retryable only by the orchestrator's recovery action, not
	// by the inline retry strategy beyond its own budget.
	RemoteUnavailable Kind = "remote_unavailable"

	// InputInvalid means caller-supplied parameters violate the expected
	// schema. Non-retryable; surfaced immediately as a 4xx-equivalent.
	InputInvalid Kind = "input_invalid"

	// RecordRejected means validation failed after healing. Per-record,
	// non-fatal to the job, counted in the job's failed counter.
	RecordRejected Kind = "record_rejected"

	// ConflictUnresolved means the resolution strategy was MANUAL. The
	// record is recorded, target unchanged, counted as succeeded, and
	// flagged for review.
	ConflictUnresolved Kind = "conflict_unresolved"

	// Internal means a bug, panic, or invariant violation. The job fails
	// and the error is never silently swallowed.
	Internal Kind = "internal"
)

// Error is a typed error carrying a Kind discriminant so callers (retry
// strategies, circuit breakers, the job boundary) can branch on it without
// string matching or sentinel comparison chains.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors
// that don't carry one — an un-typed error reaching the job boundary is
// treated as a bug, not silently downgraded.
func KindOf(err error) Kind {
	var se *Error
	if ok := asError(err, &se); ok {
		return se.Kind
	}
	return Internal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRetryable reports whether an error's kind is one the inline retry
// strategies are allowed to act on directly (Transient only — breaker-open
// RemoteUnavailable is the orchestrator's recovery action's job, not the
// retry budget's).
func IsRetryable(err error) bool {
	return KindOf(err) == Transient
}

// CircuitOpen is returned by a breaker's Execute when it rejects a call
// without invoking the underlying function.
type CircuitOpen struct {
	Name    string
	ResetAt string
}

func (e *CircuitOpen) Error() string {
	return fmt.Sprintf("circuit %q open until %s", e.Name, e.ResetAt)
}

// InvalidTransition is returned when a job state transition is attempted
// from a state that does not allow it (e.g. Cancel on a terminal job).
type InvalidTransition struct {
	JobID string
	From  string
	To    string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// NotFound is returned when a lookup (job, resource) finds nothing.
type NotFound struct {
	Resource string
	ID       string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}
