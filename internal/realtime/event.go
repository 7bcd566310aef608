// Package realtime provides real-time event broadcasting for the sync
// control plane's /sync/stream websocket.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a real-time event broadcast to subscribers.
type Event struct {
	// Type is the event type (job_created, conflict_resolved, health_changed, etc.)
	Type string `json:"type"`

	// ID is a unique event ID (UUID)
	ID string `json:"id"`

	// Data is the event payload (varies by event type)
	Data map[string]interface{} `json:"data"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Source is the event source (job_manager, sync_engine, orchestrator, system)
	Source string `json:"source"`

	// Sequence is a sequence number for event ordering (monotonically increasing)
	Sequence int64 `json:"sequence"`
}

// EventType constants for sync control-plane events.
const (
	// Job lifecycle events.
	EventTypeJobCreated   = "job_created"
	EventTypeJobStarted   = "job_started"
	EventTypeJobCompleted = "job_completed"
	EventTypeJobFailed    = "job_failed"
	EventTypeJobCancelled = "job_cancelled"

	// Pipeline events.
	EventTypeConflictResolved = "conflict_resolved"
	EventTypeHealingApplied   = "healing_applied"
	EventTypeBatchSkipped     = "batch_skipped"

	// Resource health events.
	EventTypeHealthChanged = "health_changed"

	// System Events
	EventTypeSystemNotification = "system_notification"
)

// EventSource constants.
const (
	EventSourceJobManager   = "job_manager"
	EventSourceSyncEngine   = "sync_engine"
	EventSourceOrchestrator = "orchestrator"
	EventSourceSystem       = "system"
)

// NewEvent creates a new Event with the given type, data, and source.
func NewEvent(eventType string, data map[string]interface{}, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        generateEventID(),
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Sequence:  0, // Will be set by EventBus
	}
}

// generateEventID generates a unique event ID (UUID).
func generateEventID() string {
	return uuid.New().String()
}
