package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	apierrors "github.com/camasync/syncengine/internal/api/errors"
	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/jobs"
	"github.com/camasync/syncengine/internal/realtime"
	"github.com/camasync/syncengine/internal/resilience"
)

// Handlers implements the sync control plane's HTTP surface: job
// submission, status, cancellation, health, and the live event stream.
// One receiver per concern, sharing a logger.
type Handlers struct {
	jobManager   *jobs.Manager
	orchestrator *resilience.Orchestrator
	bus          realtime.EventBus
	logger       *slog.Logger
	upgrader     websocket.Upgrader
}

// NewHandlers builds a Handlers. bus may be nil to disable /sync/stream.
func NewHandlers(jobManager *jobs.Manager, orchestrator *resilience.Orchestrator, bus realtime.EventBus, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobManager:   jobManager,
		orchestrator: orchestrator,
		bus:          bus,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type submitJobRequest struct {
	TenantID    string   `json:"tenant_id"`
	EntityTypes []string `json:"entity_types,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
	Since       string   `json:"since,omitempty"`
}

func (req submitJobRequest) toParams() map[string]any {
	params := map[string]any{}
	if len(req.EntityTypes) > 0 {
		params["entity_types"] = req.EntityTypes
	}
	if req.BatchSize > 0 {
		params["batch_size"] = req.BatchSize
	}
	if req.Since != "" {
		params["since"] = req.Since
	}
	return params
}

type submitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// PostSyncFull handles POST /sync/full.
func (h *Handlers) PostSyncFull(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.JobKindFullSync)
}

// PostSyncIncremental handles POST /sync/incremental.
func (h *Handlers) PostSyncIncremental(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, domain.JobKindIncrementalSync)
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, kind domain.JobKind) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.InputInvalid("malformed request body: "+err.Error()))
		return
	}
	if req.TenantID == "" {
		apierrors.WriteError(w, apierrors.InputInvalid("tenant_id is required"))
		return
	}

	jobID, err := h.jobManager.Submit(r.Context(), kind, req.TenantID, req.toParams())
	if err != nil {
		apierrors.WriteError(w, apierrors.FromDomainError(err))
		return
	}

	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: jobID, Status: string(domain.JobStatusPending)})
}

// GetSyncStatus handles GET /sync/status/{job_id}.
func (h *Handlers) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, err := h.jobManager.Get(jobID)
	if err != nil {
		apierrors.WriteError(w, apierrors.FromDomainError(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type cancelJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// PostSyncCancel handles POST /sync/cancel/{job_id}.
func (h *Handlers) PostSyncCancel(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	status, err := h.jobManager.Cancel(r.Context(), jobID)
	if err != nil {
		apierrors.WriteError(w, apierrors.FromDomainError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, cancelJobResponse{JobID: jobID, Status: string(status)})
}

// GetHealthLive handles GET /health/live: the process is up and serving.
func (h *Handlers) GetHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

type readinessResponse struct {
	Status    string                  `json:"status"`
	Resources []domain.ResourceHealth `json:"resources"`
}

// GetHealthReady handles GET /health/ready: every monitored resource must
// be HEALTHY or DEGRADED (still serving traffic) for a 200; FAILING or
// RECOVERING resources fail readiness.
func (h *Handlers) GetHealthReady(w http.ResponseWriter, r *http.Request) {
	snapshot := h.orchestrator.HealthSnapshot()
	var unhealthy []domain.ResourceHealth
	for _, res := range snapshot {
		if res.Status == domain.HealthFailing || res.Status == domain.HealthRecovering {
			unhealthy = append(unhealthy, res)
		}
	}
	if len(unhealthy) > 0 {
		apiErr := apierrors.ReadinessFailure("one or more dependencies are not healthy")
		apiErr = apiErr.WithDetails(unhealthy)
		apierrors.WriteError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, readinessResponse{Status: "ready", Resources: snapshot})
}

// GetSyncStream handles GET /sync/stream: upgrades to a websocket and
// forwards every bus event (job lifecycle, conflicts, healing, health
// transitions) to the client until it disconnects.
func (h *Handlers) GetSyncStream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		apierrors.WriteError(w, apierrors.Internal("event stream is not configured"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := NewWebSocketSubscriber(conn, r.Context(), h.logger)
	if err := h.bus.Subscribe(sub); err != nil {
		h.logger.Warn("subscribe to event bus failed", "error", err)
		_ = conn.Close()
		return
	}
	defer h.bus.Unsubscribe(sub)

	sub.WriteLoop()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// healthEventFromResource turns a resource-health snapshot into a
// realtime.Event suitable for h.bus.Publish. It is unexported and nothing
// in this package calls it.
func healthEventFromResource(res domain.ResourceHealth) realtime.Event {
	return realtime.Event{
		Type: realtime.EventTypeHealthChanged,
		ID:   res.ResourceID + "-" + res.LastCheckAt.Format(time.RFC3339Nano),
		Data: map[string]any{
			"resource_id": res.ResourceID,
			"status":      string(res.Status),
		},
		Timestamp: res.LastCheckAt,
		Source:    realtime.EventSourceOrchestrator,
	}
}
