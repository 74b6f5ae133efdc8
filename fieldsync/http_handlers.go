// Copyright 2025 FieldSync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/fieldsync/go-fieldsync/internal/auth"
)

// HTTPHandlers provides the HTTP surface for the delta sync and job
// orchestration API.
type HTTPHandlers struct {
	delta         *DeltaService
	queue         *JobQueue
	scheduler     *Scheduler
	reporter      *StatusReporter
	registry      AgentRegistry
	authenticator Authenticator
	logger        *slog.Logger
}

// NewHTTPHandlers creates a new instance of the sync API handlers.
func NewHTTPHandlers(
	delta *DeltaService,
	queue *JobQueue,
	scheduler *Scheduler,
	reporter *StatusReporter,
	registry AgentRegistry,
	authenticator Authenticator,
	logger *slog.Logger,
) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		delta:         delta,
		queue:         queue,
		scheduler:     scheduler,
		reporter:      reporter,
		registry:      registry,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Mux returns a ServeMux with all API routes registered.
func (h *HTTPHandlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/cache/version", h.HandleVersion)
	mux.HandleFunc("GET /api/cache/delta", h.HandleDelta)
	mux.HandleFunc("GET /api/sync/stats", h.HandleStats)
	mux.HandleFunc("GET /api/sync/monitoring/status", h.HandleMonitoringStatus)
	mux.HandleFunc("GET /api/sync/auto-sync/status", h.HandleSchedulerStatus)
	mux.HandleFunc("POST /api/sync/auto-sync/start", h.HandleSchedulerStart)
	mux.HandleFunc("POST /api/sync/auto-sync/stop", h.HandleSchedulerStop)
	mux.HandleFunc("POST /api/sync/trigger/{type}", h.HandleTrigger)
	return mux
}

// authenticate validates the request and stores identity in the context.
// Writes the 401 itself and returns false when auth fails.
func (h *HTTPHandlers) authenticate(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	agentID, err := h.authenticator.AgentID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return r, false
	}
	role, err := h.authenticator.Role(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return r, false
	}
	ctx := auth.SetAuthContext(r.Context(), agentID, role)
	return r.WithContext(ctx), true
}

// requireRole is the single authorization check consumed by the privileged
// monitoring and scheduler-control endpoints.
func (h *HTTPHandlers) requireRole(w http.ResponseWriter, r *http.Request, role string) bool {
	got, ok := auth.GetRole(r.Context())
	if !ok || got != role {
		h.writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
		return false
	}
	return true
}

// HandleVersion returns the current server version with per-type metadata.
func (h *HTTPHandlers) HandleVersion(w http.ResponseWriter, r *http.Request) {
	r, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	resp, err := h.delta.GetVersion(r.Context())
	if err != nil {
		h.logger.Error("Failed to get version", "error", err)
		h.writeError(w, http.StatusInternalServerError, "version_failed", "Failed to get version")
		return
	}
	h.touchAgent(r)
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleDelta returns incremental changes since the client's version.
func (h *HTTPHandlers) HandleDelta(w http.ResponseWriter, r *http.Request) {
	r, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	versionStr := r.URL.Query().Get("clientVersion")
	if versionStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "clientVersion is required")
		return
	}
	clientVersion, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "clientVersion must be an integer")
		return
	}
	if clientVersion < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "clientVersion must be >= 0")
		return
	}

	var types []string
	if typesStr := r.URL.Query().Get("types"); typesStr != "" {
		for _, t := range strings.Split(typesStr, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	resp, err := h.delta.GetDelta(r.Context(), clientVersion, types)
	if err != nil {
		agentID, _ := auth.GetAgentID(r.Context())
		h.logger.Error("Failed to compute delta",
			"error", err, "agent_id", agentID, "client_version", clientVersion, "types", types)
		h.writeError(w, http.StatusInternalServerError, "delta_failed", "Failed to compute delta")
		return
	}
	h.touchAgent(r)
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStats returns queue counts per job state.
func (h *HTTPHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, StatsResponse{Success: true, Queue: h.queue.Stats()})
}

// HandleMonitoringStatus returns the full status view (privileged).
func (h *HTTPHandlers) HandleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	r, ok := h.authenticate(w, r)
	if !ok || !h.requireRole(w, r, RoleAdmin) {
		return
	}

	report := h.reporter.Report()
	h.writeJSON(w, http.StatusOK, MonitoringResponse{
		Success:    true,
		Queue:      report.Queue,
		ActiveJobs: report.ActiveLocks,
	})
}

// HandleSchedulerStatus returns the scheduler state (privileged).
func (h *HTTPHandlers) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	r, ok := h.authenticate(w, r)
	if !ok || !h.requireRole(w, r, RoleAdmin) {
		return
	}
	h.writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running:   h.scheduler.IsRunning(),
		Intervals: h.scheduler.Intervals(),
	})
}

// HandleSchedulerStart starts the scheduler (privileged).
func (h *HTTPHandlers) HandleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	r, ok := h.authenticate(w, r)
	if !ok || !h.requireRole(w, r, RoleAdmin) {
		return
	}
	h.scheduler.Start()
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// HandleSchedulerStop stops the scheduler (privileged).
func (h *HTTPHandlers) HandleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	r, ok := h.authenticate(w, r)
	if !ok || !h.requireRole(w, r, RoleAdmin) {
		return
	}
	h.scheduler.Stop()
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// HandleTrigger enqueues a sync job immediately, bypassing the scheduler.
// Manual triggers are prioritized over scheduled work.
func (h *HTTPHandlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	r, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	jobType := r.PathValue("type")
	agentID, _ := auth.GetAgentID(r.Context())

	jobID, err := h.queue.EnqueuePrioritized(jobType, agentID, nil)
	if err != nil {
		if errors.Is(err, ErrUnknownJobType) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "unknown sync type "+jobType)
			return
		}
		h.logger.Error("Failed to enqueue sync job", "error", err, "type", jobType, "agent_id", agentID)
		h.writeError(w, http.StatusInternalServerError, "trigger_failed", "Failed to enqueue sync job")
		return
	}
	h.writeJSON(w, http.StatusOK, TriggerResponse{Success: true, JobID: jobID})
}

// touchAgent records the authenticated agent in the registry. Best effort:
// read traffic must not fail because bookkeeping did.
func (h *HTTPHandlers) touchAgent(r *http.Request) {
	agentID, ok := auth.GetAgentID(r.Context())
	if !ok || h.registry == nil {
		return
	}
	if err := h.registry.TouchAgent(r.Context(), agentID); err != nil {
		h.logger.Warn("Failed to touch agent", "error", err, "agent_id", agentID)
	}
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
