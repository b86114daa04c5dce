package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gateway/internal/audit"
	"gateway/internal/auth"
	"gateway/internal/breaker"
	"gateway/internal/logger"
	"gateway/internal/models"
	"gateway/internal/storage"
	"gateway/internal/version"
)

const (
	healthProbeTimeout = 2 * time.Second
	maxEventsLimit     = 1000
)

// Handlers contains the gateway's own HTTP handlers. Proxied traffic never
// reaches them.
type Handlers struct {
	breakers *breaker.Registry
	gate     *auth.Gate
	version  version.Info
	events   storage.Storage // nil when auditing is disabled
	recorder *audit.Recorder // nil when auditing is disabled
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithAudit exposes the audit trail through the admin API and health checks.
func WithAudit(events storage.Storage, recorder *audit.Recorder) HandlerOption {
	return func(h *Handlers) {
		h.events = events
		h.recorder = recorder
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(breakers *breaker.Registry, gate *auth.Gate, ver version.Info, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		breakers: breakers,
		gate:     gate,
		version:  ver,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health, GET /api/v1/health
// Open breakers and audit storage problems degrade the report but still
// answer 200; only a gateway that cannot authenticate anyone is unhealthy.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = h.version.Uptime().Round(time.Second).String()

	degrade := func() {
		if response.Status == models.StatusHealthy {
			response.Status = models.StatusDegraded
		}
	}

	if h.gate.Ready() {
		response.AddComponent("auth", models.StatusHealthy, "Signing secret configured")
	} else {
		response.AddComponent("auth", models.StatusUnhealthy, "Signing secret not configured")
		response.Status = models.StatusUnhealthy
	}

	snapshots := h.breakers.Snapshot()
	var open []string
	for _, s := range snapshots {
		if s.State != breaker.StateClosed {
			open = append(open, s.Service)
		}
	}
	if len(open) == 0 {
		response.AddComponent("breakers", models.StatusHealthy, "All circuits closed")
	} else {
		response.AddComponent("breakers", models.StatusDegraded, "Some circuits are not closed")
		response.Components["breakers"].Details["services"] = open
		degrade()
	}
	response.AddMetric("breakers_tracked", len(snapshots))
	response.AddMetric("breakers_open", h.breakers.OpenCount())

	if h.events != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()
		if err := h.events.Ping(ctx); err != nil {
			response.AddComponent("audit", models.StatusUnhealthy, "Audit storage unreachable")
			degrade()
		} else {
			response.AddComponent("audit", models.StatusHealthy, "Audit storage is operational")
		}
	}
	if h.recorder != nil {
		response.AddMetric("audit_pending", h.recorder.Pending())
		response.AddMetric("audit_dropped", h.recorder.Dropped())
	}

	status := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// ListBreakers reports every breaker created so far.
// GET /api/v1/gateway/breakers
func (h *Handlers) ListBreakers(w http.ResponseWriter, r *http.Request) {
	snapshots := h.breakers.Snapshot()
	resp := models.BreakerStatusResponse{
		Breakers:  make([]models.BreakerStatus, 0, len(snapshots)),
		Timestamp: time.Now(),
	}
	for _, s := range snapshots {
		resp.Breakers = append(resp.Breakers, models.BreakerStatus{
			Service:         s.Service,
			State:           s.State.String(),
			LastStateChange: s.LastStateChange,
			Requests:        s.Counts.Requests,
			Successes:       s.Counts.Successes,
			Failures:        s.Counts.Failures,
			Timeouts:        s.Counts.Timeouts,
			Rejects:         s.Counts.Rejects,
			ErrorPercentage: s.Counts.ErrorPercentage(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListEvents lists audit events, newest first.
// GET /api/v1/gateway/events?type=&target=&since=RFC3339&limit=
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Audit trail is disabled", models.ErrorCodeNotFound))
		return
	}

	q := r.URL.Query()
	filter := models.EventFilter{
		Type:   models.AuditEventType(q.Get("type")),
		Target: q.Get("target"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("since must be an RFC 3339 timestamp", models.ErrorCodeBadRequest))
			return
		}
		filter.Since = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 || n > maxEventsLimit {
			writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("limit must be between 1 and 1000", models.ErrorCodeBadRequest))
			return
		}
		filter.Limit = n
	}

	events, err := h.events.Events(r.Context(), filter)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list audit events", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to list audit events", models.ErrorCodeInternalError))
		return
	}

	writeJSON(w, http.StatusOK, models.ListEventsResponse{
		Events:     events,
		TotalCount: len(events),
	})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}
