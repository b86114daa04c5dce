// Package models - API response types and error handling.
// This file defines every body the gateway itself writes; proxied responses
// are relayed verbatim and never pass through these types.
//
// Response Design Principles:
// - Rejections carry a machine-readable code next to the human-readable text
// - Downstream failures carry the service name and a breaker flag so callers
//   can degrade instead of failing outright
// - RFC3339 timestamps
package models

import (
	"time"
)

// ErrorResponse provides structured error information for gateway faults
// (unknown routes, misconfiguration, panics).
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Extra context
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Correlation identifier
}

// AccessDeniedResponse is written when the authentication gate rejects a
// request. The body intentionally carries only the message.
type AccessDeniedResponse struct {
	Error string `json:"error"`
}

// RateLimitResponse is written with status 429 together with a Retry-After
// header holding the same number of seconds as RetryAfter.
type RateLimitResponse struct {
	Status     string `json:"status"`     // Always "error"
	Error      string `json:"error"`      // Limit, window and retry text
	RetryAfter int    `json:"retryAfter"` // Seconds until the window resets
	Code       string `json:"code"`       // RATE_LIMIT_EXCEEDED
}

// UpstreamErrorResponse is written when a downstream call could not produce a
// response: breaker open, timeout or transport failure.
type UpstreamErrorResponse struct {
	Error         string    `json:"error"`
	Service       string    `json:"service"`
	Code          string    `json:"code"`
	IsBreakerOpen bool      `json:"isBreakerOpen"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id,omitempty"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// BreakerStatusResponse lists the state of every breaker created so far.
type BreakerStatusResponse struct {
	Breakers  []BreakerStatus `json:"breakers"`
	Timestamp time.Time       `json:"timestamp"`
}

type BreakerStatus struct {
	Service         string    `json:"service"`
	State           string    `json:"state"`
	LastStateChange time.Time `json:"last_state_change"`
	Requests        int       `json:"requests"`
	Successes       int       `json:"successes"`
	Failures        int       `json:"failures"`
	Timeouts        int       `json:"timeouts"`
	Rejects         int       `json:"rejects"`
	ErrorPercentage float64   `json:"error_percentage"`
}

type ListEventsResponse struct {
	Events     []*AuditEvent `json:"events"`
	TotalCount int           `json:"total_count"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Error codes written by the gateway.
const (
	ErrorCodeNotFound           = "NOT_FOUND"            // 404: No route matched
	ErrorCodeUnknownService     = "UNKNOWN_SERVICE"      // 404: Route names a service with no address
	ErrorCodeBadRequest         = "BAD_REQUEST"          // 400: Invalid request format
	ErrorCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"    // 413: Body exceeds proxy limit
	ErrorCodeInternalError      = "INTERNAL_ERROR"       // 500: Server-side error
	ErrorCodeMisconfigured      = "SERVER_MISCONFIGURED" // 500: Missing signing secret
	ErrorCodeUnauthorized       = "UNAUTHORIZED"         // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"            // 403: Permission denied
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"  // 429: Budget exhausted
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"  // 503: Breaker open
	ErrorCodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"     // 504: Downstream too slow
	ErrorCodeUpstreamError      = "UPSTREAM_ERROR"       // 502: Downstream unreachable
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewAccessDeniedResponse(message string) *AccessDeniedResponse {
	return &AccessDeniedResponse{Error: message}
}

func NewRateLimitResponse(message string, retryAfter int) *RateLimitResponse {
	return &RateLimitResponse{
		Status:     "error",
		Error:      message,
		RetryAfter: retryAfter,
		Code:       ErrorCodeRateLimitExceeded,
	}
}

func NewUpstreamErrorResponse(message, service, code string, breakerOpen bool) *UpstreamErrorResponse {
	return &UpstreamErrorResponse{
		Error:         message,
		Service:       service,
		Code:          code,
		IsBreakerOpen: breakerOpen,
		Timestamp:     time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
