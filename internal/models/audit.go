package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType classifies a recorded security or resilience event.
type AuditEventType string

const (
	AuditAuthFailure       AuditEventType = "auth_failure"
	AuditAuthMisconfigured AuditEventType = "auth_misconfigured"
	AuditRateLimited       AuditEventType = "rate_limited"
	AuditBreakerOpened     AuditEventType = "breaker_opened"
	AuditBreakerHalfOpen   AuditEventType = "breaker_half_open"
	AuditBreakerClosed     AuditEventType = "breaker_closed"
)

// AuditEvent is a persisted security or resilience event. It never contains
// credential values or request bodies.
type AuditEvent struct {
	ID         string         `json:"id"`
	Type       AuditEventType `json:"type"`
	Target     string         `json:"target,omitempty"` // service name or rate limit scope
	Subject    string         `json:"subject,omitempty"`
	ClientIP   string         `json:"client_ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Route      string         `json:"route,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewAuditEvent creates an event with a fresh ID and the current UTC time.
func NewAuditEvent(eventType AuditEventType, target string) *AuditEvent {
	return &AuditEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Target:     target,
		OccurredAt: time.Now().UTC(),
	}
}

// EventFilter narrows an event listing. Zero values mean "no constraint".
type EventFilter struct {
	Type   AuditEventType
	Target string
	Since  time.Time
	Limit  int
}

// Matches reports whether the event satisfies every set constraint except Limit.
func (f EventFilter) Matches(ev *AuditEvent) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Target != "" && ev.Target != f.Target {
		return false
	}
	if !f.Since.IsZero() && ev.OccurredAt.Before(f.Since) {
		return false
	}
	return true
}
