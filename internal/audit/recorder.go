// Package audit persists security and resilience events off the request
// path. Observers enqueue events on a bounded buffer and a single worker
// writes them to storage; when the buffer is full events are dropped and
// counted rather than slowing down requests.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gateway/internal/auth"
	"gateway/internal/breaker"
	"gateway/internal/models"
	"gateway/internal/ratelimit"
	"gateway/internal/storage"

	"golang.org/x/time/rate"
)

const (
	// DefaultBufferSize is used when the configured buffer size is not positive.
	DefaultBufferSize = 1024

	saveTimeout = 5 * time.Second
)

// Recorder implements auth.Observer, ratelimit.Observer and
// breaker.Observer.
type Recorder struct {
	store  storage.Storage
	logger *slog.Logger

	mu     sync.RWMutex // guards closed and sends on events
	closed bool
	events chan *models.AuditEvent
	done   chan struct{}

	dropped atomic.Int64
	dropLog rate.Sometimes
}

// NewRecorder starts the background writer. Close must be called to flush
// pending events.
func NewRecorder(store storage.Storage, bufferSize int, logger *slog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		store:   store,
		logger:  logger.With("component", "audit"),
		events:  make(chan *models.AuditEvent, bufferSize),
		done:    make(chan struct{}),
		dropLog: rate.Sometimes{Interval: 10 * time.Second},
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := r.store.SaveEvent(ctx, ev); err != nil {
			r.logger.Error("Failed to save audit event",
				"event_id", ev.ID,
				"type", string(ev.Type),
				"error", err)
		}
		cancel()
	}
}

// Record enqueues ev without blocking. It reports false when the event was
// dropped because the buffer is full or the recorder is closed.
func (r *Recorder) Record(ev *models.AuditEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return false
	}

	select {
	case r.events <- ev:
		return true
	default:
		n := r.dropped.Add(1)
		r.dropLog.Do(func() {
			r.logger.Warn("Audit buffer full, dropping events", "dropped_total", n)
		})
		return false
	}
}

// Dropped returns the number of events that were never written.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Pending returns the number of buffered events not yet written.
func (r *Recorder) Pending() int {
	return len(r.events)
}

// Close stops accepting events and waits until the buffer is drained or ctx
// is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit flush interrupted with %d events pending: %w", len(r.events), ctx.Err())
	}
}

func (r *Recorder) OnAuthEvent(e auth.Event) {
	var eventType models.AuditEventType
	switch e.Outcome {
	case auth.OutcomeMissing, auth.OutcomeInvalid:
		eventType = models.AuditAuthFailure
	case auth.OutcomeMisconfigured:
		eventType = models.AuditAuthMisconfigured
	default:
		return
	}

	ev := models.NewAuditEvent(eventType, "")
	ev.Subject = e.Subject
	ev.ClientIP = e.ClientIP
	ev.UserAgent = e.UserAgent
	ev.Route = e.Route
	ev.Detail = string(e.Outcome)
	r.Record(ev)
}

func (r *Recorder) OnRateLimitEvent(e ratelimit.Event) {
	if e.Allowed {
		return
	}

	ev := models.NewAuditEvent(models.AuditRateLimited, e.Scope)
	ev.ClientIP = e.ClientIP
	ev.UserAgent = e.UserAgent
	ev.Route = e.Route
	ev.Detail = fmt.Sprintf("key %s exceeded %d requests, retry after %ds", e.Key, e.Limit, e.RetryAfter)
	r.Record(ev)
}

func (r *Recorder) OnBreakerEvent(e breaker.Event) {
	var eventType models.AuditEventType
	switch e.Type {
	case breaker.EventOpen:
		eventType = models.AuditBreakerOpened
	case breaker.EventHalfOpen:
		eventType = models.AuditBreakerHalfOpen
	case breaker.EventClose:
		eventType = models.AuditBreakerClosed
	default:
		return
	}

	ev := models.NewAuditEvent(eventType, e.Service)
	if !e.At.IsZero() {
		ev.OccurredAt = e.At.UTC()
	}
	ev.Detail = e.From.String() + " -> " + e.To.String()
	r.Record(ev)
}
