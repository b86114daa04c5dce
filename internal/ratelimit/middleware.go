package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gateway/internal/auth"
	"gateway/internal/logger"
	"gateway/internal/models"

	"golang.org/x/time/rate"
)

// Event describes one admission decision.
type Event struct {
	Scope      string
	Key        Key
	Allowed    bool
	Limit      int
	RetryAfter int
	ClientIP   string
	UserAgent  string
	Route      string
}

// Observer receives admission events. Implementations must not block.
type Observer interface {
	OnRateLimitEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnRateLimitEvent(e Event) { f(e) }

// DefaultExemptPaths are never rate limited.
var DefaultExemptPaths = []string{"/health", "/api/v1/health", "/metrics"}

// Middleware enforces policies with a shared Limiter.
type Middleware struct {
	limiter   *Limiter
	exempt    map[string]bool
	observers []Observer

	// Rejection warnings are sampled so a flood does not flood the logs.
	rejectLog rate.Sometimes
}

type MiddlewareOption func(*Middleware)

// WithExemptPaths adds paths that are never limited.
func WithExemptPaths(paths ...string) MiddlewareOption {
	return func(m *Middleware) {
		for _, p := range paths {
			m.exempt[p] = true
		}
	}
}

func WithObserver(o Observer) MiddlewareOption {
	return func(m *Middleware) {
		m.observers = append(m.observers, o)
	}
}

func NewMiddleware(l *Limiter, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		limiter:   l,
		exempt:    make(map[string]bool),
		rejectLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	for _, p := range DefaultExemptPaths {
		m.exempt[p] = true
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler returns HTTP middleware enforcing p.
func (m *Middleware) Handler(p Policy) func(http.Handler) http.Handler {
	if p.Limit == nil {
		p.Limit = FixedLimit(0)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			log := logger.FromContext(ctx)
			key := p.Key(r)
			limit := p.Limit(r)

			var (
				d   Decision
				err error
			)
			if p.SkipSuccessful {
				d, err = m.limiter.Check(ctx, key, limit, p.Window)
			} else {
				d, err = m.limiter.Admit(ctx, key, limit, p.Window)
			}
			if err != nil {
				log.Error("Rate limit store unavailable, allowing request",
					"scope", p.Scope,
					"error", err)
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, d)
			m.notify(p, key, d, r)

			if !d.Allowed {
				m.reject(w, r, p, key, d)
				return
			}

			if !p.SkipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < 200 || rec.status >= 300 {
				if err := m.limiter.Count(ctx, key, p.Window); err != nil {
					log.Error("Failed to count unsuccessful request",
						"scope", p.Scope,
						"error", err)
				}
			}
		})
	}
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, p Policy, key Key, d Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	resp := models.NewRateLimitResponse(RejectionMessage(d.Limit, p.Window, d.RetryAfterSeconds), d.RetryAfterSeconds)
	json.NewEncoder(w).Encode(resp)

	m.rejectLog.Do(func() {
		logger.FromContext(r.Context()).Warn("Rate limit exceeded",
			"scope", p.Scope,
			"key", string(key),
			"limit", d.Limit,
			"retry_after", d.RetryAfterSeconds,
			"client_ip", auth.ClientIP(r),
			"user_agent", r.UserAgent(),
			"route", r.URL.Path,
		)
	})
}

func (m *Middleware) notify(p Policy, key Key, d Decision, r *http.Request) {
	if len(m.observers) == 0 {
		return
	}
	ev := Event{
		Scope:      p.Scope,
		Key:        key,
		Allowed:    d.Allowed,
		Limit:      d.Limit,
		RetryAfter: d.RetryAfterSeconds,
		ClientIP:   auth.ClientIP(r),
		UserAgent:  r.UserAgent(),
		Route:      r.URL.Path,
	}
	for _, o := range m.observers {
		o.OnRateLimitEvent(ev)
	}
}

// RejectionMessage renders the 429 error text.
func RejectionMessage(limit int, window time.Duration, retryAfter int) string {
	var per string
	if window >= time.Minute && window%time.Minute == 0 {
		per = fmt.Sprintf("%d minute(s)", int(window/time.Minute))
	} else {
		per = fmt.Sprintf("%d second(s)", int(window.Round(time.Second)/time.Second))
	}
	return fmt.Sprintf("Too many requests. Limit is %d requests per %s. Retry after %d seconds.", limit, per, retryAfter)
}

func setHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
