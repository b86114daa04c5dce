package breaker

import (
	"log/slog"
	"time"
)

// EventType names a transition or a call outcome.
type EventType string

const (
	EventOpen     EventType = "open"
	EventHalfOpen EventType = "halfOpen"
	EventClose    EventType = "close"
	EventSuccess  EventType = "success"
	EventFailure  EventType = "failure"
	EventTimeout  EventType = "timeout"
	EventReject   EventType = "reject"
)

// IsTransition reports whether the event is a state change.
func (t EventType) IsTransition() bool {
	return t == EventOpen || t == EventHalfOpen || t == EventClose
}

// Event is delivered to observers for every transition and call outcome.
// From and To are equal for outcome events.
type Event struct {
	Service string
	Type    EventType
	From    State
	To      State
	Latency time.Duration
	Err     error
	At      time.Time
}

// Observer receives breaker events synchronously on the calling goroutine,
// outside the breaker's lock. Implementations must not block.
type Observer interface {
	OnBreakerEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnBreakerEvent(e Event) { f(e) }

type logObserver struct {
	logger *slog.Logger
}

// NewLogObserver logs transitions at warn/info level and outcomes at debug.
func NewLogObserver(logger *slog.Logger) Observer {
	return &logObserver{logger: logger.With("component", "breaker")}
}

func (o *logObserver) OnBreakerEvent(e Event) {
	switch e.Type {
	case EventOpen:
		o.logger.Warn("Circuit breaker opened",
			"service", e.Service,
			"from", e.From.String())
	case EventHalfOpen:
		o.logger.Info("Circuit breaker half-open, admitting trial call",
			"service", e.Service)
	case EventClose:
		o.logger.Info("Circuit breaker closed",
			"service", e.Service)
	case EventReject:
		o.logger.Debug("Call rejected by open breaker",
			"service", e.Service,
			"state", e.From.String())
	default:
		attrs := []any{
			"service", e.Service,
			"outcome", string(e.Type),
			"latency_ms", e.Latency.Milliseconds(),
		}
		if e.Err != nil {
			attrs = append(attrs, "error", e.Err)
		}
		o.logger.Debug("Breaker call finished", attrs...)
	}
}
