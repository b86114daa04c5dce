package observability

import (
	"context"
	"strconv"

	"gateway/internal/auth"
	"gateway/internal/breaker"
	"gateway/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayMetrics records breaker, rate limit and authentication events as
// OpenTelemetry instruments. It implements breaker.Observer,
// ratelimit.Observer and auth.Observer.
type GatewayMetrics struct {
	breakerCalls       metric.Int64Counter
	breakerLatency     metric.Float64Histogram
	breakerTransitions metric.Int64Counter
	rateLimitDecisions metric.Int64Counter
	authAttempts       metric.Int64Counter
}

// StateSource reports the current breaker snapshots; *breaker.Registry
// satisfies it.
type StateSource interface {
	Snapshot() []breaker.Snapshot
}

// NewGatewayMetrics creates the gateway instruments on the global meter
// provider. When states is non-nil a gauge reports each breaker's state
// (0 closed, 1 half-open, 2 open) at collection time.
func NewGatewayMetrics(states StateSource) (*GatewayMetrics, error) {
	meter := otel.Meter("gateway")
	m := &GatewayMetrics{}

	var err error
	if m.breakerCalls, err = meter.Int64Counter(
		"gateway.breaker.calls",
		metric.WithDescription("Downstream calls by breaker outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.breakerLatency, err = meter.Float64Histogram(
		"gateway.breaker.call.duration",
		metric.WithDescription("Latency of downstream calls made through a breaker in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.breakerTransitions, err = meter.Int64Counter(
		"gateway.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	if m.rateLimitDecisions, err = meter.Int64Counter(
		"gateway.ratelimit.decisions",
		metric.WithDescription("Rate limit admission decisions"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.authAttempts, err = meter.Int64Counter(
		"gateway.auth.attempts",
		metric.WithDescription("Authentication attempts by outcome"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if states != nil {
		_, err = meter.Int64ObservableGauge(
			"gateway.breaker.state",
			metric.WithDescription("Circuit breaker state: 0 closed, 1 half-open, 2 open"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				for _, s := range states.Snapshot() {
					o.Observe(stateValue(s.State), metric.WithAttributes(attribute.String("service", s.Service)))
				}
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

func stateValue(s breaker.State) int64 {
	switch s {
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (m *GatewayMetrics) OnBreakerEvent(e breaker.Event) {
	ctx := context.Background()
	service := attribute.String("service", e.Service)

	if e.Type.IsTransition() {
		m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
			service,
			attribute.String("from", e.From.String()),
			attribute.String("to", e.To.String()),
		))
		return
	}

	attrs := metric.WithAttributes(service, attribute.String("outcome", string(e.Type)))
	m.breakerCalls.Add(ctx, 1, attrs)
	if e.Type != breaker.EventReject {
		m.breakerLatency.Record(ctx, e.Latency.Seconds(), attrs)
	}
}

func (m *GatewayMetrics) OnRateLimitEvent(e ratelimit.Event) {
	m.rateLimitDecisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("scope", e.Scope),
		attribute.String("allowed", strconv.FormatBool(e.Allowed)),
	))
}

func (m *GatewayMetrics) OnAuthEvent(e auth.Event) {
	m.authAttempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", string(e.Outcome)),
	))
}
