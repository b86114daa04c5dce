package observability

import (
	"context"
	"time"

	"gateway/internal/models"
	"gateway/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("gateway/storage")
	meter := otel.Meter("gateway/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of audit storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of audit storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) SaveEvent(ctx context.Context, ev *models.AuditEvent) error {
	var attrs []attribute.KeyValue
	if ev != nil {
		attrs = append(attrs,
			attribute.String("event.type", string(ev.Type)),
			attribute.String("event.target", ev.Target),
		)
	}
	ctx, span := s.startSpan(ctx, "SaveEvent", attrs...)
	start := time.Now()
	err := s.inner.SaveEvent(ctx, ev)
	s.record(ctx, span, "SaveEvent", start, err)
	return err
}

func (s *InstrumentedStorage) Events(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	ctx, span := s.startSpan(ctx, "Events",
		attribute.String("filter.type", string(filter.Type)),
		attribute.String("filter.target", filter.Target),
		attribute.Int("filter.limit", filter.Limit),
	)
	start := time.Now()
	result, err := s.inner.Events(ctx, filter)
	span.SetAttributes(attribute.Int("result.count", len(result)))
	s.record(ctx, span, "Events", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
