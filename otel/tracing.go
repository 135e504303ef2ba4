package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/relay/core"
)

// TracingObserver translates bus delivery notifications into OpenTelemetry
// spans: one span per emission and one per handler delivery, timestamped
// from the measured invocation window. It implements bus.Observer.
type TracingObserver struct {
	tracer trace.Tracer
}

// NewTracingObserver creates a TracingObserver on the given tracer.
func NewTracingObserver(tracer trace.Tracer) *TracingObserver {
	return &TracingObserver{tracer: tracer}
}

func (t *TracingObserver) EventEmitted(ctx context.Context, env core.Envelope) {
	_, span := t.tracer.Start(ctx, "emit:"+env.Type,
		trace.WithAttributes(envelopeAttrs(env)...),
	)
	span.End()
}

func (t *TracingObserver) Delivered(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration) {
	t.deliverySpan(ctx, env, handler, elapsed, nil)
}

func (t *TracingObserver) DeliveryFailed(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration) {
	t.deliverySpan(ctx, env, handler, elapsed, &failedStatus)
}

func (t *TracingObserver) DeadLettered(ctx context.Context, entry core.DeadLetterEntry) {
	_, span := t.tracer.Start(ctx, "deadletter:"+entry.EventType,
		trace.WithAttributes(
			attribute.String("relay.event_id", entry.Envelope.ID),
			attribute.String("relay.handler", entry.Handler.String()),
			attribute.Int("relay.exit_code", entry.ExitCode),
		),
	)
	span.End()
}

var failedStatus = codes.Error

// deliverySpan records a span covering the measured handler invocation.
func (t *TracingObserver) deliverySpan(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration, status *codes.Code) {
	end := time.Now()
	start := end.Add(-elapsed)

	_, span := t.tracer.Start(ctx, "deliver:"+env.Type,
		trace.WithTimestamp(start),
		trace.WithAttributes(append(envelopeAttrs(env),
			attribute.String("relay.handler", handler.String()),
		)...),
	)
	if status != nil {
		span.SetStatus(*status, "handler failed")
	}
	span.End(trace.WithTimestamp(end))
}

func envelopeAttrs(env core.Envelope) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("relay.event_id", env.ID),
		attribute.String("relay.event_type", env.Type),
		attribute.String("relay.source", env.Source),
	}
	if env.CorrelationID != "" {
		attrs = append(attrs, attribute.String("relay.correlation_id", env.CorrelationID))
	}
	return attrs
}
