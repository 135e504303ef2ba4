// Package otel provides OpenTelemetry integration for the Relay bus.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/relay/core"
)

// MetricsObserver translates bus delivery notifications into OpenTelemetry
// metrics. It implements bus.Observer.
type MetricsObserver struct {
	emitted     metric.Int64Counter
	deliveries  metric.Int64Counter
	failures    metric.Int64Counter
	deadLetters metric.Int64Counter
	handlerTime metric.Float64Histogram
}

// NewMetricsObserver creates instruments on the given meter.
func NewMetricsObserver(meter metric.Meter) (*MetricsObserver, error) {
	emitted, err := meter.Int64Counter("relay.events.emitted",
		metric.WithDescription("Number of events appended to partitions"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("relay.deliveries",
		metric.WithDescription("Number of successful handler deliveries"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("relay.delivery.failures",
		metric.WithDescription("Number of failed handler deliveries"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("relay.deadletter.entries",
		metric.WithDescription("Number of entries written to the dead-letter sink"),
	)
	if err != nil {
		return nil, err
	}

	handlerTime, err := meter.Float64Histogram("relay.handler.duration",
		metric.WithDescription("Duration of handler invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsObserver{
		emitted:     emitted,
		deliveries:  deliveries,
		failures:    failures,
		deadLetters: deadLetters,
		handlerTime: handlerTime,
	}, nil
}

func (m *MetricsObserver) EventEmitted(ctx context.Context, env core.Envelope) {
	m.emitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", env.Type),
		attribute.String("source", env.Source),
	))
}

func (m *MetricsObserver) Delivered(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", env.Type),
		attribute.String("handler", handler.String()),
	)
	m.deliveries.Add(ctx, 1, attrs)
	m.handlerTime.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *MetricsObserver) DeliveryFailed(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", env.Type),
		attribute.String("handler", handler.String()),
	)
	m.failures.Add(ctx, 1, attrs)
	m.handlerTime.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *MetricsObserver) DeadLettered(ctx context.Context, entry core.DeadLetterEntry) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", entry.EventType),
		attribute.String("handler", entry.Handler.String()),
	))
}
