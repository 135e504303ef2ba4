package otel_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/relay/core"
	relayotel "github.com/petal-labs/relay/otel"
)

// newTestTracer returns a tracer whose spans are captured in memory.
func newTestTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, tp
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			return attr.Value.AsString(), true
		}
	}
	return "", false
}

func TestTracingObserver_EmitSpan(t *testing.T) {
	recorder, tp := newTestTracer()
	obs := relayotel.NewTracingObserver(tp.Tracer("test"))

	env := testEnvelope("app.user.created")
	env.CorrelationID = "corr-1"
	obs.EventEmitted(context.Background(), env)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "emit:app.user.created" {
		t.Errorf("span name = %q", span.Name())
	}
	if v, ok := spanAttr(span, "relay.event_id"); !ok || v != "evt-1" {
		t.Errorf("relay.event_id = %q, %v", v, ok)
	}
	if v, ok := spanAttr(span, "relay.correlation_id"); !ok || v != "corr-1" {
		t.Errorf("relay.correlation_id = %q, %v", v, ok)
	}
}

func TestTracingObserver_DeliverySpanCoversElapsed(t *testing.T) {
	recorder, tp := newTestTracer()
	obs := relayotel.NewTracingObserver(tp.Tracer("test"))
	handler := core.ScriptHandler("/opt/hooks/notify.sh")

	obs.Delivered(context.Background(), testEnvelope("app.user.created"), handler, 150*time.Millisecond)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "deliver:app.user.created" {
		t.Errorf("span name = %q", span.Name())
	}
	if v, ok := spanAttr(span, "relay.handler"); !ok || v != handler.String() {
		t.Errorf("relay.handler = %q, %v", v, ok)
	}
	dur := span.EndTime().Sub(span.StartTime())
	if dur < 140*time.Millisecond || dur > 200*time.Millisecond {
		t.Errorf("span duration = %v, want about 150ms", dur)
	}
	if span.Status().Code == codes.Error {
		t.Error("successful delivery marked as error")
	}
}

func TestTracingObserver_FailedDeliverySetsErrorStatus(t *testing.T) {
	recorder, tp := newTestTracer()
	obs := relayotel.NewTracingObserver(tp.Tracer("test"))

	obs.DeliveryFailed(context.Background(), testEnvelope("app.order.placed"), core.ScriptHandler("/opt/hooks/broken.sh"), 10*time.Millisecond)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
}

func TestTracingObserver_DeadLetterSpan(t *testing.T) {
	recorder, tp := newTestTracer()
	obs := relayotel.NewTracingObserver(tp.Tracer("test"))

	env := testEnvelope("app.order.placed")
	obs.DeadLettered(context.Background(), core.DeadLetterEntry{
		Time:      time.Now().UTC(),
		EventType: env.Type,
		Handler:   core.ScriptHandler("/opt/hooks/broken.sh"),
		ExitCode:  3,
		Envelope:  env,
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "deadletter:app.order.placed" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if v, ok := spanAttr(spans[0], "relay.event_id"); !ok || v != "evt-1" {
		t.Errorf("relay.event_id = %q, %v", v, ok)
	}
}

func TestMultiObserver_FansOut(t *testing.T) {
	recorder, tp := newTestTracer()
	tracing := relayotel.NewTracingObserver(tp.Tracer("test"))

	reader, mp := newTestMeter()
	metrics, err := relayotel.NewMetricsObserver(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsObserver: %v", err)
	}

	multi := relayotel.NewMultiObserver(tracing, metrics)
	multi.EventEmitted(context.Background(), testEnvelope("app.user.created"))

	if got := len(recorder.Ended()); got != 1 {
		t.Errorf("got %d spans, want 1", got)
	}
	rm := collectMetrics(t, reader)
	if findMetric(rm, "relay.events.emitted") == nil {
		t.Error("relay.events.emitted metric not found")
	}
}
