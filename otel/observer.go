package otel

import (
	"context"
	"time"

	"github.com/petal-labs/relay/core"
)

// Observer is the subset of bus.Observer this package implements,
// declared locally so the otel package never imports the bus back.
type Observer interface {
	EventEmitted(ctx context.Context, env core.Envelope)
	Delivered(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration)
	DeliveryFailed(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration)
	DeadLettered(ctx context.Context, entry core.DeadLetterEntry)
}

// MultiObserver fans notifications out to several observers, letting the
// bus carry metrics and tracing at once.
type MultiObserver []Observer

// NewMultiObserver combines observers; nil entries are dropped.
func NewMultiObserver(obs ...Observer) MultiObserver {
	var m MultiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m MultiObserver) EventEmitted(ctx context.Context, env core.Envelope) {
	for _, o := range m {
		o.EventEmitted(ctx, env)
	}
}

func (m MultiObserver) Delivered(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration) {
	for _, o := range m {
		o.Delivered(ctx, env, handler, elapsed)
	}
}

func (m MultiObserver) DeliveryFailed(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration) {
	for _, o := range m {
		o.DeliveryFailed(ctx, env, handler, elapsed)
	}
}

func (m MultiObserver) DeadLettered(ctx context.Context, entry core.DeadLetterEntry) {
	for _, o := range m {
		o.DeadLettered(ctx, entry)
	}
}
