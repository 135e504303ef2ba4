package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/petal-labs/relay/core"
)

// Bus wires the store, registry, idempotency tracker, dead-letter sink,
// dispatcher and pull consumer behind one facade. Every dependency is
// injected through Config and options; there is no ambient global state.
type Bus struct {
	cfg        Config
	store      Store
	registry   *Registry
	tracker    *Tracker
	sink       *Sink
	dispatcher *Dispatcher
	consumer   *Consumer
	log        *slog.Logger
}

// Option customizes a Bus at construction.
type Option func(*Bus)

// WithLogger sets the slog logger (defaults to slog.Default).
func WithLogger(log *slog.Logger) Option {
	return func(b *Bus) { b.log = log }
}

// WithObserver attaches a delivery observer (metrics, tracing).
func WithObserver(obs Observer) Option {
	return func(b *Bus) {
		if obs != nil {
			b.dispatcher.observer = obs
		}
	}
}

// WithStore injects a custom Store, overriding cfg.Backend.
func WithStore(store Store) Option {
	return func(b *Bus) { b.store = store }
}

// WithCallback registers an in-process handler under a stable id,
// invokable via core.CallbackHandler(id).
func WithCallback(id string, fn CallbackFunc) Option {
	return func(b *Bus) { b.dispatcher.callbacks[id] = fn }
}

// New constructs a Bus from an explicit Config.
func New(cfg Config, opts ...Option) (*Bus, error) {
	cfg = cfg.withDefaults()

	tracker, err := NewTracker(cfg)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		cfg:      cfg,
		registry: NewRegistry(cfg),
		tracker:  tracker,
		log:      slog.Default(),
	}
	b.dispatcher = &Dispatcher{
		registry:  b.registry,
		tracker:   tracker,
		callbacks: make(map[string]CallbackFunc),
		timeout:   cfg.HandlerTimeout,
		stderrCap: cfg.StderrLimit,
		observer:  NopObserver{},
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.store == nil {
		store, err := OpenStore(cfg)
		if err != nil {
			return nil, err
		}
		b.store = store
	}
	b.sink = NewSink(cfg, b.log)
	b.dispatcher.sink = b.sink
	b.dispatcher.log = b.log

	consumer, err := newConsumer(cfg, b.store, b.dispatcher)
	if err != nil {
		return nil, err
	}
	b.consumer = consumer

	return b, nil
}

// Emit validates and builds an envelope, appends it to its partition, and
// synchronously broadcasts it to registered handlers. Handler failures
// never fail the emission; they surface through the dead-letter sink.
func (b *Bus) Emit(ctx context.Context, eventType string, data map[string]any, source string, opts ...EnvelopeOption) (core.Envelope, DispatchResult, error) {
	env, err := BuildEnvelope(eventType, data, source, b.cfg.MaxPayloadBytes, opts...)
	if err != nil {
		return core.Envelope{}, DispatchResult{}, err
	}
	return b.emit(ctx, env)
}

// EmitJSON is Emit with the payload supplied as a raw JSON object.
func (b *Bus) EmitJSON(ctx context.Context, eventType, dataJSON, source string, opts ...EnvelopeOption) (core.Envelope, DispatchResult, error) {
	env, err := BuildEnvelopeJSON(eventType, dataJSON, source, b.cfg.MaxPayloadBytes, opts...)
	if err != nil {
		return core.Envelope{}, DispatchResult{}, err
	}
	return b.emit(ctx, env)
}

func (b *Bus) emit(ctx context.Context, env core.Envelope) (core.Envelope, DispatchResult, error) {
	if err := b.store.Append(ctx, env); err != nil {
		return core.Envelope{}, DispatchResult{}, err
	}
	b.dispatcher.observer.EventEmitted(ctx, env)

	res, err := b.dispatcher.Dispatch(ctx, env)
	if err != nil {
		// The event is durably stored; registry trouble only means
		// broadcast delivery did not happen.
		b.log.Warn("broadcast dispatch failed", "event_id", env.ID, "error", err)
		return env, res, nil
	}
	return env, res, nil
}

// Consume pulls and delivers events for a consumer group. See
// Consumer.Consume.
func (b *Bus) Consume(ctx context.Context, eventType string, handler core.Handler, group string) (ConsumeResult, error) {
	return b.consumer.Consume(ctx, eventType, handler, group)
}

// Query scans stored events with conjunctive filters.
func (b *Bus) Query(ctx context.Context, f Filter) ([]core.Envelope, error) {
	if f.Type != "" && !ValidType(f.Type) {
		return nil, core.Validationf("type", "%q does not match system.component.event_name", f.Type)
	}
	return b.store.Query(ctx, f)
}

// Register upserts a handler binding.
func (b *Bus) Register(ctx context.Context, reg core.Registration) error {
	return b.registry.Register(ctx, reg)
}

// Unregister removes a handler binding.
func (b *Bus) Unregister(ctx context.Context, eventType string, handler core.Handler) error {
	return b.registry.Unregister(ctx, eventType, handler)
}

// Registrations lists every handler binding.
func (b *Bus) Registrations(ctx context.Context) ([]core.Registration, error) {
	return b.registry.All(ctx)
}

// DeadLetters lists the dead-letter sink for operator inspection.
func (b *Bus) DeadLetters(ctx context.Context) ([]core.DeadLetterEntry, error) {
	return b.sink.List(ctx)
}

// Compact prunes every partition down to the retention window. Returns
// the total number of envelopes removed.
func (b *Bus) Compact(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	types, err := b.store.Partitions(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, t := range types {
		n, err := b.store.Compact(ctx, t, cutoff)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CompactDeadLetters prunes the dead-letter sink to the retention window.
func (b *Bus) CompactDeadLetters(ctx context.Context, retention time.Duration) (int, error) {
	return b.sink.Compact(ctx, time.Now().UTC().Add(-retention))
}

// PartitionStatus is one row of Status.
type PartitionStatus struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Status is an operator summary of the bus state.
type Status struct {
	Backend       Backend           `json:"backend"`
	Dir           string            `json:"dir"`
	Partitions    []PartitionStatus `json:"partitions"`
	Registrations int               `json:"registrations"`
	DeadLetters   int               `json:"dead_letters"`
	Offsets       map[string]int    `json:"offsets"`
}

// Status summarizes partitions, registrations, the dead-letter sink and
// consumer offsets.
func (b *Bus) Status(ctx context.Context) (Status, error) {
	st := Status{Backend: b.cfg.Backend, Dir: b.cfg.Dir}

	types, err := b.store.Partitions(ctx)
	if err != nil {
		return Status{}, err
	}
	for _, t := range types {
		n, err := b.store.Count(ctx, t)
		if err != nil {
			return Status{}, err
		}
		st.Partitions = append(st.Partitions, PartitionStatus{Type: t, Count: n})
	}

	regs, err := b.registry.All(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Registrations = len(regs)

	dlq, err := b.sink.List(ctx)
	if err != nil {
		return Status{}, err
	}
	st.DeadLetters = len(dlq)

	offsets, err := b.consumer.Offsets()
	if err != nil {
		return Status{}, err
	}
	st.Offsets = offsets

	return st, nil
}

// Close releases the store.
func (b *Bus) Close() error {
	return b.store.Close()
}
