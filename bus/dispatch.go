package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/petal-labs/relay/core"
)

// CallbackFunc is an in-process handler invoked with the full envelope.
type CallbackFunc func(ctx context.Context, env core.Envelope) error

// exitCodeUnresolved marks deliveries that failed before the handler ran
// (unknown callback id, missing script, spawn failure, timeout).
const exitCodeUnresolved = -1

// Observer receives delivery lifecycle notifications. Implementations
// must be cheap; they run inline with dispatch.
type Observer interface {
	EventEmitted(ctx context.Context, env core.Envelope)
	Delivered(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration)
	DeliveryFailed(ctx context.Context, env core.Envelope, handler core.Handler, elapsed time.Duration)
	DeadLettered(ctx context.Context, entry core.DeadLetterEntry)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) EventEmitted(context.Context, core.Envelope)                                {}
func (NopObserver) Delivered(context.Context, core.Envelope, core.Handler, time.Duration)      {}
func (NopObserver) DeliveryFailed(context.Context, core.Envelope, core.Handler, time.Duration) {}
func (NopObserver) DeadLettered(context.Context, core.DeadLetterEntry)                         {}

// DispatchResult summarizes one broadcast fan-out.
type DispatchResult struct {
	Delivered int // handlers invoked successfully
	Skipped   int // suppressed by the idempotency tracker
	Failed    int // dead-lettered
}

// Dispatcher implements broadcast push delivery: immediately after a
// successful append, every broadcast handler registered for the type is
// invoked synchronously. Failures are isolated per handler and captured
// to the dead-letter sink; they never propagate to the producer.
type Dispatcher struct {
	registry  *Registry
	tracker   *Tracker
	sink      *Sink
	callbacks map[string]CallbackFunc
	timeout   time.Duration
	stderrCap int
	log       *slog.Logger
	observer  Observer
}

// Dispatch fans the envelope out to all broadcast handlers for its type.
// The only errors returned are infrastructure errors reading the
// registry; handler failures surface through the dead-letter sink.
func (d *Dispatcher) Dispatch(ctx context.Context, env core.Envelope) (DispatchResult, error) {
	regs, err := d.registry.Handlers(ctx, env.Type, core.DeliveryBroadcast)
	if err != nil {
		return DispatchResult{}, err
	}

	var res DispatchResult
	for _, reg := range regs {
		consumerID := reg.Handler.ConsumerID()
		seen, err := d.tracker.HasSeen(ctx, consumerID, env.ID)
		if err != nil {
			d.log.Warn("idempotency lookup failed, delivering anyway",
				"consumer", consumerID, "event_id", env.ID, "error", err)
		}
		if seen {
			res.Skipped++
			continue
		}

		start := time.Now()
		herr := d.deliver(ctx, reg.Handler, env)
		elapsed := time.Since(start)

		if herr != nil {
			res.Failed++
			d.observer.DeliveryFailed(ctx, env, reg.Handler, elapsed)
			entry := core.DeadLetterEntry{
				Time:        time.Now().UTC(),
				EventType:   env.Type,
				Handler:     reg.Handler,
				ExitCode:    herr.ExitCode,
				ErrorOutput: herr.Stderr,
				Envelope:    env,
				RetryCount:  0,
			}
			d.sink.recordBestEffort(ctx, entry)
			d.observer.DeadLettered(ctx, entry)
			continue
		}

		res.Delivered++
		d.observer.Delivered(ctx, env, reg.Handler, elapsed)
		if err := d.tracker.MarkSeen(ctx, consumerID, env.ID); err != nil {
			d.log.Warn("mark seen failed; event may be redelivered",
				"consumer", consumerID, "event_id", env.ID, "error", err)
		}
	}
	return res, nil
}

// deliver invokes one handler under the per-handler timeout and converts
// any failure into a HandlerError carrying exit status and bounded
// diagnostic output.
func (d *Dispatcher) deliver(ctx context.Context, handler core.Handler, env core.Envelope) *core.HandlerError {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	switch handler.Kind {
	case core.HandlerScript:
		return d.runScript(ctx, handler, env)
	case core.HandlerCallback:
		return d.runCallback(ctx, handler, env)
	default:
		return &core.HandlerError{
			Handler:  handler,
			ExitCode: exitCodeUnresolved,
			Stderr:   fmt.Sprintf("unknown handler kind %q", handler.Kind),
		}
	}
}

// runScript executes the handler with the envelope JSON on stdin and
// RELAY_EVENT_* variables in its environment. Stderr is captured up to
// the configured bound, separately from stdout.
func (d *Dispatcher) runScript(ctx context.Context, handler core.Handler, env core.Envelope) *core.HandlerError {
	payload, err := json.Marshal(env)
	if err != nil {
		return &core.HandlerError{Handler: handler, ExitCode: exitCodeUnresolved, Stderr: err.Error(), Cause: err}
	}

	cmd := exec.CommandContext(ctx, handler.Ref)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr cappedBuffer
	stderr.cap = d.stderrCap
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(),
		"RELAY_EVENT_ID="+env.ID,
		"RELAY_EVENT_TYPE="+env.Type,
		"RELAY_EVENT_SOURCE="+env.Source,
	)

	if err := cmd.Run(); err != nil {
		code := exitCodeUnresolved
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		out := stderr.String()
		if out == "" {
			out = err.Error()
		}
		return &core.HandlerError{Handler: handler, ExitCode: code, Stderr: out, Cause: err}
	}
	return nil
}

// runCallback resolves and invokes a registered in-process callback.
func (d *Dispatcher) runCallback(ctx context.Context, handler core.Handler, env core.Envelope) *core.HandlerError {
	fn, ok := d.callbacks[handler.Ref]
	if !ok {
		return &core.HandlerError{
			Handler:  handler,
			ExitCode: exitCodeUnresolved,
			Stderr:   fmt.Sprintf("no callback registered under id %q", handler.Ref),
		}
	}
	if err := fn(ctx, env); err != nil {
		return &core.HandlerError{Handler: handler, ExitCode: 1, Stderr: truncate(err.Error(), d.stderrCap), Cause: err}
	}
	return nil
}

// cappedBuffer keeps at most cap bytes and silently drops the rest.
type cappedBuffer struct {
	buf bytes.Buffer
	cap int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.cap - b.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
