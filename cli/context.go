package cli

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/relay/bus"
	"github.com/petal-labs/relay/core"
	"github.com/petal-labs/relay/otel"
)

// defaultDir is used when neither --dir nor RELAY_DIR is set.
const defaultDir = ".relay"

// openBus builds a Bus from the persistent flags plus RELAY_* environment
// overrides. The returned cleanup must run before process exit; it closes
// the store and flushes tracing if enabled.
func openBus(cmd *cobra.Command) (*bus.Bus, func(), error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = defaultDir
	}
	cfg := bus.ConfigFromEnv(dir)

	logger := newLogger(cmd)

	opts := []bus.Option{bus.WithLogger(logger)}
	shutdown := func() {}

	if endpoint := otlpEndpoint(cmd); endpoint != "" {
		ctx := cmd.Context()
		tracer, stop, err := otel.SetupTracing(ctx, endpoint, "relay")
		if err != nil {
			return nil, nil, wrapErr(err)
		}
		opts = append(opts, bus.WithObserver(otel.NewTracingObserver(tracer)))
		shutdown = func() { _ = stop(context.Background()) }
	}

	b, err := bus.New(cfg, opts...)
	if err != nil {
		shutdown()
		return nil, nil, wrapErr(err)
	}
	cleanup := func() {
		_ = b.Close()
		shutdown()
	}
	return b, cleanup, nil
}

// newLogger honors --verbose and --quiet, writing to stderr so command
// output on stdout stays parseable.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	if q, _ := cmd.Flags().GetBool("quiet"); q {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func otlpEndpoint(cmd *cobra.Command) string {
	if e, _ := cmd.Flags().GetString("otlp-endpoint"); e != "" {
		return e
	}
	return os.Getenv("RELAY_OTLP_ENDPOINT")
}

// parseHandler turns a CLI handler argument into a tagged Handler.
// "callback:id" names an in-process callback; anything else is a script
// path, with an optional "script:" prefix.
func parseHandler(arg string) core.Handler {
	if rest, ok := strings.CutPrefix(arg, "callback:"); ok {
		return core.CallbackHandler(rest)
	}
	if rest, ok := strings.CutPrefix(arg, "script:"); ok {
		return core.ScriptHandler(rest)
	}
	return core.ScriptHandler(arg)
}
