package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/petal-labs/relay/core"
)

// Store is the append-log behind the bus. One partition per event type,
// strictly append-only; lines are removed only by time-based compaction.
// Implementations must guarantee that concurrent Append calls never
// interleave partial records and that readers always observe a valid
// prefix of the partition.
type Store interface {
	// Append adds one envelope to the partition for its type, creating
	// the partition on first use. On core.ErrLockTimeout no partial
	// write has occurred.
	Append(ctx context.Context, env core.Envelope) error

	// ReadFrom returns envelopes in partition order starting at
	// startLine (1-indexed). Passing the same startLine again re-reads
	// the same suffix.
	ReadFrom(ctx context.Context, eventType string, startLine int) ([]core.Envelope, error)

	// Partitions lists the event types with at least one stored event.
	Partitions(ctx context.Context) ([]string, error)

	// Count returns the number of lines in a partition (0 if absent).
	Count(ctx context.Context, eventType string) (int, error)

	// Compact removes envelopes older than cutoff from the partition,
	// preserving the relative order of the remainder. Returns the
	// number of envelopes removed.
	Compact(ctx context.Context, eventType string, cutoff time.Time) (int, error)

	// Query scans one or all partitions applying the filter
	// conjunctively. Filter values are opaque data, never interpreted
	// as expression syntax.
	Query(ctx context.Context, f Filter) ([]core.Envelope, error)

	// Close releases any resources held by the store.
	Close() error
}

// OpenStore constructs the Store selected by cfg.Backend.
func OpenStore(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFile:
		return NewFileStore(cfg)
	case BackendSQLite:
		return NewSQLiteStore(cfg)
	case BackendMemory:
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", core.ErrUnavailable, cfg.Backend)
	}
}
