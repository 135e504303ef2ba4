package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/petal-labs/relay/core"
)

// Sink is the dead-letter sink: a lock-guarded append-only JSON-lines log
// of failed delivery attempts. Writes are best-effort from the caller's
// point of view; dispatch logs a failed sink write and keeps going.
type Sink struct {
	path        string
	lockTimeout time.Duration
	log         *slog.Logger
}

// NewSink returns a sink writing to cfg.DeadLetterPath.
func NewSink(cfg Config, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{path: cfg.DeadLetterPath, lockTimeout: cfg.LockTimeout, log: log}
}

// Record appends one dead-letter entry under the sink lock.
func (s *Sink) Record(ctx context.Context, entry core.DeadLetterEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry: %w", err)
	}
	lock := newFileLock(s.path, s.lockTimeout)
	return lock.withLock(ctx, func() error {
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("deadletter: open sink: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(raw, '\n')); err != nil {
			return fmt.Errorf("deadletter: append: %w", err)
		}
		return f.Sync()
	})
}

// recordBestEffort records the entry and logs instead of failing; a dead
// sink must never crash dispatch.
func (s *Sink) recordBestEffort(ctx context.Context, entry core.DeadLetterEntry) {
	if err := s.Record(ctx, entry); err != nil {
		s.log.Error("dead-letter write failed",
			"event_id", entry.Envelope.ID,
			"handler", entry.Handler.String(),
			"error", err)
	}
}

// List returns every dead-letter entry in file order.
func (s *Sink) List(ctx context.Context) ([]core.DeadLetterEntry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("deadletter: open sink: %w", err)
	}
	defer f.Close()

	var out []core.DeadLetterEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNo++
		var entry core.DeadLetterEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("deadletter: line %d: %w", lineNo, err)
		}
		out = append(out, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("deadletter: scan sink: %w", err)
	}
	return out, nil
}

// Compact removes entries older than cutoff, preserving the relative
// order of the remainder. Returns the number of entries removed.
func (s *Sink) Compact(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	lock := newFileLock(s.path, s.lockTimeout)
	err := lock.withLock(ctx, func() error {
		entries, err := s.List(ctx)
		if err != nil {
			return err
		}
		var kept []core.DeadLetterEntry
		for _, e := range entries {
			if e.Time.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if removed == 0 {
			return nil
		}
		return rewriteLines(s.path, func(w *bufio.Writer) error {
			for _, e := range kept {
				raw, err := json.Marshal(e)
				if err != nil {
					return err
				}
				if _, err := w.Write(append(raw, '\n')); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
