package bus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Tracker is the idempotency tracker: per consumer identity, an
// append-only list of event ids already delivered. Lookup is exact-match
// only; event ids are never treated as prefixes of one another.
//
// The list is bounded: past seenLimit the oldest half is discarded, so
// the tracker is a bounded approximation of "seen". Duplicate delivery
// after pruning is an accepted trade-off; handlers are expected to be
// idempotent by convention.
type Tracker struct {
	dir         string
	limit       int
	lockTimeout time.Duration
}

// NewTracker creates the tracker's directory under the storage root.
func NewTracker(cfg Config) (*Tracker, error) {
	dir := filepath.Join(cfg.Dir, "seen")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tracker: create dir: %w", err)
	}
	return &Tracker{dir: dir, limit: cfg.SeenLimit, lockTimeout: cfg.LockTimeout}, nil
}

func (t *Tracker) path(consumerID string) string {
	return filepath.Join(t.dir, consumerID+".ids")
}

// HasSeen reports whether eventID was already delivered to the consumer.
// Reads do not lock; a concurrent MarkSeen appends a whole line at once.
func (t *Tracker) HasSeen(_ context.Context, consumerID, eventID string) (bool, error) {
	f, err := os.Open(t.path(consumerID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("tracker: open seen set: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if sc.Text() == eventID {
			return true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("tracker: scan seen set: %w", err)
	}
	return false, nil
}

// MarkSeen appends eventID to the consumer's seen set under its lock,
// pruning the oldest half once the set exceeds the configured bound.
func (t *Tracker) MarkSeen(ctx context.Context, consumerID, eventID string) error {
	path := t.path(consumerID)
	lock := newFileLock(path, t.lockTimeout)
	return lock.withLock(ctx, func() error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("tracker: open seen set: %w", err)
		}
		if _, err := f.WriteString(eventID + "\n"); err != nil {
			f.Close()
			return fmt.Errorf("tracker: mark seen: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("tracker: close seen set: %w", err)
		}

		ids, err := readLines(path)
		if err != nil {
			return fmt.Errorf("tracker: read seen set: %w", err)
		}
		if len(ids) <= t.limit {
			return nil
		}
		kept := ids[len(ids)/2:]
		return rewriteLines(path, func(w *bufio.Writer) error {
			for _, id := range kept {
				if _, err := w.WriteString(id + "\n"); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// readLines returns all lines of a file; a missing file reads as empty.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
