package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/relay/core"
)

const partitionSuffix = ".events.jsonl"

// maxLineBytes bounds a single partition line on read: the payload limit
// plus generous envelope overhead.
const maxLineBytes = 1 << 20

// FileStore keeps one append-only JSON-lines file per event type under a
// root directory. Writers serialize on a per-partition advisory lock;
// readers never lock and rely on the append-only invariant, observing a
// stale-but-consistent prefix at worst.
type FileStore struct {
	dir         string
	lockTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*fileLock
}

// NewFileStore creates the storage root if needed and returns a FileStore.
func NewFileStore(cfg Config) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: storage directory not configured", core.ErrUnavailable)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create storage root: %v", core.ErrUnavailable, err)
	}
	return &FileStore{
		dir:         cfg.Dir,
		lockTimeout: cfg.LockTimeout,
		locks:       make(map[string]*fileLock),
	}, nil
}

// partitionPath resolves the file for an event type. Types are validated
// at build time, so the name never contains path separators.
func (s *FileStore) partitionPath(eventType string) string {
	return filepath.Join(s.dir, eventType+partitionSuffix)
}

// partitionLock returns the process-local lock handle for a partition.
// The flock underneath coordinates across processes; the map only avoids
// allocating a handle per call.
func (s *FileStore) partitionLock(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = newFileLock(path, s.lockTimeout)
		s.locks[path] = l
	}
	return l
}

// Append writes one envelope as a single compact line under the partition
// lock. The write is one syscall, so concurrent readers see the whole line
// or nothing.
func (s *FileStore) Append(ctx context.Context, env core.Envelope) error {
	line, err := encodeLine(env)
	if err != nil {
		return fmt.Errorf("filestore: encode envelope: %w", err)
	}

	path := s.partitionPath(env.Type)
	return s.partitionLock(path).withLock(ctx, func() error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("filestore: open partition: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("filestore: append: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("filestore: sync: %w", err)
		}
		return nil
	})
}

// ReadFrom returns envelopes in file order starting at startLine
// (1-indexed). A missing partition reads as empty.
func (s *FileStore) ReadFrom(ctx context.Context, eventType string, startLine int) ([]core.Envelope, error) {
	if startLine < 1 {
		startLine = 1
	}
	var out []core.Envelope
	err := s.scanPartition(ctx, eventType, func(lineNo int, env core.Envelope) bool {
		if lineNo >= startLine {
			out = append(out, env)
		}
		return true
	})
	return out, err
}

// Partitions lists event types with an existing partition file, sorted.
func (s *FileStore) Partitions(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: list partitions: %w", err)
	}
	var types []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), partitionSuffix) {
			continue
		}
		types = append(types, strings.TrimSuffix(e.Name(), partitionSuffix))
	}
	sort.Strings(types)
	return types, nil
}

// Count returns the number of lines in a partition, 0 if it does not exist.
func (s *FileStore) Count(ctx context.Context, eventType string) (int, error) {
	n := 0
	err := s.scanPartition(ctx, eventType, func(int, core.Envelope) bool {
		n++
		return true
	})
	return n, err
}

// Compact rewrites the partition keeping only envelopes with
// Time >= cutoff, preserving their relative order. The rewrite goes
// through a temp file and a rename, all under the partition lock, so
// readers never observe a half-written partition.
func (s *FileStore) Compact(ctx context.Context, eventType string, cutoff time.Time) (int, error) {
	path := s.partitionPath(eventType)
	removed := 0
	err := s.partitionLock(path).withLock(ctx, func() error {
		envs, err := s.readAll(path)
		if err != nil {
			return err
		}
		var kept []core.Envelope
		for _, env := range envs {
			if env.Time.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, env)
		}
		if removed == 0 {
			return nil
		}
		return rewriteLines(path, func(w *bufio.Writer) error {
			for _, env := range kept {
				line, err := encodeLine(env)
				if err != nil {
					return err
				}
				if _, err := w.Write(line); err != nil {
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

// Query scans one partition, or all of them in sorted partition order when
// the filter has no type. Output within each partition is file order.
func (s *FileStore) Query(ctx context.Context, f Filter) ([]core.Envelope, error) {
	types := []string{f.Type}
	if f.Type == "" {
		var err error
		types, err = s.Partitions(ctx)
		if err != nil {
			return nil, err
		}
	}

	var out []core.Envelope
	for _, t := range types {
		full := false
		err := s.scanPartition(ctx, t, func(_ int, env core.Envelope) bool {
			if !f.matches(env) {
				return true
			}
			out = append(out, env)
			if f.Limit > 0 && len(out) >= f.Limit {
				full = true
				return false
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if full {
			break
		}
	}
	return out, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// scanPartition streams a partition line by line without locking. visit
// returns false to stop early.
func (s *FileStore) scanPartition(ctx context.Context, eventType string, visit func(lineNo int, env core.Envelope) bool) error {
	f, err := os.Open(s.partitionPath(eventType))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("filestore: open partition: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		var env core.Envelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			return fmt.Errorf("filestore: partition %s line %d: %w", eventType, lineNo, err)
		}
		if !visit(lineNo, env) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("filestore: scan partition %s: %w", eventType, err)
	}
	return nil
}

// readAll loads every envelope from a partition file. Caller holds the
// partition lock when the result feeds a rewrite.
func (s *FileStore) readAll(path string) ([]core.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: open partition: %w", err)
	}
	defer f.Close()

	var out []core.Envelope
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		var env core.Envelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			return nil, fmt.Errorf("filestore: parse %s: %w", path, err)
		}
		out = append(out, env)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("filestore: scan %s: %w", path, err)
	}
	return out, nil
}

// rewriteLines atomically replaces path with content produced by produce,
// via a temp file in the same directory and a rename.
func rewriteLines(path string, produce func(w *bufio.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := produce(w); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: rewrite: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("filestore: replace partition: %w", err)
	}
	return nil
}
