package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/relay/core"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func testEnvelope(t *testing.T, eventType string, data map[string]any) core.Envelope {
	t.Helper()
	env, err := BuildEnvelope(eventType, data, "app/test", 0)
	if err != nil {
		t.Fatalf("BuildEnvelope: %v", err)
	}
	return env
}

func TestFileStore_AppendReadFrom(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	var want []string
	for i := 1; i <= 5; i++ {
		env := testEnvelope(t, "app.user.created", map[string]any{"n": i})
		want = append(want, env.ID)
		if err := s.Append(ctx, env); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	envs, err := s.ReadFrom(ctx, "app.user.created", 1)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(envs) != 5 {
		t.Fatalf("got %d envelopes, want 5", len(envs))
	}
	for i, env := range envs {
		if env.ID != want[i] {
			t.Errorf("envelope %d id = %q, want %q (append order violated)", i, env.ID, want[i])
		}
	}
}

func TestFileStore_ReadFrom_IsRestartable(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Append(ctx, testEnvelope(t, "app.job.done", nil)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	first, err := s.ReadFrom(ctx, "app.job.done", 8)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	second, err := s.ReadFrom(ctx, "app.job.done", 8)
	if err != nil {
		t.Fatalf("ReadFrom again: %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("got %d and %d envelopes, want 3 and 3", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Error("same start line returned different envelopes")
	}
}

func TestFileStore_ReadFrom_MissingPartition(t *testing.T) {
	s := newTestFileStore(t)
	envs, err := s.ReadFrom(context.Background(), "app.never.emitted", 1)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(envs) != 0 {
		t.Errorf("got %d envelopes from missing partition", len(envs))
	}
}

func TestFileStore_PartitionsAndCount(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, testEnvelope(t, "app.a.one", nil)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Append(ctx, testEnvelope(t, "app.b.two", nil)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	types, err := s.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(types) != 2 || types[0] != "app.a.one" || types[1] != "app.b.two" {
		t.Errorf("Partitions = %v", types)
	}

	n, err := s.Count(ctx, "app.a.one")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

// Four writers, fifty events each: the partition must end up with exactly
// 200 lines, every one of them valid JSON.
func TestFileStore_ConcurrentWriteSafety(t *testing.T) {
	const writers = 4
	const perWriter = 50

	dir := t.TempDir()
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// Each goroutine gets its own store, mimicking
			// independent processes sharing the directory.
			s, err := NewFileStore(DefaultConfig(dir))
			if err != nil {
				errCh <- err
				return
			}
			for i := 0; i < perWriter; i++ {
				env, err := BuildEnvelope("app.load.test", map[string]any{"writer": w, "i": i}, "app/test", 0)
				if err != nil {
					errCh <- err
					return
				}
				if err := s.Append(ctx, env); err != nil {
					errCh <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent append: %v", err)
	}

	// Count and validate raw lines, not just decoded envelopes.
	f, err := os.Open(filepath.Join(dir, "app.load.test"+partitionSuffix))
	if err != nil {
		t.Fatalf("open partition: %v", err)
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
		var env core.Envelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			t.Fatalf("line %d does not parse: %v", lines, err)
		}
		if env.Type != "app.load.test" {
			t.Fatalf("line %d has type %q", lines, env.Type)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if lines != writers*perWriter {
		t.Errorf("got %d lines, want %d", lines, writers*perWriter)
	}
}

func TestFileStore_Compact(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	old := testEnvelope(t, "app.log.rotated", map[string]any{"age": "old"})
	old.Time = time.Now().UTC().Add(-48 * time.Hour)
	recent1 := testEnvelope(t, "app.log.rotated", map[string]any{"age": "recent1"})
	recent2 := testEnvelope(t, "app.log.rotated", map[string]any{"age": "recent2"})
	for _, env := range []core.Envelope{old, recent1, recent2} {
		if err := s.Append(ctx, env); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	removed, err := s.Compact(ctx, "app.log.rotated", cutoff)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	envs, err := s.ReadFrom(ctx, "app.log.rotated", 1)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("got %d envelopes after compaction, want 2", len(envs))
	}
	// Relative order of survivors is unchanged.
	if envs[0].ID != recent1.ID || envs[1].ID != recent2.ID {
		t.Errorf("survivor order changed: %q, %q", envs[0].ID, envs[1].ID)
	}
	for _, env := range envs {
		if env.Time.Before(cutoff) {
			t.Errorf("envelope %s older than cutoff survived", env.ID)
		}
	}
}

func TestFileStore_Compact_NothingToRemove(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, testEnvelope(t, "app.fresh.event", nil)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	removed, err := s.Compact(ctx, "app.fresh.event", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestFileStore_Query_Filters(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	envA, _ := BuildEnvelope("app.user.created", nil, "app/users", 0, WithCorrelationID("chain-1"))
	envB, _ := BuildEnvelope("app.user.created", nil, "app/admin", 0)
	envC, _ := BuildEnvelope("app.order.placed", nil, "app/orders", 0, WithCorrelationID("chain-1"))
	for _, env := range []core.Envelope{envA, envB, envC} {
		if err := s.Append(ctx, env); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	bySource, err := s.Query(ctx, Filter{Source: "app/users"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(bySource) != 1 || bySource[0].ID != envA.ID {
		t.Errorf("source filter returned %v", bySource)
	}

	// Correlation chain across partitions (no type filter).
	chain, err := s.Query(ctx, Filter{CorrelationID: "chain-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(chain) != 2 {
		t.Errorf("correlation filter returned %d envelopes, want 2", len(chain))
	}

	byType, err := s.Query(ctx, Filter{Type: "app.order.placed"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != envC.ID {
		t.Errorf("type filter returned %v", byType)
	}

	limited, err := s.Query(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit filter returned %d envelopes, want 2", len(limited))
	}
}

func TestFileStore_Query_TimeWindow(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	old := testEnvelope(t, "app.metric.sampled", nil)
	old.Time = time.Now().UTC().Add(-2 * time.Hour)
	recent := testEnvelope(t, "app.metric.sampled", nil)
	for _, env := range []core.Envelope{old, recent} {
		if err := s.Append(ctx, env); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Query(ctx, Filter{Since: time.Now().UTC().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Errorf("since filter returned %v", got)
	}

	got, err = s.Query(ctx, Filter{Until: time.Now().UTC().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != old.ID {
		t.Errorf("until filter returned %v", got)
	}
}

func TestFileStore_LockTimeout(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.LockTimeout = 100 * time.Millisecond
	s, err := NewFileStore(cfg)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	env := testEnvelope(t, "app.contended.write", nil)

	// Hold the partition lock from a second handle, as another process
	// would.
	blocker := newFileLock(filepath.Join(dir, "app.contended.write"+partitionSuffix), time.Second)
	if err := blocker.acquire(context.Background()); err != nil {
		t.Fatalf("acquire blocker: %v", err)
	}
	defer blocker.release()

	err = s.Append(context.Background(), env)
	if err == nil {
		t.Fatal("expected lock timeout")
	}
	if !errors.Is(err, core.ErrLockTimeout) {
		t.Fatalf("error %v is not ErrLockTimeout", err)
	}

	// No partial write occurred.
	if _, statErr := os.Stat(filepath.Join(dir, "app.contended.write"+partitionSuffix)); statErr == nil {
		raw, _ := os.ReadFile(filepath.Join(dir, "app.contended.write"+partitionSuffix))
		if len(raw) != 0 {
			t.Errorf("partition has %d bytes after failed append", len(raw))
		}
	}
}
