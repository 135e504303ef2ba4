package bus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petal-labs/relay/core"
)

// MemStore is a thread-safe in-memory Store, used by tests and by
// embedders that want bus semantics without touching disk.
type MemStore struct {
	mu         sync.RWMutex
	partitions map[string][]core.Envelope // type -> envelopes in append order
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{partitions: make(map[string][]core.Envelope)}
}

func (s *MemStore) Append(_ context.Context, env core.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[env.Type] = append(s.partitions[env.Type], env)
	return nil
}

func (s *MemStore) ReadFrom(_ context.Context, eventType string, startLine int) ([]core.Envelope, error) {
	if startLine < 1 {
		startLine = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.partitions[eventType]
	if startLine > len(all) {
		return nil, nil
	}
	out := make([]core.Envelope, len(all)-startLine+1)
	copy(out, all[startLine-1:])
	return out, nil
}

func (s *MemStore) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var types []string
	for t, envs := range s.partitions {
		if len(envs) > 0 {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types, nil
}

func (s *MemStore) Count(_ context.Context, eventType string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[eventType]), nil
}

func (s *MemStore) Compact(_ context.Context, eventType string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.partitions[eventType]
	var kept []core.Envelope
	for _, env := range all {
		if !env.Time.Before(cutoff) {
			kept = append(kept, env)
		}
	}
	removed := len(all) - len(kept)
	if removed > 0 {
		s.partitions[eventType] = kept
	}
	return removed, nil
}

func (s *MemStore) Query(ctx context.Context, f Filter) ([]core.Envelope, error) {
	types := []string{f.Type}
	if f.Type == "" {
		var err error
		types, err = s.Partitions(ctx)
		if err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Envelope
	for _, t := range types {
		for _, env := range s.partitions[t] {
			if !f.matches(env) {
				continue
			}
			out = append(out, env)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }
