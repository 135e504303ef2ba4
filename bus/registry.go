package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/petal-labs/relay/core"
)

// registryEntry is the persisted shape of one handler binding in the
// registry document.
type registryEntry struct {
	Handler       core.Handler      `json:"handler"`
	Mode          core.DeliveryMode `json:"mode"`
	ConsumerGroup string            `json:"consumer_group,omitempty"`
}

// Registry maps event types to their registered handlers, persisted as a
// single JSON document. Mutations are lock-guarded read-modify-write;
// reads parse whatever document the last writer published.
type Registry struct {
	path        string
	lockTimeout time.Duration
}

// NewRegistry returns a registry backed by cfg.RegistryPath.
func NewRegistry(cfg Config) *Registry {
	return &Registry{path: cfg.RegistryPath, lockTimeout: cfg.LockTimeout}
}

// Register upserts a handler binding for the event type, de-duplicated by
// handler reference. Re-registering an existing handler updates its mode
// and consumer group in place.
func (r *Registry) Register(ctx context.Context, reg core.Registration) error {
	if !ValidType(reg.Type) {
		return core.Validationf("type", "%q does not match system.component.event_name", reg.Type)
	}
	if !reg.Mode.Valid() {
		return core.Validationf("mode", "%q is not broadcast or queue", reg.Mode)
	}
	if reg.Mode == core.DeliveryQueue && reg.ConsumerGroup == "" {
		return core.Validationf("consumer_group", "required for queue delivery")
	}

	lock := newFileLock(r.path, r.lockTimeout)
	return lock.withLock(ctx, func() error {
		doc, err := r.load()
		if err != nil {
			return err
		}
		entries := doc[reg.Type]
		entry := registryEntry{Handler: reg.Handler, Mode: reg.Mode, ConsumerGroup: reg.ConsumerGroup}
		replaced := false
		for i, e := range entries {
			if e.Handler == reg.Handler {
				entries[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, entry)
		}
		doc[reg.Type] = entries
		return r.save(doc)
	})
}

// Unregister removes every binding of the handler for the event type.
func (r *Registry) Unregister(ctx context.Context, eventType string, handler core.Handler) error {
	lock := newFileLock(r.path, r.lockTimeout)
	return lock.withLock(ctx, func() error {
		doc, err := r.load()
		if err != nil {
			return err
		}
		entries := doc[eventType]
		kept := entries[:0]
		for _, e := range entries {
			if e.Handler != handler {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(doc, eventType)
		} else {
			doc[eventType] = kept
		}
		return r.save(doc)
	})
}

// Handlers returns the registrations for an event type, optionally
// restricted to one delivery mode (empty mode matches both).
func (r *Registry) Handlers(_ context.Context, eventType string, mode core.DeliveryMode) ([]core.Registration, error) {
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	var out []core.Registration
	for _, e := range doc[eventType] {
		if mode != "" && e.Mode != mode {
			continue
		}
		out = append(out, core.Registration{
			Type:          eventType,
			Handler:       e.Handler,
			Mode:          e.Mode,
			ConsumerGroup: e.ConsumerGroup,
		})
	}
	return out, nil
}

// All returns every registration, sorted by event type.
func (r *Registry) All(_ context.Context) ([]core.Registration, error) {
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(doc))
	for t := range doc {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []core.Registration
	for _, t := range types {
		for _, e := range doc[t] {
			out = append(out, core.Registration{
				Type:          t,
				Handler:       e.Handler,
				Mode:          e.Mode,
				ConsumerGroup: e.ConsumerGroup,
			})
		}
	}
	return out, nil
}

// load parses the registry document. A missing file is an empty registry;
// an unparsable one is core.ErrRegistryCorrupt, surfaced rather than
// treated as empty so registrations are never silently dropped.
func (r *Registry) load() (map[string][]registryEntry, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string][]registryEntry), nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", r.path, err)
	}
	doc := make(map[string][]registryEntry)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrRegistryCorrupt, r.path, err)
	}
	return doc, nil
}

// save publishes the document atomically via temp file + rename.
func (r *Registry) save(doc map[string][]registryEntry) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	return rewriteLines(r.path, func(w *bufio.Writer) error {
		_, err := w.Write(append(raw, '\n'))
		return err
	})
}
