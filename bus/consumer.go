package bus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/petal-labs/relay/core"
)

// ConsumeResult summarizes one pull-consumption batch.
type ConsumeResult struct {
	Read      int // partition lines scanned this call
	Delivered int // handlers invoked successfully
	Skipped   int // suppressed by the idempotency tracker
	Failed    int // dead-lettered
}

// Consumer implements queue pull delivery: each (consumer group, event
// type) pair remembers how many partition lines it has processed and
// resumes from there. The offset read-advance cycle is held under a
// per-pair lock for the whole batch, so two processes sharing a group
// serialize instead of double-processing.
type Consumer struct {
	store       Store
	dispatcher  *Dispatcher
	dir         string
	lockTimeout time.Duration
}

// newConsumer creates the offsets directory under the storage root.
func newConsumer(cfg Config, store Store, dispatcher *Dispatcher) (*Consumer, error) {
	dir := filepath.Join(cfg.Dir, "offsets")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("consumer: create offsets dir: %w", err)
	}
	return &Consumer{
		store:       store,
		dispatcher:  dispatcher,
		dir:         dir,
		lockTimeout: cfg.LockTimeout,
	}, nil
}

// offsetPath resolves the single-integer offset file for a (group, type)
// pair. Group names are flattened so they cannot escape the offsets dir.
func (c *Consumer) offsetPath(group, eventType string) string {
	safe := strings.ReplaceAll(group, string(os.PathSeparator), "_")
	return filepath.Join(c.dir, safe+"__"+eventType+".offset")
}

// Consume reads partition lines strictly after the stored offset for
// (group, type), delivering each through the same idempotency and
// dead-letter branching as broadcast dispatch. The offset then advances
// by the number of lines read, not the number of deliveries, so already
// scanned lines are never re-read even when skipped.
func (c *Consumer) Consume(ctx context.Context, eventType string, handler core.Handler, group string) (ConsumeResult, error) {
	if !ValidType(eventType) {
		return ConsumeResult{}, core.Validationf("type", "%q does not match system.component.event_name", eventType)
	}
	if group == "" {
		return ConsumeResult{}, core.Validationf("consumer_group", "must not be empty")
	}

	var res ConsumeResult
	path := c.offsetPath(group, eventType)
	lock := newFileLock(path, c.lockTimeout)
	err := lock.withLock(ctx, func() error {
		offset, err := readOffset(path)
		if err != nil {
			return err
		}

		envs, err := c.store.ReadFrom(ctx, eventType, offset+1)
		if err != nil {
			return err
		}
		res.Read = len(envs)
		if len(envs) == 0 {
			return nil
		}

		consumerID := handler.ConsumerID()
		d := c.dispatcher
		for _, env := range envs {
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
			herr := d.deliver(ctx, handler, env)
			elapsed := time.Since(start)

			if herr != nil {
				res.Failed++
				d.observer.DeliveryFailed(ctx, env, handler, elapsed)
				entry := core.DeadLetterEntry{
					Time:        time.Now().UTC(),
					EventType:   env.Type,
					Handler:     handler,
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
			d.observer.Delivered(ctx, env, handler, elapsed)
			if err := d.tracker.MarkSeen(ctx, consumerID, env.ID); err != nil {
				d.log.Warn("mark seen failed; event may be redelivered",
					"consumer", consumerID, "event_id", env.ID, "error", err)
			}
		}

		// Advance by lines read so repeated calls never re-scan,
		// even when every line was an idempotent skip.
		return writeOffset(path, offset+res.Read)
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	return res, nil
}

// Offset returns the stored offset for a (group, type) pair, 0 if absent.
func (c *Consumer) Offset(group, eventType string) (int, error) {
	return readOffset(c.offsetPath(group, eventType))
}

// Offsets lists every stored (group, type) offset, keyed "group/type".
func (c *Consumer) Offsets() (map[string]int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("consumer: list offsets: %w", err)
	}
	out := make(map[string]int)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".offset") {
			continue
		}
		key := strings.TrimSuffix(name, ".offset")
		group, eventType, ok := strings.Cut(key, "__")
		if !ok {
			continue
		}
		n, err := readOffset(filepath.Join(c.dir, name))
		if err != nil {
			return nil, err
		}
		out[group+"/"+eventType] = n
	}
	return out, nil
}

// readOffset parses the single integer in an offset file; missing reads
// as 0.
func readOffset(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("consumer: read offset %s: %w", path, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("consumer: offset file %s is corrupt: %q", path, strings.TrimSpace(string(raw)))
	}
	return n, nil
}

// writeOffset publishes the new offset atomically.
func writeOffset(path string, n int) error {
	return rewriteLines(path, func(w *bufio.Writer) error {
		_, err := w.WriteString(strconv.Itoa(n) + "\n")
		return err
	})
}
