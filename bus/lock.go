package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/petal-labs/relay/core"
)

// lockRetryInterval is how often a blocked writer re-attempts the lock
// while its bounded wait has not expired.
const lockRetryInterval = 25 * time.Millisecond

// fileLock is an advisory, timeout-bounded mutual-exclusion primitive over
// a lock file adjacent to the guarded resource. It serializes writers only;
// readers rely on the append-only invariant instead of locking.
type fileLock struct {
	fl      *flock.Flock
	timeout time.Duration
}

// newFileLock creates a lock for the resource at path, guarded via
// path + ".lock".
func newFileLock(path string, timeout time.Duration) *fileLock {
	return &fileLock{fl: flock.New(path + ".lock"), timeout: timeout}
}

// acquire takes the lock, waiting at most the configured timeout (and no
// longer than ctx allows). On timeout it returns core.ErrLockTimeout and
// the caller must not write.
func (l *fileLock) acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ok, err := l.fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", core.ErrLockTimeout, l.fl.Path())
		}
		return fmt.Errorf("acquire lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrLockTimeout, l.fl.Path())
	}
	return nil
}

// release drops the lock. Safe to call after a failed acquire.
func (l *fileLock) release() error {
	return l.fl.Unlock()
}

// withLock runs fn while holding the lock.
func (l *fileLock) withLock(ctx context.Context, fn func() error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer func() { _ = l.release() }()
	return fn()
}
