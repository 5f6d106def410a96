package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const defaultLockRetryInterval = 50 * time.Millisecond

// WriterLock is an advisory, cross-process file lock enforcing the
// single-writer-database-session invariant of spec §5: only one OS
// process may hold the write lock for a given ledger database at a time.
// Readers do not need it — SQLite's own locking protocol arbitrates
// concurrent readers against the writer.
type WriterLock struct {
	fl *flock.Flock
}

// NewWriterLock returns a WriterLock guarding path (typically the ledger
// database path plus a ".writer-lock" suffix).
func NewWriterLock(path string) *WriterLock {
	return &WriterLock{fl: flock.New(path)}
}

// Lock blocks until the writer lock is acquired or ctx is done.
func (w *WriterLock) Lock(ctx context.Context) error {
	ok, err := w.fl.TryLockContext(ctx, defaultLockRetryInterval)
	if err != nil {
		return fmt.Errorf("acquire ledger writer lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("acquire ledger writer lock: %w", ctx.Err())
	}
	return nil
}

// Unlock releases the writer lock.
func (w *WriterLock) Unlock() error {
	if err := w.fl.Unlock(); err != nil {
		return fmt.Errorf("release ledger writer lock: %w", err)
	}
	return nil
}
