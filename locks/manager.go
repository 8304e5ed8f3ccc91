// Package locks provides the process-wide commit lock that serializes index and
// capacity commits.
package locks

import (
	"context"
	"time"

	"github.com/ebogdum/cloudfs/metrics"
)

// CommitLock is a mutual-exclusion lock whose acquisition can be abandoned through
// a context. Holders only do in-memory bookkeeping and small renames under it.
type CommitLock struct {
	sem chan struct{}
}

// NewCommitLock creates an unlocked commit lock
func NewCommitLock() *CommitLock {
	return &CommitLock{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is held or ctx is done
func (l *CommitLock) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		metrics.CommitLockWaitSeconds.Observe(time.Since(start).Seconds())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases the lock. Releasing an unlocked lock panics.
func (l *CommitLock) Release() {
	select {
	case <-l.sem:
	default:
		panic("locks: release of unlocked CommitLock")
	}
}
