package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	l := NewCommitLock()
	require.NoError(t, l.Acquire(context.Background()))
	l.Release()
	require.NoError(t, l.Acquire(context.Background()))
	l.Release()
}

func TestAcquireHonoursContext(t *testing.T) {
	l := NewCommitLock()
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)
}

func TestReleaseUnlockedPanics(t *testing.T) {
	assert.Panics(t, func() { NewCommitLock().Release() })
}

func TestMutualExclusion(t *testing.T) {
	l := NewCommitLock()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
			counter++
			l.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}
