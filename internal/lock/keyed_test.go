package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equitydesk/vestd/internal/domain"
)

func TestKeyedTryAcquire(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	unlock, err := k.TryAcquire(ctx, "grant:a", time.Second)
	require.NoError(t, err)

	_, err = k.TryAcquire(ctx, "grant:a", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// A different key does not contend.
	unlockB, err := k.TryAcquire(ctx, "grant:b", time.Second)
	require.NoError(t, err)
	unlockB()

	unlock()

	unlock2, err := k.TryAcquire(ctx, "grant:a", time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestKeyedAcquireBlocksUntilReleased(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	unlock, err := k.Acquire(ctx, "grant:a", time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := k.Acquire(ctx, "grant:a", time.Second)
		assert.NoError(t, err)
		second()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestKeyedAcquireRespectsContext(t *testing.T) {
	k := NewKeyed()

	unlock, err := k.Acquire(context.Background(), "grant:a", time.Second)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = k.Acquire(ctx, "grant:a", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedUnlockIsIdempotent(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	unlock, err := k.Acquire(ctx, "grant:a", time.Second)
	require.NoError(t, err)
	unlock()
	unlock()

	again, err := k.TryAcquire(ctx, "grant:a", time.Second)
	require.NoError(t, err)
	again()
}

func TestKeyedMutualExclusion(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Acquire(ctx, "grant:a", time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 32, counter)

	// All holders released, so the key map should be empty again.
	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.sems)
}
