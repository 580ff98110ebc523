// Package lock provides an in-process keyed lock manager for dev mode and
// tests. Server deployments use the Redis lock manager so locks hold across
// processes.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/equitydesk/vestd/internal/domain"
)

// Keyed serializes holders per key using one semaphore channel per key.
// Idle keys are removed so the map does not grow with grant count. The ttl
// argument is ignored: an in-process holder cannot outlive its process.
type Keyed struct {
	mu   sync.Mutex
	sems map[string]*semaphore
}

type semaphore struct {
	ch   chan struct{}
	refs int
}

var _ domain.LockManager = (*Keyed)(nil)

// NewKeyed creates an empty keyed lock manager.
func NewKeyed() *Keyed {
	return &Keyed{sems: make(map[string]*semaphore)}
}

// Acquire blocks until the key's lock is obtained or ctx ends.
func (k *Keyed) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	sem := k.retain(key)

	select {
	case sem.ch <- struct{}{}:
		return k.unlockFunc(key, sem), nil
	case <-ctx.Done():
		k.release(key, sem)
		return nil, ctx.Err()
	}
}

// TryAcquire attempts a single non-blocking acquisition.
func (k *Keyed) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	sem := k.retain(key)

	select {
	case sem.ch <- struct{}{}:
		return k.unlockFunc(key, sem), nil
	default:
		k.release(key, sem)
		return nil, domain.ErrLockHeld
	}
}

func (k *Keyed) retain(key string) *semaphore {
	k.mu.Lock()
	defer k.mu.Unlock()

	sem, ok := k.sems[key]
	if !ok {
		sem = &semaphore{ch: make(chan struct{}, 1)}
		k.sems[key] = sem
	}
	sem.refs++
	return sem
}

func (k *Keyed) release(key string, sem *semaphore) {
	k.mu.Lock()
	defer k.mu.Unlock()

	sem.refs--
	if sem.refs == 0 {
		delete(k.sems, key)
	}
}

func (k *Keyed) unlockFunc(key string, sem *semaphore) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-sem.ch
			k.release(key, sem)
		})
	}
}
