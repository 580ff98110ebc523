package domain

import (
	"context"
	"time"
)

// LockManager serializes mutating operations per grant. Implementations must
// guarantee that at most one holder owns a key at a time; operations on
// distinct keys never contend.
type LockManager interface {
	// Acquire blocks until the lock for key is obtained or ctx ends. On
	// success it returns an unlock function that is safe to call more than
	// once. The ttl bounds how long a crashed holder can wedge the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)

	// TryAcquire attempts a single non-blocking acquisition and returns
	// ErrLockHeld when the key is owned by another party.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// GrantProjection is the dashboard-facing snapshot of a grant's balances.
type GrantProjection struct {
	GrantID          string      `json:"grant_id"`
	Status           GrantStatus `json:"status"`
	TotalOptions     int64       `json:"total_options"`
	VestedOptions    int64       `json:"vested_options"`
	ExercisedOptions int64       `json:"exercised_options"`
	Exercisable      int64       `json:"exercisable"`
	AsOf             time.Time   `json:"as_of"`
}

// ProjectionCache provides fast reads of grant projections for dashboards.
// Entries are invalidated on every committed mutation of the grant.
type ProjectionCache interface {
	Set(ctx context.Context, p GrantProjection) error
	Get(ctx context.Context, grantID string) (GrantProjection, error)
	Invalidate(ctx context.Context, grantID string) error
}

// SignalBus provides pub/sub fan-out of engine events to dashboards and
// other interested processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter throttles requests per key over a sliding window.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the limit,
	// counting the request when it is.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
