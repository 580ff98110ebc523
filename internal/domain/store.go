package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// GrantStore persists grants together with their append-only event and record
// collections.
type GrantStore interface {
	Create(ctx context.Context, grant Grant) error
	Get(ctx context.Context, id string) (Grant, error)
	List(ctx context.Context, opts ListOpts) ([]Grant, error)

	// Save commits a mutated grant and its newly appended events and records
	// as one atomic write. The grant's Version must match the stored row;
	// on mismatch Save returns ErrVersionConflict and writes nothing. Save
	// bumps the version on success.
	Save(ctx context.Context, grant Grant, newEvents []VestingEvent, newRecords []ExerciseRecord) error

	ListVestingEvents(ctx context.Context, grantID string) ([]VestingEvent, error)
	ListExerciseRecords(ctx context.Context, grantID string) ([]ExerciseRecord, error)

	// ListClosedBefore returns grants in a terminal status whose last update
	// is strictly before the cutoff. Used by the cold-storage archiver.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Grant, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
