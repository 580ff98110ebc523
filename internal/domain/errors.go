package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrLockHeld        = errors.New("lock already held")
	ErrVersionConflict = errors.New("grant version conflict")

	// ErrInvalidExercise covers caller-correctable exercise failures: a
	// non-positive amount or a request exceeding the exercisable balance.
	// Requests are rejected, never clamped.
	ErrInvalidExercise = errors.New("invalid exercise request")

	// ErrGrantNotActive is returned when a mutation targets a cancelled or
	// fully exercised grant.
	ErrGrantNotActive = errors.New("grant not active")
)

// ScheduleConfigError reports a malformed vesting schedule. It is raised at
// grant creation; the calculator assumes a validated grant.
type ScheduleConfigError struct {
	Reason string
}

func (e *ScheduleConfigError) Error() string {
	return "invalid vesting schedule: " + e.Reason
}

// LedgerCorruptionError reports that a grant's recorded vesting events no
// longer sum to its vested counter. This is fatal for the affected grant:
// mutation halts and the condition is surfaced to an operator, never retried.
type LedgerCorruptionError struct {
	GrantID       string
	EventSum      int64
	VestedOptions int64
}

func (e *LedgerCorruptionError) Error() string {
	return fmt.Sprintf("ledger corruption on grant %s: event sum %d != vested options %d",
		e.GrantID, e.EventSum, e.VestedOptions)
}
