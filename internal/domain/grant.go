package domain

import "time"

// ScheduleKind selects how a grant's options vest over time.
type ScheduleKind string

const (
	// ScheduleImmediate vests the full grant on the grant date.
	ScheduleImmediate ScheduleKind = "immediate"
	// ScheduleCliffGraded vests a cliff tranche followed by equal monthly tranches.
	ScheduleCliffGraded ScheduleKind = "cliff_graded"
	// ScheduleMilestone vests at declared month offsets by percentage.
	ScheduleMilestone ScheduleKind = "milestone"
)

// GrantStatus tracks the lifecycle state of a grant.
type GrantStatus string

const (
	GrantStatusActive         GrantStatus = "active"
	GrantStatusFullyExercised GrantStatus = "fully_exercised"
	GrantStatusCancelled      GrantStatus = "cancelled"
)

// Terminal reports whether the status accepts no further mutation.
func (s GrantStatus) Terminal() bool {
	return s == GrantStatusFullyExercised || s == GrantStatusCancelled
}

// Milestone is a single step of a milestone vesting schedule. Percent values
// across a grant's milestones must sum to exactly 100.
type Milestone struct {
	OffsetMonths int   `json:"offset_months"`
	Percent      int64 `json:"percent"`
}

// Grant is a single award of stock options under a declared vesting schedule.
// The schedule parameters are immutable after creation; the engine owns the
// vested/exercised counters and the status. All monetary amounts are integer
// cents.
type Grant struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`

	TotalOptions        int64        `json:"total_options"`
	ExercisePriceCents  int64        `json:"exercise_price_cents"`
	GrantDate           time.Time    `json:"grant_date"`
	ScheduleKind        ScheduleKind `json:"schedule_kind"`
	CliffMonths         int          `json:"cliff_months"`
	VestingPeriodMonths int          `json:"vesting_period_months"`
	Milestones          []Milestone  `json:"milestones,omitempty"`

	VestedOptions    int64       `json:"vested_options"`
	ExercisedOptions int64       `json:"exercised_options"`
	Status           GrantStatus `json:"status"`

	// Version is bumped on every committed mutation; GrantStore.Save rejects
	// writes whose version does not match the stored row.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Exercisable returns the vested-but-unexercised balance.
func (g Grant) Exercisable() int64 {
	return g.VestedOptions - g.ExercisedOptions
}

// Tranche is a discrete quantity of options that becomes vested on a specific
// date. Sequence preserves declaration order for same-date tranches.
type Tranche struct {
	Date     time.Time `json:"date"`
	Options  int64     `json:"options"`
	Sequence int       `json:"sequence"`
}
