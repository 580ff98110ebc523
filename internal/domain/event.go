package domain

import "time"

// VestingEvent records one realized vesting tranche. Events are immutable
// facts: they are only ever appended, never edited or deleted, and the sum of
// TrancheOptions across a grant's events always equals the grant's current
// VestedOptions counter.
type VestingEvent struct {
	ID             string    `json:"id"`
	GrantID        string    `json:"grant_id"`
	VestingDate    time.Time `json:"vesting_date"`
	TrancheOptions int64     `json:"tranche_options"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExerciseRecord records one committed exercise of vested options. Like
// vesting events, records are append-only.
type ExerciseRecord struct {
	ID               string    `json:"id"`
	GrantID          string    `json:"grant_id"`
	ExercisedAt      time.Time `json:"exercised_at"`
	OptionsExercised int64     `json:"options_exercised"`
	TotalCostCents   int64     `json:"total_cost_cents"`
	CreatedAt        time.Time `json:"created_at"`
}
