// Package schedule derives vesting tranches from grant parameters. All
// functions are pure and deterministic: no clock reads, no I/O. Quantities use
// int64 arithmetic with half-up rounding; the final tranche of a schedule
// absorbs any rounding remainder so tranche sums always equal the grant total.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/equitydesk/vestd/internal/domain"
)

// Validate checks a grant's schedule parameters and returns a
// *domain.ScheduleConfigError describing the first problem found. It is
// called at grant creation; the tranche derivation below assumes a validated
// grant.
func Validate(g domain.Grant) error {
	if g.TotalOptions <= 0 {
		return &domain.ScheduleConfigError{Reason: "total_options must be positive"}
	}
	if g.ExercisePriceCents <= 0 {
		return &domain.ScheduleConfigError{Reason: "exercise_price_cents must be positive"}
	}
	if g.GrantDate.IsZero() {
		return &domain.ScheduleConfigError{Reason: "grant_date is required"}
	}

	switch g.ScheduleKind {
	case domain.ScheduleImmediate:
		return nil

	case domain.ScheduleCliffGraded:
		if g.CliffMonths < 0 {
			return &domain.ScheduleConfigError{Reason: "cliff_months must not be negative"}
		}
		if g.VestingPeriodMonths <= 0 {
			return &domain.ScheduleConfigError{Reason: "vesting_period_months must be positive"}
		}
		if g.CliffMonths >= g.VestingPeriodMonths {
			return &domain.ScheduleConfigError{
				Reason: fmt.Sprintf("cliff_months (%d) must be less than vesting_period_months (%d)",
					g.CliffMonths, g.VestingPeriodMonths),
			}
		}
		return nil

	case domain.ScheduleMilestone:
		if len(g.Milestones) == 0 {
			return &domain.ScheduleConfigError{Reason: "milestone schedule requires at least one milestone"}
		}
		var sum int64
		prev := -1
		for i, m := range g.Milestones {
			if m.OffsetMonths < 0 {
				return &domain.ScheduleConfigError{Reason: fmt.Sprintf("milestone %d: offset_months must not be negative", i)}
			}
			if m.OffsetMonths < prev {
				return &domain.ScheduleConfigError{Reason: fmt.Sprintf("milestone %d: offsets must not decrease", i)}
			}
			if m.Percent <= 0 {
				return &domain.ScheduleConfigError{Reason: fmt.Sprintf("milestone %d: percent must be positive", i)}
			}
			prev = m.OffsetMonths
			sum += m.Percent
		}
		if sum != 100 {
			return &domain.ScheduleConfigError{Reason: fmt.Sprintf("milestone percents sum to %d, want 100", sum)}
		}
		return nil

	default:
		return &domain.ScheduleConfigError{Reason: fmt.Sprintf("unknown schedule kind %q", g.ScheduleKind)}
	}
}

// Tranches returns the grant's full lifetime tranche set, ordered by date
// ascending with same-date ties broken by declaration order.
func Tranches(g domain.Grant) []domain.Tranche {
	var out []domain.Tranche

	switch g.ScheduleKind {
	case domain.ScheduleImmediate:
		out = []domain.Tranche{{Date: g.GrantDate, Options: g.TotalOptions, Sequence: 0}}

	case domain.ScheduleCliffGraded:
		out = cliffGradedTranches(g)

	case domain.ScheduleMilestone:
		out = milestoneTranches(g)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// VestedTranches returns only the tranches whose date is on or before asOf.
func VestedTranches(g domain.Grant, asOf time.Time) []domain.Tranche {
	all := Tranches(g)
	n := 0
	for _, t := range all {
		if t.Date.After(asOf) {
			break
		}
		n++
	}
	return all[:n]
}

// ProjectedTranches returns the forward-looking schedule: tranches strictly
// after asOf, for dashboard projections.
func ProjectedTranches(g domain.Grant, asOf time.Time) []domain.Tranche {
	all := Tranches(g)
	i := 0
	for _, t := range all {
		if t.Date.After(asOf) {
			break
		}
		i++
	}
	return all[i:]
}

func cliffGradedTranches(g domain.Grant) []domain.Tranche {
	cliffQty := roundDiv(g.TotalOptions*int64(g.CliffMonths), int64(g.VestingPeriodMonths))
	remaining := g.TotalOptions - cliffQty
	months := g.VestingPeriodMonths - g.CliffMonths

	out := make([]domain.Tranche, 0, months+1)
	seq := 0
	if cliffQty > 0 {
		out = append(out, domain.Tranche{
			Date:     addMonths(g.GrantDate, g.CliffMonths),
			Options:  cliffQty,
			Sequence: seq,
		})
		seq++
	}

	monthly := remaining / int64(months)
	allocated := int64(0)
	for i := 1; i <= months; i++ {
		qty := monthly
		if i == months {
			// Final tranche absorbs the rounding remainder.
			qty = remaining - allocated
		}
		if qty <= 0 {
			continue
		}
		allocated += qty
		out = append(out, domain.Tranche{
			Date:     addMonths(g.GrantDate, g.CliffMonths+i),
			Options:  qty,
			Sequence: seq,
		})
		seq++
	}
	return out
}

func milestoneTranches(g domain.Grant) []domain.Tranche {
	out := make([]domain.Tranche, 0, len(g.Milestones))
	allocated := int64(0)
	for i, m := range g.Milestones {
		qty := roundDiv(g.TotalOptions*m.Percent, 100)
		if i == len(g.Milestones)-1 {
			qty = g.TotalOptions - allocated
		}
		if qty <= 0 {
			continue
		}
		allocated += qty
		out = append(out, domain.Tranche{
			Date:     addMonths(g.GrantDate, m.OffsetMonths),
			Options:  qty,
			Sequence: i,
		})
	}
	return out
}

// roundDiv divides n by d rounding half up. Both inputs must be non-negative.
func roundDiv(n, d int64) int64 {
	q := n / d
	if n%d*2 >= d {
		q++
	}
	return q
}

func addMonths(t time.Time, months int) time.Time {
	return t.AddDate(0, months, 0)
}
