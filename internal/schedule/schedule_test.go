package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equitydesk/vestd/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cliffGrant(total int64, cliff, period int) domain.Grant {
	return domain.Grant{
		ID:                  "g-1",
		TotalOptions:        total,
		ExercisePriceCents:  250,
		GrantDate:           date(2023, time.January, 1),
		ScheduleKind:        domain.ScheduleCliffGraded,
		CliffMonths:         cliff,
		VestingPeriodMonths: period,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Grant)
		wantErr string
	}{
		{
			name:   "valid cliff graded",
			mutate: func(g *domain.Grant) {},
		},
		{
			name:    "zero total options",
			mutate:  func(g *domain.Grant) { g.TotalOptions = 0 },
			wantErr: "total_options",
		},
		{
			name:    "negative exercise price",
			mutate:  func(g *domain.Grant) { g.ExercisePriceCents = -1 },
			wantErr: "exercise_price_cents",
		},
		{
			name:    "missing grant date",
			mutate:  func(g *domain.Grant) { g.GrantDate = time.Time{} },
			wantErr: "grant_date",
		},
		{
			name:    "cliff equals period",
			mutate:  func(g *domain.Grant) { g.CliffMonths = 48 },
			wantErr: "cliff_months (48) must be less than vesting_period_months (48)",
		},
		{
			name:    "zero period",
			mutate:  func(g *domain.Grant) { g.CliffMonths, g.VestingPeriodMonths = 0, 0 },
			wantErr: "vesting_period_months",
		},
		{
			name:    "unknown kind",
			mutate:  func(g *domain.Grant) { g.ScheduleKind = "lottery" },
			wantErr: "unknown schedule kind",
		},
		{
			name: "milestone without milestones",
			mutate: func(g *domain.Grant) {
				g.ScheduleKind = domain.ScheduleMilestone
			},
			wantErr: "at least one milestone",
		},
		{
			name: "milestone percents under 100",
			mutate: func(g *domain.Grant) {
				g.ScheduleKind = domain.ScheduleMilestone
				g.Milestones = []domain.Milestone{
					{OffsetMonths: 6, Percent: 30},
					{OffsetMonths: 12, Percent: 30},
				}
			},
			wantErr: "sum to 60",
		},
		{
			name: "milestone offsets decrease",
			mutate: func(g *domain.Grant) {
				g.ScheduleKind = domain.ScheduleMilestone
				g.Milestones = []domain.Milestone{
					{OffsetMonths: 12, Percent: 50},
					{OffsetMonths: 6, Percent: 50},
				}
			},
			wantErr: "offsets must not decrease",
		},
		{
			name: "valid immediate",
			mutate: func(g *domain.Grant) {
				g.ScheduleKind = domain.ScheduleImmediate
				g.CliffMonths, g.VestingPeriodMonths = 0, 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := cliffGrant(4800, 12, 48)
			tt.mutate(&g)
			err := Validate(g)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var cfgErr *domain.ScheduleConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTranchesCliffGraded(t *testing.T) {
	g := cliffGrant(4800, 12, 48)
	tranches := Tranches(g)

	// 12/48 cliff on 4800 options: 1200 at the cliff, then 100 per month
	// for 36 months.
	require.Len(t, tranches, 37)

	assert.Equal(t, date(2024, time.January, 1), tranches[0].Date)
	assert.Equal(t, int64(1200), tranches[0].Options)

	assert.Equal(t, date(2024, time.February, 1), tranches[1].Date)
	assert.Equal(t, int64(100), tranches[1].Options)

	last := tranches[len(tranches)-1]
	assert.Equal(t, date(2027, time.January, 1), last.Date)
	assert.Equal(t, int64(100), last.Options)

	var sum int64
	for _, tr := range tranches {
		sum += tr.Options
	}
	assert.Equal(t, g.TotalOptions, sum)
}

func TestTranchesRemainderAbsorption(t *testing.T) {
	// 1000 options over 7 months with a 1-month cliff does not divide
	// evenly; the final tranche must absorb the difference.
	g := cliffGrant(1000, 1, 7)
	tranches := Tranches(g)
	require.NotEmpty(t, tranches)

	var sum int64
	for _, tr := range tranches {
		sum += tr.Options
	}
	assert.Equal(t, int64(1000), sum)

	// Cliff is round(1000*1/7) = 143, leaving 857 over 6 months: five
	// tranches of 142 and a final of 147.
	assert.Equal(t, int64(143), tranches[0].Options)
	assert.Equal(t, int64(142), tranches[1].Options)
	assert.Equal(t, int64(147), tranches[len(tranches)-1].Options)
}

func TestTranchesZeroCliff(t *testing.T) {
	g := cliffGrant(1200, 0, 12)
	tranches := Tranches(g)
	require.Len(t, tranches, 12)

	assert.Equal(t, date(2023, time.February, 1), tranches[0].Date)
	for _, tr := range tranches {
		assert.Equal(t, int64(100), tr.Options)
	}
}

func TestTranchesImmediate(t *testing.T) {
	g := domain.Grant{
		TotalOptions:       500,
		ExercisePriceCents: 100,
		GrantDate:          date(2023, time.June, 15),
		ScheduleKind:       domain.ScheduleImmediate,
	}
	tranches := Tranches(g)
	require.Len(t, tranches, 1)
	assert.Equal(t, g.GrantDate, tranches[0].Date)
	assert.Equal(t, int64(500), tranches[0].Options)
}

func TestTranchesMilestone(t *testing.T) {
	g := domain.Grant{
		TotalOptions:       1001,
		ExercisePriceCents: 100,
		GrantDate:          date(2023, time.January, 1),
		ScheduleKind:       domain.ScheduleMilestone,
		Milestones: []domain.Milestone{
			{OffsetMonths: 6, Percent: 33},
			{OffsetMonths: 12, Percent: 33},
			{OffsetMonths: 24, Percent: 34},
		},
	}
	tranches := Tranches(g)
	require.Len(t, tranches, 3)

	// round(1001*33/100) = 330 twice; the final milestone takes the rest.
	assert.Equal(t, int64(330), tranches[0].Options)
	assert.Equal(t, int64(330), tranches[1].Options)
	assert.Equal(t, int64(341), tranches[2].Options)

	assert.Equal(t, date(2023, time.July, 1), tranches[0].Date)
	assert.Equal(t, date(2024, time.January, 1), tranches[1].Date)
	assert.Equal(t, date(2025, time.January, 1), tranches[2].Date)
}

func TestTranchesMilestoneSameDateKeepsDeclarationOrder(t *testing.T) {
	g := domain.Grant{
		TotalOptions:       300,
		ExercisePriceCents: 100,
		GrantDate:          date(2023, time.January, 1),
		ScheduleKind:       domain.ScheduleMilestone,
		Milestones: []domain.Milestone{
			{OffsetMonths: 12, Percent: 40},
			{OffsetMonths: 12, Percent: 60},
		},
	}
	tranches := Tranches(g)
	require.Len(t, tranches, 2)
	assert.Equal(t, int64(120), tranches[0].Options)
	assert.Equal(t, int64(180), tranches[1].Options)
	assert.Equal(t, 0, tranches[0].Sequence)
	assert.Equal(t, 1, tranches[1].Sequence)
}

func TestVestedAndProjectedTranches(t *testing.T) {
	g := cliffGrant(4800, 12, 48)

	t.Run("before cliff nothing vests", func(t *testing.T) {
		vested := VestedTranches(g, date(2023, time.December, 31))
		assert.Empty(t, vested)
		projected := ProjectedTranches(g, date(2023, time.December, 31))
		assert.Len(t, projected, 37)
	})

	t.Run("cliff date vests the cliff tranche", func(t *testing.T) {
		vested := VestedTranches(g, date(2024, time.January, 1))
		require.Len(t, vested, 1)
		assert.Equal(t, int64(1200), vested[0].Options)
	})

	t.Run("mid schedule splits cleanly", func(t *testing.T) {
		asOf := date(2024, time.June, 10)
		vested := VestedTranches(g, asOf)
		projected := ProjectedTranches(g, asOf)
		assert.Len(t, vested, 6)
		assert.Len(t, projected, 31)

		var sum int64
		for _, tr := range vested {
			sum += tr.Options
		}
		assert.Equal(t, int64(1700), sum)
	})

	t.Run("past the end everything vests", func(t *testing.T) {
		vested := VestedTranches(g, date(2030, time.January, 1))
		assert.Len(t, vested, 37)
		assert.Empty(t, ProjectedTranches(g, date(2030, time.January, 1)))
	})
}

func TestTranchesDeterministic(t *testing.T) {
	g := cliffGrant(999983, 9, 41)
	first := Tranches(g)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Tranches(g))
	}
}

func TestRoundDiv(t *testing.T) {
	assert.Equal(t, int64(1), roundDiv(1, 2))
	assert.Equal(t, int64(0), roundDiv(1, 3))
	assert.Equal(t, int64(2), roundDiv(5, 3))
	assert.Equal(t, int64(1200), roundDiv(4800*12, 48))
	assert.Equal(t, int64(143), roundDiv(1000, 7))
}
