package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderstone/charitymap/internal/domain"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	scorer, err := NewScorer(DefaultConfig())
	require.NoError(t, err)
	return scorer
}

func intPtr(v int) *int { return &v }

func TestComputeNeedScore_StrugglingCharity(t *testing.T) {
	// Given: Half a month of reserves, income down a third, spending 120% of
	// income, 100k income, filed recently
	// When: ComputeNeedScore is called
	// Then: 30 + 25 + 10 + 5 + 0 = 70

	history := []domain.AnnualReturn{
		{Year: 2022, FinPeriodEnd: date(2022, 12, 31), Income: 150000, Expenditure: 140000},
		{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 100000, Expenditure: 120000, Reserves: ptr(5000)},
	}
	profile, err := DeriveProfile(history, date(2024, 6, 1))
	require.NoError(t, err)

	score := newTestScorer(t).ComputeNeedScore(profile)

	assert.Equal(t, 70, score.Total)
	assert.Equal(t, 30, score.Factors[domain.FactorLowReserves])
	assert.Equal(t, 25, score.Factors[domain.FactorIncomeDeclining])
	assert.Equal(t, 10, score.Factors[domain.FactorOverspending])
	assert.Equal(t, 5, score.Factors[domain.FactorSmallCharity])
	assert.Equal(t, 0, score.Factors[domain.FactorLateFiling])
}

func TestComputeNeedScore_EmptyProfile(t *testing.T) {
	// Given: A profile with every signal absent
	// When: ComputeNeedScore is called
	// Then: Total is 0 with every factor at 0 and an empty breakdown

	score := newTestScorer(t).ComputeNeedScore(domain.FinancialProfile{})

	assert.Equal(t, 0, score.Total)
	for _, key := range domain.FactorKeys {
		assert.Equal(t, 0, score.Factors[key], key)
	}
	assert.Empty(t, score.Breakdown)
}

func TestComputeNeedScore_TotalEqualsFactorSum(t *testing.T) {
	// Given: A scored profile below the clamp
	// When: ComputeNeedScore is called
	// Then: Total equals the sum of factor points

	profile := domain.FinancialProfile{
		Latest:          &domain.AnnualReturn{Year: 2023, Income: 40000},
		ReservesMonths:  ptr(2.5),
		IncomeChangePct: ptr(-0.15),
		SpendRatio:      ptr(1.1),
		DaysSinceFiling: intPtr(600),
	}

	score := newTestScorer(t).ComputeNeedScore(profile)

	sum := 0
	for _, pts := range score.Factors {
		sum += pts
	}
	assert.Equal(t, sum, score.Total)
	assert.Equal(t, 20+15+10+10+5, score.Total)
}

func TestComputeNeedScore_AbsentReservesScoreZero(t *testing.T) {
	// Given: A healthy-looking filing that simply omits reserves
	// When: ComputeNeedScore is called
	// Then: The reserves factor contributes nothing and has no breakdown entry

	history := []domain.AnnualReturn{
		{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 500000, Expenditure: 450000},
	}
	profile, err := DeriveProfile(history, date(2024, 6, 1))
	require.NoError(t, err)

	score := newTestScorer(t).ComputeNeedScore(profile)

	assert.Equal(t, 0, score.Factors[domain.FactorLowReserves])
	_, ok := score.Breakdown[domain.FactorLowReserves]
	assert.False(t, ok, "absent signals must not appear in the breakdown")
}

func TestComputeNeedScore_BandBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		months   float64
		expected int
	}{
		{"well below first band", 0.2, 30},
		{"exactly one month", 1.0, 20}, // Strict less-than, so 1.0 falls through
		{"just under three", 2.99, 20},
		{"exactly three", 3.0, 10},
		{"just under six", 5.99, 10},
		{"exactly six", 6.0, 0},
		{"ample reserves", 24.0, 0},
	}

	scorer := newTestScorer(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			profile := domain.FinancialProfile{ReservesMonths: ptr(tc.months)}

			score := scorer.ComputeNeedScore(profile)

			assert.Equal(t, tc.expected, score.Factors[domain.FactorLowReserves])
		})
	}
}

func TestComputeNeedScore_BandMonotonicity(t *testing.T) {
	// Given: Two profiles where one has strictly fewer reserve months
	// When: Both are scored
	// Then: The worse profile never scores fewer points on that factor

	scorer := newTestScorer(t)
	prev := -1
	for months := 12.0; months >= 0; months -= 0.25 {
		score := scorer.ComputeNeedScore(domain.FinancialProfile{ReservesMonths: ptr(months)})
		pts := score.Factors[domain.FactorLowReserves]
		assert.GreaterOrEqual(t, pts, prev, "points must not decrease as reserves shrink")
		prev = pts
	}
}

func TestComputeNeedScore_ClampedAt100(t *testing.T) {
	// Given: A configuration retuned so the factor maxima sum past 100
	// When: A worst-case profile is scored
	// Then: The total is clamped to 100

	cfg := DefaultConfig()
	factor := cfg.Factors[domain.FactorLowReserves]
	factor.Max = 60
	factor.Bands = []Band{{Threshold: 1, Points: 60}}
	cfg.Factors[domain.FactorLowReserves] = factor

	scorer, err := NewScorer(cfg)
	require.NoError(t, err)

	profile := domain.FinancialProfile{
		Latest:          &domain.AnnualReturn{Year: 2023, Income: 5000},
		ReservesMonths:  ptr(0.1),
		IncomeChangePct: ptr(-0.8),
		SpendRatio:      ptr(2.0),
		DaysSinceFiling: intPtr(900),
	}

	score := scorer.ComputeNeedScore(profile)

	assert.Equal(t, 100, score.Total)
}

func TestComputeNeedScore_Idempotent(t *testing.T) {
	// Given: The same profile
	// When: It is scored twice
	// Then: The results are identical

	profile := domain.FinancialProfile{
		Latest:          &domain.AnnualReturn{Year: 2023, Income: 75000},
		ReservesMonths:  ptr(1.5),
		IncomeChangePct: ptr(-0.2),
		SpendRatio:      ptr(1.25),
	}

	scorer := newTestScorer(t)
	first := scorer.ComputeNeedScore(profile)
	second := scorer.ComputeNeedScore(profile)

	assert.Equal(t, first, second)
}
