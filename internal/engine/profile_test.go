package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderstone/charitymap/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestDeriveProfile_EmptyHistory(t *testing.T) {
	// Given: A charity with no filed returns
	// When: DeriveProfile is called
	// Then: Every derived field is absent and no error is returned

	profile, err := DeriveProfile(nil, date(2024, 6, 1))

	require.NoError(t, err)
	assert.False(t, profile.HasData())
	assert.Nil(t, profile.Latest)
	assert.Nil(t, profile.Previous)
	assert.Nil(t, profile.ReservesMonths)
	assert.Nil(t, profile.IncomeChangePct)
	assert.Nil(t, profile.SpendRatio)
	assert.Nil(t, profile.DaysSinceFiling)
}

func TestDeriveProfile_TwoYearHistory(t *testing.T) {
	// Given: Two consecutive filings with income decline and thin reserves
	// When: DeriveProfile is called
	// Then: All ratios are derived from the two most recent filings

	history := []domain.AnnualReturn{
		{Year: 2022, FinPeriodEnd: date(2022, 12, 31), Income: 150000, Expenditure: 140000},
		{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 100000, Expenditure: 120000, Reserves: ptr(5000)},
	}

	profile, err := DeriveProfile(history, date(2024, 6, 1))

	require.NoError(t, err)
	require.True(t, profile.HasData())
	assert.Equal(t, 2023, profile.Latest.Year)
	assert.Equal(t, 2022, profile.Previous.Year)

	require.NotNil(t, profile.ReservesMonths)
	assert.InDelta(t, 0.5, *profile.ReservesMonths, 0.001, "5k reserves against 10k/month spending")

	require.NotNil(t, profile.IncomeChangePct)
	assert.InDelta(t, -0.3333, *profile.IncomeChangePct, 0.001)

	require.NotNil(t, profile.SpendRatio)
	assert.InDelta(t, 1.2, *profile.SpendRatio, 0.001)

	require.NotNil(t, profile.DaysSinceFiling)
	assert.Equal(t, 153, *profile.DaysSinceFiling)
}

func TestDeriveProfile_UnsortedHistory(t *testing.T) {
	// Given: Filings supplied newest first
	// When: DeriveProfile is called
	// Then: Latest and Previous are picked by period end, not input order

	history := []domain.AnnualReturn{
		{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 100000, Expenditure: 90000},
		{Year: 2021, FinPeriodEnd: date(2021, 12, 31), Income: 80000, Expenditure: 75000},
		{Year: 2022, FinPeriodEnd: date(2022, 12, 31), Income: 90000, Expenditure: 85000},
	}

	profile, err := DeriveProfile(history, date(2024, 6, 1))

	require.NoError(t, err)
	assert.Equal(t, 2023, profile.Latest.Year)
	assert.Equal(t, 2022, profile.Previous.Year)
}

func TestDeriveProfile_SingleFiling(t *testing.T) {
	// Given: Only one filed year
	// When: DeriveProfile is called
	// Then: Year-over-year fields are absent, latest-only fields are present

	history := []domain.AnnualReturn{
		{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 50000, Expenditure: 48000, Reserves: ptr(12000)},
	}

	profile, err := DeriveProfile(history, date(2024, 6, 1))

	require.NoError(t, err)
	assert.Nil(t, profile.Previous)
	assert.Nil(t, profile.IncomeChangePct, "no previous year, no change percentage")

	require.NotNil(t, profile.ReservesMonths)
	assert.InDelta(t, 3.0, *profile.ReservesMonths, 0.001)
	require.NotNil(t, profile.SpendRatio)
	assert.InDelta(t, 0.96, *profile.SpendRatio, 0.001)
}

func TestDeriveProfile_AbsentSignals(t *testing.T) {
	tests := []struct {
		name   string
		latest domain.AnnualReturn
		check  func(t *testing.T, p domain.FinancialProfile)
	}{
		{
			name:   "no reserves filed",
			latest: domain.AnnualReturn{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 50000, Expenditure: 40000},
			check: func(t *testing.T, p domain.FinancialProfile) {
				assert.Nil(t, p.ReservesMonths)
			},
		},
		{
			name:   "zero expenditure",
			latest: domain.AnnualReturn{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 50000, Expenditure: 0, Reserves: ptr(10000)},
			check: func(t *testing.T, p domain.FinancialProfile) {
				assert.Nil(t, p.ReservesMonths, "zero expenditure must not produce infinite runway")
				assert.Nil(t, p.SpendRatio)
			},
		},
		{
			name:   "zero income",
			latest: domain.AnnualReturn{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 0, Expenditure: 40000},
			check: func(t *testing.T, p domain.FinancialProfile) {
				assert.Nil(t, p.SpendRatio, "zero income must not produce an infinite spend ratio")
			},
		},
		{
			name:   "no period end date",
			latest: domain.AnnualReturn{Year: 2023, Income: 50000, Expenditure: 40000},
			check: func(t *testing.T, p domain.FinancialProfile) {
				assert.Nil(t, p.DaysSinceFiling)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			profile, err := DeriveProfile([]domain.AnnualReturn{tc.latest}, date(2024, 6, 1))
			require.NoError(t, err)
			tc.check(t, profile)
		})
	}
}

func TestDeriveProfile_ZeroPreviousIncome(t *testing.T) {
	// Given: Previous year filed zero income
	// When: DeriveProfile is called
	// Then: Income change is absent rather than infinite

	history := []domain.AnnualReturn{
		{Year: 2022, FinPeriodEnd: date(2022, 12, 31), Income: 0, Expenditure: 1000},
		{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 50000, Expenditure: 40000},
	}

	profile, err := DeriveProfile(history, date(2024, 6, 1))

	require.NoError(t, err)
	assert.Nil(t, profile.IncomeChangePct)
}

func TestDeriveProfile_RejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name    string
		ret     domain.AnnualReturn
		wantFld string
	}{
		{
			name:    "negative income",
			ret:     domain.AnnualReturn{Year: 2023, Income: -1, Expenditure: 100},
			wantFld: "income",
		},
		{
			name:    "negative expenditure",
			ret:     domain.AnnualReturn{Year: 2023, Income: 100, Expenditure: -50},
			wantFld: "expenditure",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DeriveProfile([]domain.AnnualReturn{tc.ret}, date(2024, 6, 1))

			var invalid *InvalidRecordError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.wantFld, invalid.Field)
			assert.Equal(t, 2023, invalid.Year)
		})
	}
}

func TestDeriveProfile_NegativeReservesTreatedAsAbsent(t *testing.T) {
	// Given: A filing carrying negative reserves
	// When: DeriveProfile is called
	// Then: Reserves months is absent, not a negative runway

	history := []domain.AnnualReturn{
		{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 50000, Expenditure: 40000, Reserves: ptr(-500)},
	}

	profile, err := DeriveProfile(history, date(2024, 6, 1))

	require.NoError(t, err)
	assert.Nil(t, profile.ReservesMonths)
}

func TestDeriveProfile_Deterministic(t *testing.T) {
	// Given: The same history and evaluation date
	// When: DeriveProfile runs twice
	// Then: Both profiles are identical

	history := []domain.AnnualReturn{
		{Year: 2022, FinPeriodEnd: date(2022, 12, 31), Income: 150000, Expenditure: 140000},
		{Year: 2023, FinPeriodEnd: date(2023, 12, 31), Income: 100000, Expenditure: 120000, Reserves: ptr(5000)},
	}

	first, err := DeriveProfile(history, date(2024, 6, 1))
	require.NoError(t, err)
	second, err := DeriveProfile(history, date(2024, 6, 1))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
