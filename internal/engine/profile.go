// Package engine implements the need scoring and anomaly detection engine.
// Both computations are pure functions of a charity's derived financial
// profile and an injected threshold configuration; the engine performs no
// I/O and never reads the wall clock.
package engine

import (
	"math"
	"sort"
	"time"

	"github.com/calderstone/charitymap/internal/domain"
)

// DeriveProfile builds the financial profile for one charity from its annual
// return history, evaluated as of the given date. The evaluation date is an
// explicit input so results are reproducible.
//
// The history is expected oldest first; an unsorted history is sorted on a
// copy without mutating the input. An empty history yields a profile with
// every field absent, which is not an error: callers score it as 0 with no
// anomalies and present it as "insufficient data".
//
// Every derived ratio is absent (nil), never zero or infinity, when its
// denominator is unavailable or non-positive. Treating a missing reserves
// figure as zero would hand maximum reserve points to every charity with an
// incomplete filing, so absence is threaded through as a distinct state.
func DeriveProfile(history []domain.AnnualReturn, asOf time.Time) (domain.FinancialProfile, error) {
	if len(history) == 0 {
		return domain.FinancialProfile{}, nil
	}

	for i := range history {
		if err := validateReturn(&history[i]); err != nil {
			return domain.FinancialProfile{}, err
		}
	}

	sorted := make([]domain.AnnualReturn, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].FinPeriodEnd.Equal(sorted[j].FinPeriodEnd) {
			return sorted[i].Year < sorted[j].Year
		}
		return sorted[i].FinPeriodEnd.Before(sorted[j].FinPeriodEnd)
	})

	latest := sorted[len(sorted)-1]
	profile := domain.FinancialProfile{Latest: &latest}

	if len(sorted) >= 2 {
		previous := sorted[len(sorted)-2]
		profile.Previous = &previous
	}

	// Reserves coverage in months of current spending. Negative reserves
	// figures appear in some filings and carry no meaning; treat as absent.
	if latest.Expenditure > 0 && latest.Reserves != nil && *latest.Reserves >= 0 {
		months := (*latest.Reserves / latest.Expenditure) * 12
		profile.ReservesMonths = &months
	}

	if profile.Previous != nil && profile.Previous.Income > 0 {
		change := (latest.Income - profile.Previous.Income) / profile.Previous.Income
		profile.IncomeChangePct = &change
	}

	if latest.Income > 0 {
		ratio := latest.Expenditure / latest.Income
		profile.SpendRatio = &ratio
	}

	if !latest.FinPeriodEnd.IsZero() {
		days := int(asOf.Sub(latest.FinPeriodEnd).Hours() / 24)
		profile.DaysSinceFiling = &days
	}

	return profile, nil
}

func validateReturn(ar *domain.AnnualReturn) error {
	if ar.Income < 0 || math.IsNaN(ar.Income) || math.IsInf(ar.Income, 0) {
		return &InvalidRecordError{Year: ar.Year, Field: "income", Value: ar.Income}
	}
	if ar.Expenditure < 0 || math.IsNaN(ar.Expenditure) || math.IsInf(ar.Expenditure, 0) {
		return &InvalidRecordError{Year: ar.Year, Field: "expenditure", Value: ar.Expenditure}
	}
	if ar.Reserves != nil && (math.IsNaN(*ar.Reserves) || math.IsInf(*ar.Reserves, 0)) {
		return &InvalidRecordError{Year: ar.Year, Field: "reserves", Value: *ar.Reserves}
	}
	return nil
}
