package engine

import (
	"github.com/calderstone/charitymap/internal/domain"
)

// Scorer computes the composite need score from a financial profile.
// Construction validates the configuration once; scoring is then total and
// never fails, so it is safe to fan out across charities concurrently.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer with a validated threshold configuration.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// ComputeNeedScore applies the five factor step functions to the profile.
// A factor whose signal is absent contributes 0 points and no breakdown
// entry. The total is clamped to [0, 100] even if the bands are retuned past
// their intended maxima.
func (s *Scorer) ComputeNeedScore(profile domain.FinancialProfile) domain.NeedScore {
	score := domain.NeedScore{
		Factors:   make(map[string]int, len(domain.FactorKeys)),
		Breakdown: make(map[string]float64),
	}

	for _, key := range domain.FactorKeys {
		signal := factorSignal(key, profile)
		if signal == nil {
			score.Factors[key] = 0
			continue
		}

		points := stepPoints(*signal, s.cfg.Factors[key])
		score.Factors[key] = points
		score.Breakdown[key] = *signal
		score.Total += points
	}

	if score.Total > 100 {
		score.Total = 100
	}
	if score.Total < 0 {
		score.Total = 0
	}

	return score
}

// factorSignal selects the raw signal a factor evaluates, or nil when the
// profile could not derive it.
func factorSignal(factor string, p domain.FinancialProfile) *float64 {
	switch factor {
	case domain.FactorLowReserves:
		return p.ReservesMonths
	case domain.FactorIncomeDeclining:
		return p.IncomeChangePct
	case domain.FactorOverspending:
		return p.SpendRatio
	case domain.FactorSmallCharity:
		if p.Latest == nil {
			return nil
		}
		income := p.Latest.Income
		return &income
	case domain.FactorLateFiling:
		if p.DaysSinceFiling == nil {
			return nil
		}
		days := float64(*p.DaysSinceFiling)
		return &days
	}
	return nil
}

// stepPoints walks the ordered band list and returns the first match.
// Bands run most severe to least severe and are not cumulative.
func stepPoints(value float64, f Factor) int {
	for _, band := range f.Bands {
		switch f.Comparison {
		case CompareLT:
			if value < band.Threshold {
				return band.Points
			}
		case CompareGT:
			if value > band.Threshold {
				return band.Points
			}
		}
	}
	return 0
}
