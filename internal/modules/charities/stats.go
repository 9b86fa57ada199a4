package charities

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StatsResponse is the /api/stats payload: aggregates across every viable
// charity in the register.
type StatsResponse struct {
	TotalCharities  int     `json:"total_charities"`
	AvgNeedScore    float64 `json:"avg_need_score"`
	MedianNeedScore float64 `json:"median_need_score"`
	StdDevNeedScore float64 `json:"stddev_need_score"`
	HighNeedCount   int     `json:"high_need_count"`
	WithAnomalies   int     `json:"with_anomalies"`
	TotalIncome     float64 `json:"total_income"`
	MedianIncome    float64 `json:"median_income"`
}

// highNeedThreshold marks the score at which a charity counts as high need
// in the aggregate view.
const highNeedThreshold = 50

// Stats computes aggregate statistics over the register.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	rows, err := s.repo.StatsRows(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &StatsResponse{}, nil
	}

	scores := make([]float64, 0, len(rows))
	var incomes []float64
	resp := &StatsResponse{TotalCharities: len(rows)}

	for _, row := range rows {
		scores = append(scores, float64(row.Score))
		if row.Score >= highNeedThreshold {
			resp.HighNeedCount++
		}
		if row.AnomalyCount > 0 {
			resp.WithAnomalies++
		}
		if row.Income > 0 {
			incomes = append(incomes, row.Income)
			resp.TotalIncome += row.Income
		}
	}

	sort.Float64s(scores)
	resp.AvgNeedScore = round1(stat.Mean(scores, nil))
	resp.MedianNeedScore = stat.Quantile(0.5, stat.Empirical, scores, nil)
	if len(scores) > 1 {
		resp.StdDevNeedScore = round1(stat.StdDev(scores, nil))
	}

	if len(incomes) > 0 {
		sort.Float64s(incomes)
		resp.MedianIncome = stat.Quantile(0.5, stat.Empirical, incomes, nil)
	}

	return resp, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
