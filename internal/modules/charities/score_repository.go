package charities

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/calderstone/charitymap/internal/database"
	"github.com/calderstone/charitymap/internal/domain"
)

// ScoredResult is the computed output for one charity.
type ScoredResult struct {
	Number    string
	Profile   domain.FinancialProfile
	Score     domain.NeedScore
	Anomalies []domain.Anomaly
}

// ScoreRepository persists computed need scores and anomalies.
type ScoreRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewScoreRepository creates a score repository.
func NewScoreRepository(db *sql.DB, log zerolog.Logger) *ScoreRepository {
	return &ScoreRepository{
		db:  db,
		log: log.With().Str("component", "score_repository").Logger(),
	}
}

// ReplaceAll swaps in a freshly computed scoring generation. Charities with
// no derivable profile get no scores row at all; a missing row is what the
// API renders as insufficient data.
func (r *ScoreRepository) ReplaceAll(ctx context.Context, results []ScoredResult, configVersion string) error {
	start := time.Now()
	computedAt := time.Now().UTC().Format(time.RFC3339)

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM anomalies"); err != nil {
			return fmt.Errorf("failed to clear anomalies: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM scores"); err != nil {
			return fmt.Errorf("failed to clear scores: %w", err)
		}

		insScore, err := tx.PrepareContext(ctx, `
			INSERT INTO scores (charity_number, total, factors, breakdown,
				reserves_months, income_trend, spend_ratio, days_since_filing,
				config_version, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare score insert: %w", err)
		}
		defer insScore.Close()

		insAnomaly, err := tx.PrepareContext(ctx, `
			INSERT INTO anomalies (charity_number, rule_id, severity, message)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare anomaly insert: %w", err)
		}
		defer insAnomaly.Close()

		for _, res := range results {
			if !res.Profile.HasData() {
				continue
			}

			factors, err := json.Marshal(res.Score.Factors)
			if err != nil {
				return fmt.Errorf("failed to marshal factors for %s: %w", res.Number, err)
			}
			breakdown, err := json.Marshal(res.Score.Breakdown)
			if err != nil {
				return fmt.Errorf("failed to marshal breakdown for %s: %w", res.Number, err)
			}

			if _, err := insScore.ExecContext(ctx,
				res.Number, res.Score.Total, string(factors), string(breakdown),
				nullableFloat(res.Profile.ReservesMonths),
				nullableFloat(res.Profile.IncomeChangePct),
				nullableFloat(res.Profile.SpendRatio),
				nullableInt(res.Profile.DaysSinceFiling),
				configVersion, computedAt,
			); err != nil {
				return fmt.Errorf("failed to insert score for %s: %w", res.Number, err)
			}

			for _, a := range res.Anomalies {
				if _, err := insAnomaly.ExecContext(ctx, res.Number, a.RuleID, string(a.Severity), a.Message); err != nil {
					return fmt.Errorf("failed to insert anomaly for %s: %w", res.Number, err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().
		Int("scored", len(results)).
		Dur("elapsed", time.Since(start)).
		Msg("Stored scoring generation")

	return nil
}

// attachOutputs hydrates the stored score and anomalies onto a charity, and
// re-derives the profile fields the presentation layer shows. A charity
// without a scores row keeps nil Score, which renders as insufficient data.
func (r *Repository) attachOutputs(ctx context.Context, c *domain.Charity) error {
	var total int
	var factorsJSON, breakdownJSON string
	var reservesMonths, incomeTrend, spendRatio sql.NullFloat64
	var daysSince sql.NullInt64

	err := r.db.QueryRowContext(ctx, `
		SELECT total, factors, breakdown, reserves_months, income_trend, spend_ratio, days_since_filing
		FROM scores WHERE charity_number = ?`, c.Number,
	).Scan(&total, &factorsJSON, &breakdownJSON, &reservesMonths, &incomeTrend, &spendRatio, &daysSince)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load score for %s: %w", c.Number, err)
	}

	score := &domain.NeedScore{Total: total}
	if err := json.Unmarshal([]byte(factorsJSON), &score.Factors); err != nil {
		return fmt.Errorf("failed to parse factors for %s: %w", c.Number, err)
	}
	if err := json.Unmarshal([]byte(breakdownJSON), &score.Breakdown); err != nil {
		return fmt.Errorf("failed to parse breakdown for %s: %w", c.Number, err)
	}
	c.Score = score

	profile := &domain.FinancialProfile{}
	if len(c.Returns) > 0 {
		profile.Latest = &c.Returns[len(c.Returns)-1]
		if len(c.Returns) > 1 {
			profile.Previous = &c.Returns[len(c.Returns)-2]
		}
	}
	if reservesMonths.Valid {
		profile.ReservesMonths = &reservesMonths.Float64
	}
	if incomeTrend.Valid {
		profile.IncomeChangePct = &incomeTrend.Float64
	}
	if spendRatio.Valid {
		profile.SpendRatio = &spendRatio.Float64
	}
	if daysSince.Valid {
		days := int(daysSince.Int64)
		profile.DaysSinceFiling = &days
	}
	c.Profile = profile

	rows, err := r.db.QueryContext(ctx, `
		SELECT rule_id, severity, message FROM anomalies WHERE charity_number = ?`, c.Number)
	if err != nil {
		return fmt.Errorf("failed to load anomalies for %s: %w", c.Number, err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.Anomaly
		var severity string
		if err := rows.Scan(&a.RuleID, &severity, &a.Message); err != nil {
			return fmt.Errorf("failed to scan anomaly for %s: %w", c.Number, err)
		}
		a.Severity = domain.Severity(severity)
		c.Anomalies = append(c.Anomalies, a)
	}
	return rows.Err()
}
