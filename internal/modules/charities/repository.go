// Package charities is the core module: persistence, scoring orchestration
// and queries over the assembled charity register.
package charities

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/calderstone/charitymap/internal/database"
	"github.com/calderstone/charitymap/internal/domain"
)

// Repository persists and queries the charity register in register.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a register repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "charity_repository").Logger(),
	}
}

// ReplaceAll rebuilds the register tables from an assembled charity set in
// one transaction. Readers keep seeing the previous generation until the
// commit.
func (r *Repository) ReplaceAll(ctx context.Context, charities map[string]*domain.Charity) error {
	start := time.Now()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, table := range []string{"anomalies", "scores", "areas", "classifications", "annual_returns", "charities"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		insCharity, err := tx.PrepareContext(ctx, `
			INSERT INTO charities (number, name, postcode, company_number, date_registered,
				date_removed, reporting_status, activities, income, spending, reserves,
				employees, volunteers, lat, lng, district, ward)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare charity insert: %w", err)
		}
		defer insCharity.Close()

		insReturn, err := tx.PrepareContext(ctx, `
			INSERT INTO annual_returns (charity_number, year, fin_period_end, income, expenditure, reserves, ar_cycle)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare return insert: %w", err)
		}
		defer insReturn.Close()

		insClass, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO classifications (charity_number, kind, code, description)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare classification insert: %w", err)
		}
		defer insClass.Close()

		insArea, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO areas (charity_number, area_name) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare area insert: %w", err)
		}
		defer insArea.Close()

		for _, c := range charities {
			var lat, lng interface{}
			var district, ward string
			if c.Geo != nil {
				lat, lng = c.Geo.Lat, c.Geo.Lng
				district, ward = c.Geo.District, c.Geo.Ward
			}

			if _, err := insCharity.ExecContext(ctx,
				c.Number, c.Name, c.Postcode, c.CompanyNumber, c.DateRegistered,
				c.DateRemoved, c.ReportingStatus, c.Activities, c.Income, c.Spending,
				nullableFloat(c.Reserves), c.Employees, c.Volunteers, lat, lng, district, ward,
			); err != nil {
				return fmt.Errorf("failed to insert charity %s: %w", c.Number, err)
			}

			for _, ar := range c.Returns {
				if _, err := insReturn.ExecContext(ctx,
					c.Number, ar.Year, formatDate(ar.FinPeriodEnd), ar.Income,
					ar.Expenditure, nullableFloat(ar.Reserves), ar.ARCycle,
				); err != nil {
					return fmt.Errorf("failed to insert return %s/%d: %w", c.Number, ar.Year, err)
				}
			}

			if err := insertClassifications(ctx, insClass, c); err != nil {
				return err
			}
			for _, area := range c.Areas {
				if _, err := insArea.ExecContext(ctx, c.Number, area); err != nil {
					return fmt.Errorf("failed to insert area for %s: %w", c.Number, err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().
		Int("charities", len(charities)).
		Dur("elapsed", time.Since(start)).
		Msg("Rebuilt charity register")

	return nil
}

func insertClassifications(ctx context.Context, stmt *sql.Stmt, c *domain.Charity) error {
	kinds := []struct {
		kind   string
		labels []string
	}{
		{"what", c.Categories},
		{"who", c.Beneficiaries},
		{"how", c.Methods},
	}
	for _, k := range kinds {
		for _, label := range k.labels {
			if _, err := stmt.ExecContext(ctx, c.Number, k.kind, label, label); err != nil {
				return fmt.Errorf("failed to insert classification for %s: %w", c.Number, err)
			}
		}
	}
	return nil
}

// GetByNumber loads one charity with its full history, classifications,
// areas and computed outputs. Returns nil, nil when not found.
func (r *Repository) GetByNumber(ctx context.Context, number string) (*domain.Charity, error) {
	c := &domain.Charity{}
	var reserves, lat, lng sql.NullFloat64
	var district, ward string

	err := r.db.QueryRowContext(ctx, `
		SELECT number, name, postcode, company_number, date_registered, date_removed,
			reporting_status, activities, income, spending, reserves, employees,
			volunteers, lat, lng, district, ward
		FROM charities WHERE number = ?`, number,
	).Scan(&c.Number, &c.Name, &c.Postcode, &c.CompanyNumber, &c.DateRegistered,
		&c.DateRemoved, &c.ReportingStatus, &c.Activities, &c.Income, &c.Spending,
		&reserves, &c.Employees, &c.Volunteers, &lat, &lng, &district, &ward)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load charity %s: %w", number, err)
	}

	if reserves.Valid {
		c.Reserves = &reserves.Float64
	}
	if lat.Valid && lng.Valid {
		c.Geo = &domain.GeoLocation{Lat: lat.Float64, Lng: lng.Float64, District: district, Ward: ward}
	}

	if err := r.attachReturns(ctx, c); err != nil {
		return nil, err
	}
	if err := r.attachClassifications(ctx, c); err != nil {
		return nil, err
	}
	if err := r.attachAreas(ctx, c); err != nil {
		return nil, err
	}
	if err := r.attachOutputs(ctx, c); err != nil {
		return nil, err
	}

	return c, nil
}

func (r *Repository) attachReturns(ctx context.Context, c *domain.Charity) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT year, fin_period_end, income, expenditure, reserves, ar_cycle
		FROM annual_returns WHERE charity_number = ?
		ORDER BY fin_period_end ASC, year ASC`, c.Number)
	if err != nil {
		return fmt.Errorf("failed to load returns for %s: %w", c.Number, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ar domain.AnnualReturn
		var periodEnd string
		var res sql.NullFloat64
		if err := rows.Scan(&ar.Year, &periodEnd, &ar.Income, &ar.Expenditure, &res, &ar.ARCycle); err != nil {
			return fmt.Errorf("failed to scan return for %s: %w", c.Number, err)
		}
		ar.FinPeriodEnd = parseDate(periodEnd)
		if res.Valid {
			ar.Reserves = &res.Float64
		}
		c.Returns = append(c.Returns, ar)
	}
	return rows.Err()
}

func (r *Repository) attachClassifications(ctx context.Context, c *domain.Charity) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, description FROM classifications
		WHERE charity_number = ? ORDER BY kind, description`, c.Number)
	if err != nil {
		return fmt.Errorf("failed to load classifications for %s: %w", c.Number, err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, label string
		if err := rows.Scan(&kind, &label); err != nil {
			return fmt.Errorf("failed to scan classification for %s: %w", c.Number, err)
		}
		switch kind {
		case "what":
			c.Categories = append(c.Categories, label)
		case "who":
			c.Beneficiaries = append(c.Beneficiaries, label)
		case "how":
			c.Methods = append(c.Methods, label)
		}
	}
	return rows.Err()
}

func (r *Repository) attachAreas(ctx context.Context, c *domain.Charity) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT area_name FROM areas WHERE charity_number = ? ORDER BY area_name`, c.Number)
	if err != nil {
		return fmt.Errorf("failed to load areas for %s: %w", c.Number, err)
	}
	defer rows.Close()

	for rows.Next() {
		var area string
		if err := rows.Scan(&area); err != nil {
			return fmt.Errorf("failed to scan area for %s: %w", c.Number, err)
		}
		c.Areas = append(c.Areas, area)
	}
	return rows.Err()
}

// Count returns the number of charities in the register.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM charities").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count charities: %w", err)
	}
	return n, nil
}

// CategoryCounts returns every cause category with the number of charities
// carrying it, most common first.
func (r *Repository) CategoryCounts(ctx context.Context) ([]CategoryCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT description, COUNT(*) AS n FROM classifications
		WHERE kind = 'what' GROUP BY description ORDER BY n DESC, description ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	defer rows.Close()

	var counts []CategoryCount
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Name, &cc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		counts = append(counts, cc)
	}
	return counts, rows.Err()
}

// CategoryCount is one cause category and how many charities carry it.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SetMeta upserts one register metadata entry.
func (r *Repository) SetMeta(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta returns all register metadata entries.
func (r *Repository) GetMeta(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("failed to load meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
