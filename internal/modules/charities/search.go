package charities

import (
	"context"
	"database/sql"
	"fmt"
)

// Candidate is the slim row the search pipeline ranks before hydrating the
// final page. Only geocoded, financially active charities qualify.
type Candidate struct {
	Number string
	Lat    float64
	Lng    float64
	Income float64
	Score  int // 0 when unscored
}

// viableSQL restricts queries to charities that can appear in results:
// some financial activity and a postcode to place them.
const viableSQL = "(c.income > 0 OR c.spending > 0) AND c.postcode != ''"

// SearchCandidates returns geocoded candidates inside a lat/lng box,
// optionally filtered by cause category and minimum need score. The exact
// radius check happens in the caller; the box is only an index prefilter.
func (r *Repository) SearchCandidates(ctx context.Context, minLat, maxLat, minLng, maxLng float64, category string, minScore int) ([]Candidate, error) {
	query := `
		SELECT c.number, c.lat, c.lng, c.income, COALESCE(s.total, 0)
		FROM charities c
		LEFT JOIN scores s ON s.charity_number = c.number
		WHERE ` + viableSQL + `
		  AND c.lat IS NOT NULL AND c.lng IS NOT NULL
		  AND c.lat BETWEEN ? AND ?
		  AND c.lng BETWEEN ? AND ?
		  AND COALESCE(s.total, 0) >= ?`
	args := []interface{}{minLat, maxLat, minLng, maxLng, minScore}

	if category != "" {
		query += `
		  AND EXISTS (SELECT 1 FROM classifications cl
		              WHERE cl.charity_number = c.number AND cl.kind = 'what' AND cl.description = ?)`
		args = append(args, category)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query search candidates: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// TopByScore returns the n highest-scoring viable charities, optionally
// within one cause category, along with the total number that qualified.
func (r *Repository) TopByScore(ctx context.Context, n int, category string) ([]Candidate, int, error) {
	base := `
		FROM charities c
		LEFT JOIN scores s ON s.charity_number = c.number
		WHERE ` + viableSQL
	var args []interface{}

	if category != "" {
		base += `
		  AND EXISTS (SELECT 1 FROM classifications cl
		              WHERE cl.charity_number = c.number AND cl.kind = 'what' AND cl.description = ?)`
		args = append(args, category)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count top candidates: %w", err)
	}

	query := `
		SELECT c.number, COALESCE(c.lat, 0), COALESCE(c.lng, 0), c.income, COALESCE(s.total, 0) ` +
		base + `
		ORDER BY COALESCE(s.total, 0) DESC, c.number ASC
		LIMIT ?`
	args = append(args, n)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query top charities: %w", err)
	}
	defer rows.Close()

	candidates, err := scanCandidates(rows)
	return candidates, total, err
}

func scanCandidates(rows *sql.Rows) ([]Candidate, error) {
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.Number, &c.Lat, &c.Lng, &c.Income, &c.Score); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StatsRow feeds the aggregate statistics endpoint.
type StatsRow struct {
	Score        int
	Income       float64
	AnomalyCount int
}

// StatsRows returns score, income and anomaly count for every viable
// charity. Unscored charities report score 0.
func (r *Repository) StatsRows(ctx context.Context) ([]StatsRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(s.total, 0), c.income,
		       (SELECT COUNT(*) FROM anomalies a WHERE a.charity_number = c.number)
		FROM charities c
		LEFT JOIN scores s ON s.charity_number = c.number
		WHERE `+viableSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats rows: %w", err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var row StatsRow
		if err := rows.Scan(&row.Score, &row.Income, &row.AnomalyCount); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ViableNumbers returns every viable charity number ordered by need score,
// highest first. Used by the compact export.
func (r *Repository) ViableNumbers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.number
		FROM charities c
		LEFT JOIN scores s ON s.charity_number = c.number
		WHERE `+viableSQL+`
		ORDER BY COALESCE(s.total, 0) DESC, c.number ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query viable numbers: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan charity number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}
