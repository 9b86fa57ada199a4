// Package domain defines the value types flowing through the system:
// register records, derived financial profiles, need scores and anomalies.
package domain

import "time"

// Severity classifies how urgently an anomaly warrants human review.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Factor keys for the need score. The set is fixed; thresholds and points
// come from the engine configuration.
const (
	FactorLowReserves     = "low_reserves"
	FactorIncomeDeclining = "income_declining"
	FactorOverspending    = "overspending"
	FactorSmallCharity    = "small_charity"
	FactorLateFiling      = "late_filing"
)

// FactorKeys lists all need score factors in presentation order.
var FactorKeys = []string{
	FactorLowReserves,
	FactorIncomeDeclining,
	FactorOverspending,
	FactorSmallCharity,
	FactorLateFiling,
}

// AnnualReturn is one filing year for one charity. Immutable once loaded.
type AnnualReturn struct {
	Year         int       `json:"year"`
	FinPeriodEnd time.Time `json:"fin_period_end"`
	Income       float64   `json:"income"`
	Expenditure  float64   `json:"expenditure"`
	Reserves     *float64  `json:"reserves,omitempty"` // Absent in most filings; only Part A returns carry it
	ARCycle      string    `json:"ar_cycle,omitempty"`
}

// FinancialProfile is derived once per charity from its return history.
// Every ratio is nil when its denominator is unavailable or non-positive;
// absence means "unknown", never zero.
type FinancialProfile struct {
	Latest          *AnnualReturn
	Previous        *AnnualReturn
	ReservesMonths  *float64
	IncomeChangePct *float64
	SpendRatio      *float64
	DaysSinceFiling *int
}

// HasData reports whether the profile was derived from at least one filing.
func (p FinancialProfile) HasData() bool {
	return p.Latest != nil
}

// NeedScore is the composite 0-100 need estimate with its per-factor
// breakdown. Breakdown holds the raw signal value each factor saw; factors
// whose signal was absent have no breakdown entry.
type NeedScore struct {
	Total     int                `json:"total"`
	Factors   map[string]int     `json:"factors"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// Anomaly is a flagged deviation in filed financials. The message embeds the
// computed value so the UI never has to recompute it.
type Anomaly struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// GeoLocation is a geocoded postcode result.
type GeoLocation struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	District string  `json:"district,omitempty"`
	Ward     string  `json:"ward,omitempty"`
}

// Charity is the full record for one registered charity: register data,
// filing history, and the computed outputs attached to it. Profile, score and
// anomalies have no identity of their own; they are discarded and rebuilt
// together whenever the underlying filings are refreshed.
type Charity struct {
	Number          string
	Name            string
	Postcode        string
	CompanyNumber   string
	DateRegistered  string
	DateRemoved     string
	ReportingStatus string
	Activities      string

	Income     float64
	Spending   float64
	Reserves   *float64
	Employees  int
	Volunteers int

	Categories    []string // What
	Beneficiaries []string // Who
	Methods       []string // How
	Areas         []string

	Returns []AnnualReturn
	Geo     *GeoLocation

	Profile   *FinancialProfile
	Score     *NeedScore
	Anomalies []Anomaly
}

// Scored reports whether a need score could be computed for this charity.
// A missing score is "insufficient data", which is distinct from a valid
// score of 0.
func (c *Charity) Scored() bool {
	return c.Score != nil && c.Profile != nil && c.Profile.HasData()
}

// Viable reports whether the charity has enough data to appear in search
// results at all: some financial activity and a postcode to place it.
func (c *Charity) Viable() bool {
	return (c.Income > 0 || c.Spending > 0) && c.Postcode != ""
}
