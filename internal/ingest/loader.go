package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calderstone/charitymap/internal/domain"
)

// Loader assembles charity records from extracted dataset files.
type Loader struct {
	region string
	log    zerolog.Logger
}

// NewLoader creates a loader. region may be empty (whole register) or
// RegionLondon.
func NewLoader(region string, log zerolog.Logger) *Loader {
	return &Loader{
		region: region,
		log:    log.With().Str("component", "loader").Logger(),
	}
}

// LoadAll runs every loading stage against the extract paths returned by the
// downloader and produces the assembled register keyed by charity number.
func (l *Loader) LoadAll(paths map[string]string) (map[string]*domain.Charity, error) {
	charities, err := l.LoadRegister(paths[DatasetRegister])
	if err != nil {
		return nil, err
	}

	if err := l.LoadAnnualReturns(paths[DatasetReturnHistory], charities); err != nil {
		return nil, err
	}
	if err := l.LoadPartA(paths[DatasetReturnPartA], charities); err != nil {
		return nil, err
	}
	if err := l.LoadClassifications(paths[DatasetClassification], charities); err != nil {
		return nil, err
	}
	if err := l.LoadAreas(paths[DatasetAreaOfOperation], charities); err != nil {
		return nil, err
	}

	// Histories arrive in file order; downstream consumers expect oldest
	// first
	for _, c := range charities {
		sort.SliceStable(c.Returns, func(i, j int) bool {
			if !c.Returns[i].FinPeriodEnd.Equal(c.Returns[j].FinPeriodEnd) {
				return c.Returns[i].FinPeriodEnd.Before(c.Returns[j].FinPeriodEnd)
			}
			return c.Returns[i].Year < c.Returns[j].Year
		})
	}

	return charities, nil
}

// LoadRegister reads the main register extract. Only active registered
// charities with a name survive; removed and never-registered rows are
// dropped here and nowhere else.
func (l *Loader) LoadRegister(path string) (map[string]*domain.Charity, error) {
	charities := make(map[string]*domain.Charity)
	total := 0

	err := ParseTSV(path, func(row map[string]string) error {
		total++

		status := strings.ToLower(strings.TrimSpace(row["charity_registration_status"]))
		if status != "registered" {
			return nil
		}

		num := strings.TrimSpace(row["registered_charity_number"])
		name := strings.TrimSpace(row["charity_name"])
		if num == "" || name == "" {
			return nil
		}

		postcode := strings.ToUpper(strings.TrimSpace(row["charity_contact_postcode"]))
		if !InRegion(l.region, postcode) {
			return nil
		}

		charities[num] = &domain.Charity{
			Number:          num,
			Name:            name,
			Postcode:        postcode,
			Income:          SafeFloat(row["latest_income"], 0),
			Spending:        SafeFloat(row["latest_expenditure"], 0),
			DateRegistered:  strings.TrimSpace(row["date_of_registration"]),
			DateRemoved:     strings.TrimSpace(row["date_of_removal"]),
			Activities:      clipString(strings.TrimSpace(row["charity_activities"]), 300),
			CompanyNumber:   strings.TrimSpace(row["charity_company_registration_number"]),
			ReportingStatus: strings.TrimSpace(row["charity_reporting_status"]),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	l.log.Info().
		Int("raw", total).
		Int("kept", len(charities)).
		Str("region", l.region).
		Msg("Loaded charity register")

	return charities, nil
}

// LoadAnnualReturns attaches the year-by-year filing history.
func (l *Loader) LoadAnnualReturns(path string, charities map[string]*domain.Charity) error {
	attached := 0

	err := ParseTSV(path, func(row map[string]string) error {
		c, ok := charities[strings.TrimSpace(row["registered_charity_number"])]
		if !ok {
			return nil
		}

		periodEnd := parseExtractDate(row["fin_period_end_date"])
		c.Returns = append(c.Returns, domain.AnnualReturn{
			Year:         periodEnd.Year(),
			FinPeriodEnd: periodEnd,
			Income:       SafeFloat(row["total_gross_income"], 0),
			Expenditure:  SafeFloat(row["total_gross_expenditure"], 0),
			ARCycle:      strings.TrimSpace(row["ar_cycle_reference"]),
		})
		attached++
		return nil
	})
	if err != nil {
		return fmt.Errorf("annual returns: %w", err)
	}

	l.log.Info().Int("attached", attached).Msg("Loaded annual return history")
	return nil
}

// LoadPartA merges Part A returns, which carry reserves, employee and
// volunteer counts. Only the latest Part A per charity is kept. Part A
// income and spending, when present, supersede the register headline
// figures, and reserves are copied onto the matching history year so the
// profile derivation can see them.
func (l *Loader) LoadPartA(path string, charities map[string]*domain.Charity) error {
	type partA struct {
		finEnd     time.Time
		income     float64
		spending   float64
		reserves   float64
		hasRes     bool
		employees  int
		volunteers int
	}
	latest := make(map[string]partA)

	err := ParseTSV(path, func(row map[string]string) error {
		num := strings.TrimSpace(row["registered_charity_number"])
		if _, ok := charities[num]; !ok {
			return nil
		}

		finEnd := parseExtractDate(row["fin_period_end_date"])
		if prev, ok := latest[num]; ok && !finEnd.After(prev.finEnd) {
			return nil
		}

		resRaw := strings.TrimSpace(row["reserves"])
		latest[num] = partA{
			finEnd:     finEnd,
			income:     SafeFloat(row["total_gross_income"], 0),
			spending:   SafeFloat(row["total_gross_expenditure"], 0),
			reserves:   SafeFloat(resRaw, 0),
			hasRes:     resRaw != "" && resRaw != "-",
			employees:  SafeInt(row["count_employees"], 0),
			volunteers: SafeInt(row["count_volunteers"], 0),
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("part A returns: %w", err)
	}

	for num, pa := range latest {
		c := charities[num]
		c.Employees = pa.employees
		c.Volunteers = pa.volunteers
		if pa.hasRes {
			reserves := pa.reserves
			c.Reserves = &reserves
			attachReserves(c, pa.finEnd, reserves)
		}
		if pa.income > 0 {
			c.Income = pa.income
		}
		if pa.spending > 0 {
			c.Spending = pa.spending
		}
	}

	l.log.Info().Int("charities", len(latest)).Msg("Merged Part A returns")
	return nil
}

// attachReserves copies a Part A reserves figure onto the history entry for
// the same financial period.
func attachReserves(c *domain.Charity, finEnd time.Time, reserves float64) {
	for i := range c.Returns {
		if c.Returns[i].FinPeriodEnd.Equal(finEnd) {
			r := reserves
			c.Returns[i].Reserves = &r
			return
		}
	}
}

// LoadClassifications attaches What/Who/How classification labels.
func (l *Loader) LoadClassifications(path string, charities map[string]*domain.Charity) error {
	attached := 0

	err := ParseTSV(path, func(row map[string]string) error {
		c, ok := charities[strings.TrimSpace(row["registered_charity_number"])]
		if !ok {
			return nil
		}

		kind := strings.TrimSpace(row["classification_type"])
		code := strings.TrimSpace(row["classification_code"])
		label := classificationLabel(kind, code, strings.TrimSpace(row["classification_description"]))

		switch kind {
		case "What":
			c.Categories = append(c.Categories, label)
		case "Who":
			c.Beneficiaries = append(c.Beneficiaries, label)
		case "How":
			c.Methods = append(c.Methods, label)
		default:
			return nil
		}
		attached++
		return nil
	})
	if err != nil {
		return fmt.Errorf("classifications: %w", err)
	}

	l.log.Info().Int("attached", attached).Msg("Loaded classifications")
	return nil
}

// LoadAreas attaches geographic areas of operation.
func (l *Loader) LoadAreas(path string, charities map[string]*domain.Charity) error {
	attached := 0

	err := ParseTSV(path, func(row map[string]string) error {
		c, ok := charities[strings.TrimSpace(row["registered_charity_number"])]
		if !ok {
			return nil
		}

		area := strings.TrimSpace(row["geographic_area_description"])
		if area == "" {
			return nil
		}
		c.Areas = append(c.Areas, area)
		attached++
		return nil
	})
	if err != nil {
		return fmt.Errorf("areas of operation: %w", err)
	}

	l.log.Info().Int("attached", attached).Msg("Loaded areas of operation")
	return nil
}

// extractDateLayouts covers the formats seen across extract vintages.
var extractDateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

func parseExtractDate(val string) time.Time {
	val = strings.TrimSpace(val)
	for _, layout := range extractDateLayouts {
		if t, err := time.Parse(layout, val); err == nil {
			return t
		}
	}
	return time.Time{}
}

func clipString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
