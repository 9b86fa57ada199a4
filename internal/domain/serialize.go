package domain

import "math"

// CompactReturn is the abbreviated wire form of an annual return.
type CompactReturn struct {
	Date   string  `json:"d" msgpack:"d"`
	Income float64 `json:"i" msgpack:"i"`
	Spend  float64 `json:"e" msgpack:"e"`
}

// CompactCharity is the abbreviated wire form sent to the map frontend.
// Keys are shortened to minimise payload size; the full form is served by
// the detail API. Both forms carry every need score and anomaly field.
type CompactCharity struct {
	Number        string             `json:"n" msgpack:"n"`
	Name          string             `json:"nm" msgpack:"nm"`
	Postcode      string             `json:"pc" msgpack:"pc"`
	Income        float64            `json:"inc" msgpack:"inc"`
	Spending      float64            `json:"exp" msgpack:"exp"`
	Reserves      *float64           `json:"res,omitempty" msgpack:"res,omitempty"`
	Employees     int                `json:"emp" msgpack:"emp"`
	Volunteers    int                `json:"vol" msgpack:"vol"`
	Categories    []string           `json:"cat,omitempty" msgpack:"cat,omitempty"`
	Beneficiaries []string           `json:"ben,omitempty" msgpack:"ben,omitempty"`
	Activities    string             `json:"act,omitempty" msgpack:"act,omitempty"`
	Registered    string             `json:"reg,omitempty" msgpack:"reg,omitempty"`
	NeedScore     *int               `json:"ns,omitempty" msgpack:"ns,omitempty"`
	NeedFactors   map[string]int     `json:"nf,omitempty" msgpack:"nf,omitempty"`
	NeedBreakdown map[string]float64 `json:"nb,omitempty" msgpack:"nb,omitempty"`
	Insufficient  bool               `json:"nd,omitempty" msgpack:"nd,omitempty"` // true when no score could be derived
	ReservesMths  *float64           `json:"rm,omitempty" msgpack:"rm,omitempty"`
	IncomeTrend   *float64           `json:"it,omitempty" msgpack:"it,omitempty"`
	SpendRatio    *float64           `json:"sr,omitempty" msgpack:"sr,omitempty"`
	Anomalies     []Anomaly          `json:"an,omitempty" msgpack:"an,omitempty"`
	Returns       []CompactReturn    `json:"ar,omitempty" msgpack:"ar,omitempty"`
	Lat           *float64           `json:"lat,omitempty" msgpack:"lat,omitempty"`
	Lng           *float64           `json:"lng,omitempty" msgpack:"lng,omitempty"`
	District      string             `json:"dist,omitempty" msgpack:"dist,omitempty"`
	Ward          string             `json:"ward,omitempty" msgpack:"ward,omitempty"`
}

// FullCharity is the unabbreviated API form served by the detail endpoint.
type FullCharity struct {
	Number          string             `json:"charity_number"`
	Name            string             `json:"name"`
	Postcode        string             `json:"postcode"`
	CompanyNumber   string             `json:"company_number,omitempty"`
	DateRegistered  string             `json:"date_registered,omitempty"`
	ReportingStatus string             `json:"reporting_status,omitempty"`
	Activities      string             `json:"activities,omitempty"`
	Income          float64            `json:"income"`
	Spending        float64            `json:"spending"`
	Reserves        *float64           `json:"reserves"`
	Employees       int                `json:"employees"`
	Volunteers      int                `json:"volunteers"`
	Categories      []string           `json:"categories"`
	Beneficiaries   []string           `json:"beneficiaries"`
	Methods         []string           `json:"methods"`
	Areas           []string           `json:"area_of_operation"`
	Returns         []AnnualReturn     `json:"annual_returns"`
	NeedScore       *int               `json:"need_score"`
	NeedFactors     map[string]int     `json:"need_factors,omitempty"`
	NeedBreakdown   map[string]float64 `json:"need_breakdown,omitempty"`
	Insufficient    bool               `json:"insufficient_data"`
	ReservesMonths  *float64           `json:"reserves_months"`
	IncomeTrend     *float64           `json:"income_trend"`
	SpendRatio      *float64           `json:"spending_ratio"`
	Anomalies       []Anomaly          `json:"anomalies"`
	Lat             *float64           `json:"latitude"`
	Lng             *float64           `json:"longitude"`
	District        string             `json:"district,omitempty"`
}

// Compact serialises for the map frontend. The return history is truncated
// to the most recent five filings, newest first.
func (c *Charity) Compact() CompactCharity {
	out := CompactCharity{
		Number:        c.Number,
		Name:          c.Name,
		Postcode:      c.Postcode,
		Income:        math.Round(c.Income),
		Spending:      math.Round(c.Spending),
		Reserves:      roundPtr(c.Reserves, 0),
		Employees:     c.Employees,
		Volunteers:    c.Volunteers,
		Categories:    truncate(c.Categories, 3),
		Beneficiaries: truncate(c.Beneficiaries, 2),
		Activities:    clip(c.Activities, 200),
		Registered:    clip(c.DateRegistered, 10),
		Insufficient:  !c.Scored(),
	}

	if c.Score != nil {
		total := c.Score.Total
		out.NeedScore = &total
		out.NeedFactors = c.Score.Factors
		out.NeedBreakdown = c.Score.Breakdown
	}
	if c.Profile != nil {
		out.ReservesMths = roundPtr(c.Profile.ReservesMonths, 1)
		out.IncomeTrend = roundPtr(c.Profile.IncomeChangePct, 3)
		out.SpendRatio = roundPtr(c.Profile.SpendRatio, 3)
	}
	out.Anomalies = c.Anomalies

	recent := newestFirst(c.Returns)
	if len(recent) > 5 {
		recent = recent[:5]
	}
	for _, ar := range recent {
		out.Returns = append(out.Returns, CompactReturn{
			Date:   ar.FinPeriodEnd.Format("2006-01-02"),
			Income: math.Round(ar.Income),
			Spend:  math.Round(ar.Expenditure),
		})
	}

	if c.Geo != nil {
		lat := roundTo(c.Geo.Lat, 5)
		lng := roundTo(c.Geo.Lng, 5)
		out.Lat = &lat
		out.Lng = &lng
		out.District = c.Geo.District
		out.Ward = c.Geo.Ward
	}

	return out
}

// Full serialises for API detail responses.
func (c *Charity) Full() FullCharity {
	out := FullCharity{
		Number:          c.Number,
		Name:            c.Name,
		Postcode:        c.Postcode,
		CompanyNumber:   c.CompanyNumber,
		DateRegistered:  c.DateRegistered,
		ReportingStatus: c.ReportingStatus,
		Activities:      c.Activities,
		Income:          c.Income,
		Spending:        c.Spending,
		Reserves:        c.Reserves,
		Employees:       c.Employees,
		Volunteers:      c.Volunteers,
		Categories:      c.Categories,
		Beneficiaries:   c.Beneficiaries,
		Methods:         c.Methods,
		Areas:           c.Areas,
		Returns:         newestFirst(c.Returns),
		Insufficient:    !c.Scored(),
		Anomalies:       c.Anomalies,
	}

	if c.Score != nil {
		total := c.Score.Total
		out.NeedScore = &total
		out.NeedFactors = c.Score.Factors
		out.NeedBreakdown = c.Score.Breakdown
	}
	if c.Profile != nil {
		out.ReservesMonths = roundPtr(c.Profile.ReservesMonths, 1)
		out.IncomeTrend = roundPtr(c.Profile.IncomeChangePct, 3)
		out.SpendRatio = roundPtr(c.Profile.SpendRatio, 3)
	}
	if c.Geo != nil {
		out.Lat = &c.Geo.Lat
		out.Lng = &c.Geo.Lng
		out.District = c.Geo.District
	}

	return out
}

// newestFirst returns a reversed copy of the returns. Histories are stored
// oldest first.
func newestFirst(returns []AnnualReturn) []AnnualReturn {
	out := make([]AnnualReturn, len(returns))
	copy(out, returns)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func truncate(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	r := roundTo(*v, places)
	return &r
}
