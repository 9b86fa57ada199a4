package engine

import (
	"fmt"
	"math"

	"github.com/calderstone/charitymap/internal/domain"
)

// Rule identifiers. RuleIDs fixes the evaluation order; the output sequence
// follows this order, not severity.
const (
	RuleCriticalReserves  = "critical_reserves"
	RuleIncomeDrop        = "income_drop"
	RuleSpendingMismatch  = "spending_mismatch"
	RuleLateFiling        = "late_filing"
	RuleExcessiveReserves = "excessive_reserves"
	RuleIncomeSpike       = "income_spike"
)

// RuleIDs lists all anomaly rules in evaluation order.
var RuleIDs = []string{
	RuleCriticalReserves,
	RuleIncomeDrop,
	RuleSpendingMismatch,
	RuleLateFiling,
	RuleExcessiveReserves,
	RuleIncomeSpike,
}

// Detector applies the rule-based anomaly checks to a financial profile.
// This is not fraud detection; a firing rule means "worth a closer look"
// for a donor doing due diligence.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector with a validated threshold configuration.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Detect evaluates every rule against the profile in declaration order.
// Rules are independent: a charity can accumulate anomalies from several
// rules at once. A rule whose signal is absent never fires; absence is not
// an anomaly. Messages embed the computed value so the UI can explain a
// flag without recomputation.
func (d *Detector) Detect(profile domain.FinancialProfile) []domain.Anomaly {
	var anomalies []domain.Anomaly

	for _, id := range RuleIDs {
		signal := ruleSignal(id, profile)
		if signal == nil {
			continue
		}

		rule := d.cfg.Rules[id]
		if !fires(*signal, rule) {
			continue
		}

		anomalies = append(anomalies, domain.Anomaly{
			RuleID:   id,
			Severity: rule.Severity,
			Message:  ruleMessage(id, *signal),
		})
	}

	return anomalies
}

func ruleSignal(id string, p domain.FinancialProfile) *float64 {
	switch id {
	case RuleCriticalReserves, RuleExcessiveReserves:
		return p.ReservesMonths
	case RuleIncomeDrop, RuleIncomeSpike:
		return p.IncomeChangePct
	case RuleSpendingMismatch:
		return p.SpendRatio
	case RuleLateFiling:
		if p.DaysSinceFiling == nil {
			return nil
		}
		days := float64(*p.DaysSinceFiling)
		return &days
	}
	return nil
}

func fires(value float64, rule Rule) bool {
	switch rule.Comparison {
	case CompareLT:
		return value < rule.Threshold
	case CompareGT:
		return value > rule.Threshold
	}
	return false
}

func ruleMessage(id string, value float64) string {
	switch id {
	case RuleCriticalReserves:
		return fmt.Sprintf("Only %.1f months of reserves", value)
	case RuleIncomeDrop:
		return fmt.Sprintf("Income dropped %.0f%% year-over-year", math.Abs(value)*100)
	case RuleSpendingMismatch:
		return fmt.Sprintf("Spending %.0f%% of income", value*100)
	case RuleLateFiling:
		return fmt.Sprintf("No filing for %.0f days", value)
	case RuleExcessiveReserves:
		return fmt.Sprintf("%.0f months of reserves held; funds may not be reaching beneficiaries", value)
	case RuleIncomeSpike:
		return fmt.Sprintf("Income increased %.0f%%; may be a one-off", value*100)
	}
	return ""
}
