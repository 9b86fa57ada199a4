package engine

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/calderstone/charitymap/internal/domain"
)

// Comparison directions for bands and rules.
const (
	CompareLT = "lt" // fires when signal < threshold
	CompareGT = "gt" // fires when signal > threshold
)

// Band is one step of a factor's step function: the first matching band wins.
type Band struct {
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
	Points    int     `mapstructure:"points" yaml:"points"`
}

// Factor configures one need score factor: an ordered band list evaluated
// most severe first, and the maximum contribution toward the total.
type Factor struct {
	Max        int    `mapstructure:"max" yaml:"max"`
	Comparison string `mapstructure:"comparison" yaml:"comparison"`
	Bands      []Band `mapstructure:"bands" yaml:"bands"`
}

// Rule configures one anomaly detection rule. Rule evaluation order and
// message templates are fixed; thresholds and severities are tunable.
type Rule struct {
	Threshold  float64         `mapstructure:"threshold" yaml:"threshold"`
	Comparison string          `mapstructure:"comparison" yaml:"comparison"`
	Severity   domain.Severity `mapstructure:"severity" yaml:"severity"`
}

// Config is the single versioned threshold table consulted by the scorer and
// the detector. It is injected at construction and validated once, so a bad
// configuration fails loudly at startup instead of corrupting every score.
type Config struct {
	Version string            `mapstructure:"version" yaml:"version"`
	Factors map[string]Factor `mapstructure:"factors" yaml:"factors"`
	Rules   map[string]Rule   `mapstructure:"rules" yaml:"rules"`
}

// DefaultConfig returns the standard scoring and anomaly thresholds.
func DefaultConfig() Config {
	return Config{
		Version: "1",
		Factors: map[string]Factor{
			domain.FactorLowReserves: {
				Max:        30,
				Comparison: CompareLT,
				Bands: []Band{
					{Threshold: 1, Points: 30}, // under a month of reserves
					{Threshold: 3, Points: 20},
					{Threshold: 6, Points: 10},
				},
			},
			domain.FactorIncomeDeclining: {
				Max:        25,
				Comparison: CompareLT,
				Bands: []Band{
					{Threshold: -0.30, Points: 25}, // >30% drop year-over-year
					{Threshold: -0.10, Points: 15},
					{Threshold: 0, Points: 5}, // any drop
				},
			},
			domain.FactorOverspending: {
				Max:        20,
				Comparison: CompareGT,
				Bands: []Band{
					{Threshold: 1.20, Points: 20}, // spending >120% of income
					{Threshold: 1.00, Points: 10},
				},
			},
			domain.FactorSmallCharity: {
				Max:        15,
				Comparison: CompareLT,
				Bands: []Band{
					{Threshold: 10_000, Points: 15},
					{Threshold: 100_000, Points: 10},
					{Threshold: 1_000_000, Points: 5},
				},
			},
			domain.FactorLateFiling: {
				Max:        10,
				Comparison: CompareGT,
				Bands: []Band{
					{Threshold: 730, Points: 10}, // >2 years since last filing
					{Threshold: 547, Points: 5},  // >18 months
				},
			},
		},
		Rules: map[string]Rule{
			RuleCriticalReserves:  {Threshold: 1, Comparison: CompareLT, Severity: domain.SeverityCritical},
			RuleIncomeDrop:        {Threshold: -0.30, Comparison: CompareLT, Severity: domain.SeverityCritical},
			RuleSpendingMismatch:  {Threshold: 1.30, Comparison: CompareGT, Severity: domain.SeverityWarning},
			RuleLateFiling:        {Threshold: 730, Comparison: CompareGT, Severity: domain.SeverityWarning},
			RuleExcessiveReserves: {Threshold: 36, Comparison: CompareGT, Severity: domain.SeverityInfo},
			RuleIncomeSpike:       {Threshold: 2.0, Comparison: CompareGT, Severity: domain.SeverityInfo},
		},
	}
}

// LoadConfig reads a scoring configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("failed to read scoring config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse scoring config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks every required factor and rule key is present and sane.
func (c Config) Validate() error {
	for _, key := range domain.FactorKeys {
		f, ok := c.Factors[key]
		if !ok {
			return &ConfigError{Key: key, Reason: "factor missing"}
		}
		if err := f.validate(key); err != nil {
			return err
		}
	}

	for _, id := range RuleIDs {
		r, ok := c.Rules[id]
		if !ok {
			return &ConfigError{Key: id, Reason: "rule missing"}
		}
		if r.Comparison != CompareLT && r.Comparison != CompareGT {
			return &ConfigError{Key: id, Reason: fmt.Sprintf("unknown comparison %q", r.Comparison)}
		}
		switch r.Severity {
		case domain.SeverityCritical, domain.SeverityWarning, domain.SeverityInfo:
		default:
			return &ConfigError{Key: id, Reason: fmt.Sprintf("unknown severity %q", r.Severity)}
		}
	}

	return nil
}

func (f Factor) validate(key string) error {
	if f.Max <= 0 {
		return &ConfigError{Key: key, Reason: "max must be positive"}
	}
	if f.Comparison != CompareLT && f.Comparison != CompareGT {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("unknown comparison %q", f.Comparison)}
	}
	if len(f.Bands) == 0 {
		return &ConfigError{Key: key, Reason: "no bands configured"}
	}

	prevPoints := f.Max + 1
	for i, b := range f.Bands {
		if b.Points <= 0 || b.Points > f.Max {
			return &ConfigError{Key: key, Reason: fmt.Sprintf("band %d points %d outside (0, %d]", i, b.Points, f.Max)}
		}
		// Bands run most severe to least severe; points must not increase.
		if b.Points >= prevPoints {
			return &ConfigError{Key: key, Reason: fmt.Sprintf("band %d points not decreasing", i)}
		}
		prevPoints = b.Points

		if i > 0 {
			prev := f.Bands[i-1].Threshold
			if f.Comparison == CompareLT && b.Threshold <= prev {
				return &ConfigError{Key: key, Reason: fmt.Sprintf("band %d threshold not ascending", i)}
			}
			if f.Comparison == CompareGT && b.Threshold >= prev {
				return &ConfigError{Key: key, Reason: fmt.Sprintf("band %d threshold not descending", i)}
			}
		}
	}

	return nil
}

// MaxTotal is the sum of all factor maxima; with the default configuration
// this is exactly 100.
func (c Config) MaxTotal() int {
	total := 0
	for _, f := range c.Factors {
		total += f.Max
	}
	return total
}
