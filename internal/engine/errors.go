package engine

import "fmt"

// InvalidRecordError reports a malformed annual return. Malformed filings are
// rejected outright rather than scored, since a silently coerced value would
// misrank the charity.
type InvalidRecordError struct {
	Year  int
	Field string
	Value float64
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid annual return for year %d: %s = %v", e.Year, e.Field, e.Value)
}

// ConfigError reports a missing or out-of-range threshold configuration key.
// Raised once at construction time, never per charity.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scoring config %q: %s", e.Key, e.Reason)
}
