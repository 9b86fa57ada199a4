package clientdata

import "time"

// TTL constants for different data types.
const (
	// Postcode coordinates effectively never move
	TTLPostcode = 90 * 24 * time.Hour // 90 days

	// Register extracts are republished monthly
	TTLDataset = 7 * 24 * time.Hour // 7 days
)
