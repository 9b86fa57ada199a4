package ingest

import (
	"strconv"
	"strings"
)

// RegionLondon restricts the register to charities whose contact postcode
// carries a London district outward code.
const RegionLondon = "london"

var londonPrefixes = []string{"E", "EC", "N", "NW", "SE", "SW", "W", "WC"}

// londonOutward holds every outward code formed from a London district
// prefix and a digit suffix 0-29 (E1, SW19, WC2 and so on).
var londonOutward = func() map[string]bool {
	codes := make(map[string]bool)
	for _, prefix := range londonPrefixes {
		codes[prefix] = true
		for i := 0; i < 30; i++ {
			codes[prefix+strconv.Itoa(i)] = true
		}
	}
	return codes
}()

// InRegion reports whether a postcode belongs to the named region.
// An empty region matches everything.
func InRegion(region, postcode string) bool {
	if region == "" {
		return true
	}
	if region != RegionLondon {
		return false
	}
	return londonOutward[outwardCode(postcode)]
}

// outwardCode extracts the outward half of a postcode. Without a space the
// inward part is assumed to be the standard trailing three characters.
func outwardCode(postcode string) string {
	postcode = strings.TrimSpace(strings.ToUpper(postcode))
	if idx := strings.IndexByte(postcode, ' '); idx >= 0 {
		return postcode[:idx]
	}
	if len(postcode) > 3 {
		return strings.TrimSpace(postcode[:len(postcode)-3])
	}
	return postcode
}
