// Package postcodes provides UK postcode geocoding via postcodes.io
// (free, no API key required) with persistent caching.
package postcodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calderstone/charitymap/internal/clientdata"
	"github.com/calderstone/charitymap/internal/domain"
)

// BatchSize is the maximum postcodes per bulk request, a postcodes.io limit.
const BatchSize = 100

// Client for api.postcodes.io
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a new postcodes.io client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.postcodes.io"
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log.With().Str("client", "postcodes-io").Logger(),
		cacheRepo: cacheRepo,
	}
}

// Normalize uppercases a postcode and collapses internal whitespace to the
// single-space canonical form used as the cache key.
func Normalize(postcode string) string {
	fields := strings.Fields(strings.ToUpper(postcode))
	return strings.Join(fields, " ")
}

type apiResult struct {
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	AdminDistrict string   `json:"admin_district"`
	AdminWard     string   `json:"admin_ward"`
}

func (r *apiResult) toLocation() *domain.GeoLocation {
	if r == nil || r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &domain.GeoLocation{
		Lat:      *r.Latitude,
		Lng:      *r.Longitude,
		District: r.AdminDistrict,
		Ward:     r.AdminWard,
	}
}

// Lookup geocodes a single postcode. Used by the search API for the
// postcode-centred radius search. Returns nil, nil when the postcode is
// unknown to postcodes.io.
func (c *Client) Lookup(ctx context.Context, postcode string) (*domain.GeoLocation, error) {
	postcode = Normalize(postcode)
	if postcode == "" {
		return nil, fmt.Errorf("empty postcode")
	}

	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("postcodes", postcode)
		if err == nil && data != nil {
			var cached domain.GeoLocation
			if err := json.Unmarshal(data, &cached); err == nil {
				c.log.Debug().Str("postcode", postcode).Msg("Cache hit")
				return &cached, nil
			}
		}
	}

	reqURL := c.baseURL + "/postcodes/" + url.PathEscape(postcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if stale, ok := c.getStaleFromCache(postcode); ok {
			c.log.Warn().Err(err).Str("postcode", postcode).Msg("API failed, using stale cached location")
			return stale, nil
		}
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		if stale, ok := c.getStaleFromCache(postcode); ok {
			c.log.Warn().Int("status", resp.StatusCode).Str("postcode", postcode).Msg("API error, using stale cached location")
			return stale, nil
		}
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var body struct {
		Status int        `json:"status"`
		Result *apiResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	loc := body.Result.toLocation()
	if loc == nil {
		return nil, nil
	}

	c.cache(postcode, loc)
	return loc, nil
}

// BulkLookup geocodes postcodes in batches of BatchSize. Cached entries are
// served locally; only misses go to the API. The result maps normalized
// postcode to location; unknown postcodes are simply absent.
func (c *Client) BulkLookup(ctx context.Context, postcodes []string) (map[string]*domain.GeoLocation, error) {
	results := make(map[string]*domain.GeoLocation, len(postcodes))

	var misses []string
	seen := make(map[string]bool, len(postcodes))
	for _, pc := range postcodes {
		pc = Normalize(pc)
		if pc == "" || seen[pc] {
			continue
		}
		seen[pc] = true

		if c.cacheRepo != nil {
			data, err := c.cacheRepo.GetIfFresh("postcodes", pc)
			if err == nil && data != nil {
				var cached domain.GeoLocation
				if err := json.Unmarshal(data, &cached); err == nil {
					results[pc] = &cached
					continue
				}
			}
		}
		misses = append(misses, pc)
	}

	c.log.Info().
		Int("total", len(seen)).
		Int("cached", len(results)).
		Int("misses", len(misses)).
		Msg("Bulk geocoding")

	for start := 0; start < len(misses); start += BatchSize {
		end := start + BatchSize
		if end > len(misses) {
			end = len(misses)
		}

		batch, err := c.sendBatch(ctx, misses[start:end])
		if err != nil {
			return results, fmt.Errorf("bulk geocode batch at offset %d: %w", start, err)
		}
		for pc, loc := range batch {
			results[pc] = loc
			c.cache(pc, loc)
		}
	}

	return results, nil
}

func (c *Client) sendBatch(ctx context.Context, batch []string) (map[string]*domain.GeoLocation, error) {
	payload, err := json.Marshal(map[string][]string{"postcodes": batch})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/postcodes", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var body struct {
		Status int `json:"status"`
		Result []struct {
			Query  string     `json:"query"`
			Result *apiResult `json:"result"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make(map[string]*domain.GeoLocation, len(body.Result))
	for _, item := range body.Result {
		if loc := item.Result.toLocation(); loc != nil {
			results[Normalize(item.Query)] = loc
		}
	}

	return results, nil
}

func (c *Client) cache(postcode string, loc *domain.GeoLocation) {
	if c.cacheRepo == nil || loc == nil {
		return
	}
	if err := c.cacheRepo.Store("postcodes", postcode, loc, clientdata.TTLPostcode); err != nil {
		c.log.Warn().Err(err).Str("postcode", postcode).Msg("Failed to cache location")
	}
}

// getStaleFromCache retrieves a cached location even if expired.
// Stale coordinates beat no coordinates; postcodes do not move.
func (c *Client) getStaleFromCache(postcode string) (*domain.GeoLocation, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	data, err := c.cacheRepo.Get("postcodes", postcode)
	if err != nil || data == nil {
		return nil, false
	}

	var cached domain.GeoLocation
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}

	return &cached, true
}
