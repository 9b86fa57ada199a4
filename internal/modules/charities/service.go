package charities

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/calderstone/charitymap/internal/domain"
	"github.com/calderstone/charitymap/internal/engine"
	"github.com/calderstone/charitymap/internal/geo"
)

// Search errors the handlers translate to HTTP statuses.
var (
	ErrPostcodeNotFound = errors.New("postcode not found")
	ErrNoLocation       = errors.New("provide either a postcode or lat/lng coordinates")
	ErrNotFound         = errors.New("charity not found")
)

// Geocoder resolves a postcode to coordinates. Satisfied by the
// postcodes.io client.
type Geocoder interface {
	Lookup(ctx context.Context, postcode string) (*domain.GeoLocation, error)
}

// Service orchestrates scoring and answers the API queries.
type Service struct {
	repo      *Repository
	scoreRepo *ScoreRepository
	geocoder  Geocoder
	cfg       engine.Config
	scorer    *engine.Scorer
	detector  *engine.Detector
	log       zerolog.Logger
}

// NewService creates the charities service. The scoring configuration is
// validated here so a broken threshold table stops startup.
func NewService(repo *Repository, scoreRepo *ScoreRepository, geocoder Geocoder, cfg engine.Config, log zerolog.Logger) (*Service, error) {
	scorer, err := engine.NewScorer(cfg)
	if err != nil {
		return nil, fmt.Errorf("scoring config rejected: %w", err)
	}
	detector, err := engine.NewDetector(cfg)
	if err != nil {
		return nil, fmt.Errorf("scoring config rejected: %w", err)
	}

	return &Service{
		repo:      repo,
		scoreRepo: scoreRepo,
		geocoder:  geocoder,
		cfg:       cfg,
		scorer:    scorer,
		detector:  detector,
		log:       log.With().Str("component", "charity_service").Logger(),
	}, nil
}

// Config returns the active scoring configuration.
func (s *Service) Config() engine.Config {
	return s.cfg
}

// ScoreAll derives profiles and computes scores and anomalies for every
// charity, fanned out across a bounded worker pool, then persists the new
// scoring generation. asOf fixes the evaluation date so a rerun over the
// same data produces identical results.
func (s *Service) ScoreAll(ctx context.Context, charities map[string]*domain.Charity, asOf time.Time) error {
	start := time.Now()

	jobs := make(chan *domain.Charity)
	resultCh := make(chan ScoredResult, len(charities))
	var invalid int64
	var mu sync.Mutex

	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				profile, err := engine.DeriveProfile(c.Returns, asOf)
				if err != nil {
					mu.Lock()
					invalid++
					mu.Unlock()
					s.log.Warn().Err(err).Str("charity", c.Number).Msg("Skipping charity with invalid filings")
					continue
				}

				res := ScoredResult{Number: c.Number, Profile: profile}
				if profile.HasData() {
					res.Score = s.scorer.ComputeNeedScore(profile)
					res.Anomalies = s.detector.Detect(profile)
				}

				p := profile
				c.Profile = &p
				if profile.HasData() {
					score := res.Score
					c.Score = &score
					c.Anomalies = res.Anomalies
				}

				resultCh <- res
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, c := range charities {
			select {
			case jobs <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(resultCh)

	if err := ctx.Err(); err != nil {
		return err
	}

	results := make([]ScoredResult, 0, len(charities))
	scored := 0
	for res := range resultCh {
		results = append(results, res)
		if res.Profile.HasData() {
			scored++
		}
	}

	if err := s.scoreRepo.ReplaceAll(ctx, results, s.cfg.Version); err != nil {
		return err
	}

	s.log.Info().
		Int("total", len(charities)).
		Int("scored", scored).
		Int64("invalid", invalid).
		Dur("elapsed", time.Since(start)).
		Msg("Scoring pass complete")

	return nil
}

// SearchParams are the /api/search query parameters after parsing.
type SearchParams struct {
	Postcode string
	Lat      *float64
	Lng      *float64
	RadiusKm float64
	Category string
	MinScore int
	Limit    int
	Sort     string
}

// SearchResult is one ranked search hit.
type SearchResult struct {
	domain.CompactCharity
	Distance float64 `json:"distance" msgpack:"distance"`
}

// SearchResponse is the /api/search payload.
type SearchResponse struct {
	Center    domain.GeoLocation `json:"center"`
	Area      string             `json:"area,omitempty"`
	RadiusKm  float64            `json:"radius_km"`
	Total     int                `json:"total"`
	Charities []SearchResult     `json:"charities"`
}

// Search finds charities within a radius of a postcode or coordinate pair.
func (s *Service) Search(ctx context.Context, params SearchParams) (*SearchResponse, error) {
	params = normalizeSearchParams(params)

	var center domain.GeoLocation
	var area string

	switch {
	case params.Postcode != "":
		loc, err := s.geocoder.Lookup(ctx, params.Postcode)
		if err != nil {
			return nil, fmt.Errorf("geocoding failed: %w", err)
		}
		if loc == nil {
			return nil, ErrPostcodeNotFound
		}
		center = *loc
		area = loc.District
	case params.Lat != nil && params.Lng != nil:
		center = domain.GeoLocation{Lat: *params.Lat, Lng: *params.Lng}
	default:
		return nil, ErrNoLocation
	}

	minLat, maxLat, minLng, maxLng := geo.BoundingBox(center.Lat, center.Lng, params.RadiusKm)
	candidates, err := s.repo.SearchCandidates(ctx, minLat, maxLat, minLng, maxLng, params.Category, params.MinScore)
	if err != nil {
		return nil, err
	}

	type hit struct {
		Candidate
		distance float64
	}
	hits := make([]hit, 0, len(candidates))
	for _, cand := range candidates {
		d := geo.DistanceKm(center.Lat, center.Lng, cand.Lat, cand.Lng)
		if d > params.RadiusKm {
			continue
		}
		hits = append(hits, hit{Candidate: cand, distance: d})
	}

	switch params.Sort {
	case "distance":
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	case "income":
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Income > hits[j].Income })
	default:
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	}

	total := len(hits)
	if len(hits) > params.Limit {
		hits = hits[:params.Limit]
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		c, err := s.repo.GetByNumber(ctx, h.Number)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		results = append(results, SearchResult{
			CompactCharity: c.Compact(),
			Distance:       roundDistance(h.distance),
		})
	}

	return &SearchResponse{
		Center:    center,
		Area:      area,
		RadiusKm:  params.RadiusKm,
		Total:     total,
		Charities: results,
	}, nil
}

func normalizeSearchParams(p SearchParams) SearchParams {
	if p.RadiusKm == 0 {
		p.RadiusKm = 5
	}
	if p.RadiusKm < 0.5 {
		p.RadiusKm = 0.5
	}
	if p.RadiusKm > 50 {
		p.RadiusKm = 50
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if p.MinScore < 0 {
		p.MinScore = 0
	}
	if p.MinScore > 100 {
		p.MinScore = 100
	}
	return p
}

func roundDistance(d float64) float64 {
	return math.Round(d*100) / 100
}

// Get returns one charity in full detail.
func (s *Service) Get(ctx context.Context, number string) (*domain.Charity, error) {
	c, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// TopResponse is the /api/top payload.
type TopResponse struct {
	Total     int                     `json:"total"`
	Charities []domain.CompactCharity `json:"charities"`
}

// Top returns the n highest-need charities, optionally within a category.
func (s *Service) Top(ctx context.Context, n int, category string) (*TopResponse, error) {
	if n <= 0 {
		n = 10
	}
	if n > 100 {
		n = 100
	}

	candidates, total, err := s.repo.TopByScore(ctx, n, category)
	if err != nil {
		return nil, err
	}

	charities := make([]domain.CompactCharity, 0, len(candidates))
	for _, cand := range candidates {
		c, err := s.repo.GetByNumber(ctx, cand.Number)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		charities = append(charities, c.Compact())
	}

	return &TopResponse{Total: total, Charities: charities}, nil
}

// Categories returns cause categories with charity counts.
func (s *Service) Categories(ctx context.Context) ([]CategoryCount, error) {
	return s.repo.CategoryCounts(ctx)
}

// ExportCompact returns every viable charity in the compact wire form,
// highest need first. The msgpack encoding happens in the handler.
func (s *Service) ExportCompact(ctx context.Context) ([]domain.CompactCharity, error) {
	numbers, err := s.repo.ViableNumbers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.CompactCharity, 0, len(numbers))
	for _, num := range numbers {
		c, err := s.repo.GetByNumber(ctx, num)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		out = append(out, c.Compact())
	}
	return out, nil
}

// Meta returns register metadata plus the live charity count.
func (s *Service) Meta(ctx context.Context) (map[string]string, int, error) {
	meta, err := s.repo.GetMeta(ctx)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return meta, count, nil
}

// Count returns the number of charities in the register.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
