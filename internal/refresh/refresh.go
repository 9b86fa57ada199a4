// Package refresh runs the data pipeline: download the Charity Commission
// extracts, assemble the register, geocode it, persist it and recompute
// scores.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calderstone/charitymap/internal/clients/postcodes"
	"github.com/calderstone/charitymap/internal/domain"
	"github.com/calderstone/charitymap/internal/ingest"
	"github.com/calderstone/charitymap/internal/modules/charities"
)

// ErrAlreadyRunning is returned when a refresh is requested while one is in
// flight.
var ErrAlreadyRunning = errors.New("a refresh is already running")

// Progress is one pipeline status update. Percent is coarse; stages have
// fixed weight regardless of row counts.
type Progress struct {
	RunID   string `json:"run_id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// Notifier receives progress updates. The websocket hub implements this.
type Notifier interface {
	Notify(Progress)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Progress)

// Notify calls the wrapped function.
func (f NotifierFunc) Notify(p Progress) { f(p) }

// Summary describes a completed refresh.
type Summary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Charities int           `json:"charities"`
	Geocoded  int           `json:"geocoded"`
}

// BulkGeocoder resolves many postcodes at once. Satisfied by the
// postcodes.io client.
type BulkGeocoder interface {
	BulkLookup(ctx context.Context, postcodes []string) (map[string]*domain.GeoLocation, error)
}

// Runner executes the refresh pipeline. One refresh at a time; a second
// request while one is running fails fast with ErrAlreadyRunning.
type Runner struct {
	downloader *ingest.Downloader
	loader     *ingest.Loader
	geocoder   BulkGeocoder
	repo       *charities.Repository
	service    *charities.Service
	region     string
	log        zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewRunner creates a refresh runner.
func NewRunner(downloader *ingest.Downloader, loader *ingest.Loader, geocoder BulkGeocoder, repo *charities.Repository, service *charities.Service, region string, log zerolog.Logger) *Runner {
	return &Runner{
		downloader: downloader,
		loader:     loader,
		geocoder:   geocoder,
		repo:       repo,
		service:    service,
		region:     region,
		log:        log.With().Str("component", "refresh").Logger(),
	}
}

// Running reports whether a refresh is currently in flight.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run executes the full pipeline. notifier may be nil.
func (r *Runner) Run(ctx context.Context, force bool, notifier Notifier) (*Summary, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	runID := uuid.New().String()
	started := time.Now()
	log := r.log.With().Str("run_id", runID).Logger()
	notify := func(stage, message string, percent int) {
		if notifier != nil {
			notifier.Notify(Progress{RunID: runID, Stage: stage, Message: message, Percent: percent})
		}
	}

	log.Info().Bool("force", force).Str("region", r.region).Msg("Refresh started")
	notify("download", "Downloading Charity Commission extracts", 0)

	paths, err := r.downloader.DownloadAll(ctx, force)
	if err != nil {
		return nil, fmt.Errorf("download stage: %w", err)
	}

	notify("load", "Assembling charity register", 30)
	register, err := r.loader.LoadAll(paths)
	if err != nil {
		return nil, fmt.Errorf("load stage: %w", err)
	}

	notify("geocode", fmt.Sprintf("Geocoding %d charities", len(register)), 55)
	geocoded, err := r.geocode(ctx, register)
	if err != nil {
		return nil, fmt.Errorf("geocode stage: %w", err)
	}

	notify("persist", "Rebuilding register database", 75)
	if err := r.repo.ReplaceAll(ctx, register); err != nil {
		return nil, fmt.Errorf("persist stage: %w", err)
	}

	notify("score", "Computing need scores", 85)
	if err := r.service.ScoreAll(ctx, register, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("score stage: %w", err)
	}

	if err := r.writeMeta(ctx, runID, started, len(register), geocoded); err != nil {
		return nil, fmt.Errorf("meta stage: %w", err)
	}

	summary := &Summary{
		RunID:     runID,
		StartedAt: started.UTC(),
		Elapsed:   time.Since(started),
		Charities: len(register),
		Geocoded:  geocoded,
	}

	notify("done", fmt.Sprintf("Refresh complete: %d charities", summary.Charities), 100)
	log.Info().
		Int("charities", summary.Charities).
		Int("geocoded", summary.Geocoded).
		Dur("elapsed", summary.Elapsed).
		Msg("Refresh complete")

	return summary, nil
}

// geocode resolves every postcode in the register and attaches locations.
// Charities whose postcode cannot be resolved stay in the register without
// coordinates; they are reachable by number but invisible to radius search.
func (r *Runner) geocode(ctx context.Context, register map[string]*domain.Charity) (int, error) {
	codes := make([]string, 0, len(register))
	for _, c := range register {
		if c.Postcode != "" {
			codes = append(codes, c.Postcode)
		}
	}

	locations, err := r.geocoder.BulkLookup(ctx, codes)
	if err != nil {
		return 0, err
	}

	geocoded := 0
	for _, c := range register {
		if loc, ok := locations[postcodes.Normalize(c.Postcode)]; ok && loc != nil {
			c.Geo = loc
			geocoded++
		}
	}

	r.log.Info().
		Int("charities", len(register)).
		Int("geocoded", geocoded).
		Msg("Geocoding complete")

	return geocoded, nil
}

func (r *Runner) writeMeta(ctx context.Context, runID string, started time.Time, charities, geocoded int) error {
	entries := map[string]string{
		"last_run_id":     runID,
		"generated_at":    started.UTC().Format(time.RFC3339),
		"region":          r.region,
		"charities_total": strconv.Itoa(charities),
		"geocoded_total":  strconv.Itoa(geocoded),
		"scoring_version": r.service.Config().Version,
	}
	for k, v := range entries {
		if err := r.repo.SetMeta(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
