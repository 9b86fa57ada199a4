package refresh

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderstone/charitymap/internal/database"
	"github.com/calderstone/charitymap/internal/domain"
	"github.com/calderstone/charitymap/internal/engine"
	"github.com/calderstone/charitymap/internal/ingest"
	"github.com/calderstone/charitymap/internal/modules/charities"
)

type fakeBulkGeocoder struct {
	mu        sync.Mutex
	locations map[string]*domain.GeoLocation
	calls     int
	entered   chan struct{}
	release   chan struct{}
}

func (f *fakeBulkGeocoder) BulkLookup(_ context.Context, _ []string) (map[string]*domain.GeoLocation, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.locations, nil
}

func zipOf(t *testing.T, member, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(member)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// extractServer serves ZIP extracts the way the Charity Commission blob
// store does, one archive per dataset.
func extractServer(t *testing.T) *httptest.Server {
	t.Helper()

	extracts := map[string]string{
		ingest.DatasetRegister: "registered_charity_number\tcharity_name\tcharity_registration_status\tcharity_contact_postcode\tlatest_income\tlatest_expenditure\n" +
			"200001\tEast End Foodbank\tRegistered\tE1 6AN\t100000\t120000\n",
		ingest.DatasetReturnHistory: "registered_charity_number\tfin_period_end_date\ttotal_gross_income\ttotal_gross_expenditure\tar_cycle_reference\n" +
			"200001\t2023-12-31\t100000\t120000\tAR23\n" +
			"200001\t2022-12-31\t150000\t140000\tAR22\n",
		ingest.DatasetReturnPartA: "registered_charity_number\tfin_period_end_date\ttotal_gross_income\ttotal_gross_expenditure\treserves\tcount_employees\tcount_volunteers\n" +
			"200001\t2023-12-31\t100000\t120000\t5000\t2\t15\n",
		ingest.DatasetClassification: "registered_charity_number\tclassification_type\tclassification_code\tclassification_description\n" +
			"200001\tWhat\t105\tRelief of Poverty\n",
		ingest.DatasetAreaOfOperation: "registered_charity_number\tgeographic_area_description\n" +
			"200001\tTower Hamlets\n",
	}

	mux := http.NewServeMux()
	for name, content := range extracts {
		payload := zipOf(t, name+".txt", content)
		mux.HandleFunc(fmt.Sprintf("/publicextract.%s.zip", name), func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(payload)
		})
	}
	return httptest.NewServer(mux)
}

func newTestRunner(t *testing.T, geocoder *fakeBulkGeocoder) (*Runner, *charities.Repository) {
	t.Helper()

	srv := extractServer(t)
	t.Cleanup(srv.Close)

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "register.db"),
		Profile: database.ProfileStandard,
		Name:    "register",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	repo := charities.NewRepository(db.Conn(), zerolog.Nop())
	scoreRepo := charities.NewScoreRepository(db.Conn(), zerolog.Nop())

	svc, err := charities.NewService(repo, scoreRepo, nil, engine.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	downloader := ingest.NewDownloader(srv.URL, t.TempDir(), nil, zerolog.Nop())
	loader := ingest.NewLoader(ingest.RegionLondon, zerolog.Nop())

	runner := NewRunner(downloader, loader, geocoder, repo, svc, ingest.RegionLondon, zerolog.Nop())
	return runner, repo
}

func TestRun_FullPipeline(t *testing.T) {
	// Given: Extract archives, a geocoder that knows the postcode, and empty
	// databases
	// When: A refresh runs
	// Then: The charity is loaded, geocoded, scored and meta is written

	geocoder := &fakeBulkGeocoder{locations: map[string]*domain.GeoLocation{
		"E1 6AN": {Lat: 51.5203, Lng: -0.0293, District: "Tower Hamlets"},
	}}
	runner, repo := newTestRunner(t, geocoder)

	var updates []Progress
	notifier := NotifierFunc(func(p Progress) { updates = append(updates, p) })

	summary, err := runner.Run(context.Background(), true, notifier)

	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Charities)
	assert.Equal(t, 1, summary.Geocoded)

	c, err := repo.GetByNumber(context.Background(), "200001")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "East End Foodbank", c.Name)
	require.NotNil(t, c.Geo)
	assert.Equal(t, "Tower Hamlets", c.Geo.District)
	require.NotNil(t, c.Score, "refreshed charity carries a need score")

	meta, err := repo.GetMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", meta["charities_total"])
	assert.Equal(t, summary.RunID, meta["last_run_id"])
	assert.Equal(t, ingest.RegionLondon, meta["region"])
	assert.NotEmpty(t, meta["generated_at"])
	assert.NotEmpty(t, meta["scoring_version"])

	require.NotEmpty(t, updates)
	assert.Equal(t, "download", updates[0].Stage)
	last := updates[len(updates)-1]
	assert.Equal(t, "done", last.Stage)
	assert.Equal(t, 100, last.Percent)
	for _, p := range updates {
		assert.Equal(t, summary.RunID, p.RunID, "every update carries the run id")
	}
}

func TestGeocode_NormalizesPostcodeKeys(t *testing.T) {
	// Given: A register postcode in a messy form and lookup results keyed by
	// the canonical form
	// When: The geocode stage attaches locations
	// Then: The charity still gets its location, via key normalization

	geocoder := &fakeBulkGeocoder{locations: map[string]*domain.GeoLocation{
		"E1 6AN": {Lat: 51.5203, Lng: -0.0293, District: "Tower Hamlets"},
	}}
	runner := NewRunner(nil, nil, geocoder, nil, nil, "", zerolog.Nop())

	register := map[string]*domain.Charity{
		"200001": {Number: "200001", Name: "East End Foodbank", Postcode: "e1   6an"},
		"200002": {Number: "200002", Name: "No Postcode Fund"},
	}

	geocoded, err := runner.geocode(context.Background(), register)

	require.NoError(t, err)
	assert.Equal(t, 1, geocoded)
	require.NotNil(t, register["200001"].Geo)
	assert.Equal(t, "Tower Hamlets", register["200001"].Geo.District)
	assert.Nil(t, register["200002"].Geo)
}

func TestRun_RejectsConcurrentRefresh(t *testing.T) {
	// Given: A refresh blocked mid-pipeline
	// When: A second refresh is requested
	// Then: It fails fast with ErrAlreadyRunning

	geocoder := &fakeBulkGeocoder{
		locations: map[string]*domain.GeoLocation{},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	runner, _ := newTestRunner(t, geocoder)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background(), true, nil)
		done <- err
	}()

	select {
	case <-geocoder.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("first refresh never reached the geocode stage")
	}

	assert.True(t, runner.Running())
	_, err := runner.Run(context.Background(), true, nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(geocoder.release)
	require.NoError(t, <-done)
	assert.False(t, runner.Running())
}
