package clientdata

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderstone/charitymap/internal/database"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(db.Conn())
}

func TestRepository_StoreAndGetIfFresh(t *testing.T) {
	// Given: A geocoding result stored with a long TTL
	// When: GetIfFresh is called before expiry
	// Then: The stored JSON comes back intact

	repo := newTestRepo(t)
	stored := map[string]interface{}{"lat": 51.5074, "lng": -0.1278}

	require.NoError(t, repo.Store("postcodes", "SW1A 1AA", stored, time.Hour))

	data, err := repo.GetIfFresh("postcodes", "SW1A 1AA")
	require.NoError(t, err)
	require.NotNil(t, data)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.InDelta(t, 51.5074, got["lat"], 0.0001)
}

func TestRepository_GetIfFreshExpired(t *testing.T) {
	// Given: An entry stored with a TTL already in the past
	// When: GetIfFresh is called
	// Then: Nothing is returned, but Get still serves the stale entry

	repo := newTestRepo(t)
	require.NoError(t, repo.Store("postcodes", "E1 6AN", map[string]float64{"lat": 51.52}, -time.Minute))

	fresh, err := repo.GetIfFresh("postcodes", "E1 6AN")
	require.NoError(t, err)
	assert.Nil(t, fresh)

	stale, err := repo.Get("postcodes", "E1 6AN")
	require.NoError(t, err)
	assert.NotNil(t, stale, "stale data should remain reachable as a fallback")
}

func TestRepository_MissingKey(t *testing.T) {
	repo := newTestRepo(t)

	data, err := repo.GetIfFresh("postcodes", "ZZ99 9ZZ")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRepository_RejectsUnknownTable(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Store("charities; DROP TABLE postcodes", "x", "y", time.Hour)
	assert.Error(t, err)
}

func TestRepository_DeleteExpired(t *testing.T) {
	// Given: One fresh and one expired entry
	// When: DeleteExpired runs
	// Then: Only the expired entry is removed

	repo := newTestRepo(t)
	require.NoError(t, repo.Store("datasets", "register", "v1", time.Hour))
	require.NoError(t, repo.Store("datasets", "returns", "v1", -time.Minute))

	deleted, err := repo.DeleteExpired("datasets")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	fresh, err := repo.GetIfFresh("datasets", "register")
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}
