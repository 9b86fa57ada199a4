package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderstone/charitymap/internal/database"
)

type memoryStore struct {
	objects map[string][]byte
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(_ context.Context, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]StoredObject, error) {
	var out []StoredObject
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, StoredObject{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func newTestDB(t *testing.T, name string, profile database.DatabaseProfile) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	members := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		members[header.Name] = content
	}
	return members
}

func TestCreateSnapshot_ArchivesBothDatabases(t *testing.T) {
	// Given: A register and a cache database with live data
	// When: A snapshot is created
	// Then: The uploaded archive holds both copies plus a metadata file with
	// checksums

	register := newTestDB(t, "register", database.ProfileStandard)
	cache := newTestDB(t, "cache", database.ProfileCache)
	_, err := register.Exec(
		"INSERT INTO charities (number, name, postcode, income, spending) VALUES (?, ?, ?, ?, ?)",
		"200001", "East End Foodbank", "E1 6AN", 100000.0, 120000.0)
	require.NoError(t, err)

	store := newMemoryStore()
	svc := NewSnapshotService(store, []*database.DB{register, cache}, t.TempDir(), 7, zerolog.Nop())

	require.NoError(t, svc.CreateSnapshot(context.Background()))

	require.Len(t, store.objects, 1)
	var key string
	for k := range store.objects {
		key = k
	}
	assert.True(t, strings.HasPrefix(key, snapshotPrefix))
	assert.True(t, strings.HasSuffix(key, ".tar.gz"))

	members := readArchive(t, store.objects[key])
	require.Contains(t, members, "register.db")
	require.Contains(t, members, "cache.db")
	require.Contains(t, members, "snapshot-metadata.json")
	assert.NotEmpty(t, members["register.db"])

	var meta SnapshotMetadata
	require.NoError(t, json.Unmarshal(members["snapshot-metadata.json"], &meta))
	require.Len(t, meta.Databases, 2)
	assert.Equal(t, "register", meta.Databases[0].Name)
	assert.Equal(t, "cache", meta.Databases[1].Name)
	for _, db := range meta.Databases {
		assert.True(t, strings.HasPrefix(db.Checksum, "sha256:"))
		assert.Positive(t, db.SizeBytes)
	}
}

func TestListSnapshots_NewestFirst(t *testing.T) {
	// Given: Three stored snapshots and one stray object
	// When: Snapshots are listed
	// Then: Only snapshots come back, newest first

	store := newMemoryStore()
	for _, stamp := range []string{"2026-08-01-060000", "2026-08-03-060000", "2026-08-02-060000"} {
		store.objects[snapshotPrefix+stamp+".tar.gz"] = []byte("archive")
	}
	store.objects["unrelated.txt"] = []byte("noise")

	svc := NewSnapshotService(store, nil, t.TempDir(), 7, zerolog.Nop())

	snapshots, err := svc.ListSnapshots(context.Background())

	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.Equal(t, time.Date(2026, 8, 3, 6, 0, 0, 0, time.UTC), snapshots[0].Timestamp)
	assert.Equal(t, time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC), snapshots[2].Timestamp)
}

func TestPrune_KeepsRetentionCount(t *testing.T) {
	// Given: Five stored snapshots and a retention of two
	// When: Prune runs
	// Then: The three oldest are deleted

	store := newMemoryStore()
	for day := 1; day <= 5; day++ {
		store.objects[fmt.Sprintf("%s2026-08-0%d-060000.tar.gz", snapshotPrefix, day)] = []byte("archive")
	}

	svc := NewSnapshotService(store, nil, t.TempDir(), 2, zerolog.Nop())

	require.NoError(t, svc.Prune(context.Background()))

	assert.Len(t, store.objects, 2)
	assert.Contains(t, store.objects, snapshotPrefix+"2026-08-05-060000.tar.gz")
	assert.Contains(t, store.objects, snapshotPrefix+"2026-08-04-060000.tar.gz")
	assert.Len(t, store.deleted, 3)
}
