package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipWithMember(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDownload_ExtractsTextMember(t *testing.T) {
	// Given: A dataset ZIP holding a text extract
	// When: Download runs
	// Then: The text file lands in the data dir and the ZIP is removed

	payload := zipWithMember(t, "publicextract.charity.txt", "header\nrow\n")
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/publicextract.charity.zip", r.URL.Path)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(srv.URL, dir, nil, zerolog.Nop())

	path, err := d.Download(context.Background(), DatasetRegister, false)

	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "header\nrow\n", string(content))

	_, err = os.Stat(path[:len(path)-4] + ".zip")
	assert.True(t, os.IsNotExist(err), "intermediate ZIP should be cleaned up")
}

func TestDownload_ReusesExistingExtract(t *testing.T) {
	// Given: An extract already on disk and no cache repository
	// When: Download runs without force
	// Then: The server is never contacted

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/charity.txt", []byte("cached\n"), 0o644))

	d := NewDownloader(srv.URL, dir, nil, zerolog.Nop())

	_, err := d.Download(context.Background(), DatasetRegister, false)

	require.NoError(t, err)
	assert.Zero(t, requests)
}

func TestDownload_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDownloader(srv.URL, t.TempDir(), nil, zerolog.Nop())

	_, err := d.Download(context.Background(), DatasetRegister, false)

	assert.Error(t, err)
}
