package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calderstone/charitymap/internal/clientdata"
)

// Downloader fetches dataset ZIPs and extracts the delimited text file
// inside. Extracted files are kept on disk so a restart between download
// and load does not redo the transfer.
type Downloader struct {
	baseURL   string
	dataDir   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// downloadRecord is what we remember about a completed download.
type downloadRecord struct {
	URL          string    `json:"url"`
	SizeBytes    int64     `json:"size_bytes"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// NewDownloader creates a downloader writing extracts under dataDir.
// cacheRepo is optional; when present, download metadata is recorded so the
// refresh pipeline can skip datasets fetched recently.
func NewDownloader(baseURL, dataDir string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Downloader {
	if baseURL == "" {
		baseURL = DefaultBlobBase
	}
	return &Downloader{
		baseURL:   strings.TrimRight(baseURL, "/"),
		dataDir:   dataDir,
		client:    &http.Client{Timeout: 10 * time.Minute},
		log:       log.With().Str("component", "downloader").Logger(),
		cacheRepo: cacheRepo,
	}
}

// DownloadAll fetches every dataset and returns dataset name to the path of
// its extracted text file. With force=false, datasets whose extract exists
// and whose download record is still fresh are skipped.
func (d *Downloader) DownloadAll(ctx context.Context, force bool) (map[string]string, error) {
	if err := os.MkdirAll(d.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	paths := make(map[string]string, len(AllDatasets))
	for _, name := range AllDatasets {
		path, err := d.Download(ctx, name, force)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", name, err)
		}
		paths[name] = path
	}
	return paths, nil
}

// Download fetches one dataset ZIP and extracts it. Returns the path of the
// extracted text file.
func (d *Downloader) Download(ctx context.Context, name string, force bool) (string, error) {
	txtPath := filepath.Join(d.dataDir, name+".txt")

	if !force && d.extractUsable(name, txtPath) {
		d.log.Debug().Str("dataset", name).Msg("Using cached extract")
		return txtPath, nil
	}

	url := fmt.Sprintf("%s/publicextract.%s.zip", d.baseURL, name)
	zipPath := filepath.Join(d.dataDir, name+".zip")

	d.log.Info().Str("dataset", name).Str("url", url).Msg("Downloading dataset")

	size, err := d.fetch(ctx, url, zipPath)
	if err != nil {
		return "", err
	}

	d.log.Info().
		Str("dataset", name).
		Int64("bytes", size).
		Msg("Downloaded, extracting")

	if err := extractText(zipPath, txtPath); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", name, err)
	}

	// The ZIP is only an intermediate artifact
	_ = os.Remove(zipPath)

	if d.cacheRepo != nil {
		rec := downloadRecord{URL: url, SizeBytes: size, DownloadedAt: time.Now().UTC()}
		if err := d.cacheRepo.Store("datasets", name, rec, clientdata.TTLDataset); err != nil {
			d.log.Warn().Err(err).Str("dataset", name).Msg("Failed to record download")
		}
	}

	return txtPath, nil
}

// extractUsable reports whether a previously extracted file can be reused:
// it must exist and, when we track downloads, its record must be fresh.
func (d *Downloader) extractUsable(name, txtPath string) bool {
	if _, err := os.Stat(txtPath); err != nil {
		return false
	}
	if d.cacheRepo == nil {
		return true
	}
	data, err := d.cacheRepo.GetIfFresh("datasets", name)
	return err == nil && data != nil
}

func (d *Downloader) fetch(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer f.Close()

	size, err := io.Copy(f, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}

	return size, nil
}

// extractText pulls the first .txt or .csv member out of the archive,
// falling back to the first member of any name.
func extractText(zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	if len(zr.File) == 0 {
		return fmt.Errorf("archive is empty")
	}

	member := zr.File[0]
	for _, f := range zr.File {
		lower := strings.ToLower(f.Name)
		if strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".csv") {
			member = f
			break
		}
	}

	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("failed to open member %s: %w", member.Name, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("failed to extract %s: %w", member.Name, err)
	}

	return nil
}
