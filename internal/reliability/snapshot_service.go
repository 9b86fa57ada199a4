package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calderstone/charitymap/internal/database"
)

const snapshotPrefix = "charitymap-snapshot-"

// SnapshotService archives the SQLite databases and uploads the archive to
// object storage. Databases are copied with VACUUM INTO so the snapshot is
// consistent even while the server keeps writing.
type SnapshotService struct {
	store     ObjectStore
	databases []*database.DB
	dataDir   string
	retention int
	log       zerolog.Logger
}

// SnapshotMetadata travels inside each archive.
type SnapshotMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseSnapshot `json:"databases"`
}

// DatabaseSnapshot describes one database inside a snapshot archive.
type DatabaseSnapshot struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// SnapshotInfo describes a snapshot stored in the bucket.
type SnapshotInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewSnapshotService creates a snapshot service. retention is how many
// snapshots to keep; older ones are pruned after each upload.
func NewSnapshotService(store ObjectStore, databases []*database.DB, dataDir string, retention int, log zerolog.Logger) *SnapshotService {
	if retention < 1 {
		retention = 1
	}
	return &SnapshotService{
		store:     store,
		databases: databases,
		dataDir:   dataDir,
		retention: retention,
		log:       log.With().Str("component", "snapshot").Logger(),
	}
}

// CreateSnapshot copies every database, archives the copies with a metadata
// file and uploads the archive.
func (s *SnapshotService) CreateSnapshot(ctx context.Context) error {
	started := time.Now()
	s.log.Info().Msg("Starting snapshot")

	stagingDir := filepath.Join(s.dataDir, "snapshot-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	meta := SnapshotMetadata{
		Timestamp: started.UTC(),
		Databases: make([]DatabaseSnapshot, 0, len(s.databases)),
	}

	files := make([]string, 0, len(s.databases)+1)
	for _, db := range s.databases {
		filename := db.Name() + ".db"
		copyPath := filepath.Join(stagingDir, filename)

		if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", copyPath)); err != nil {
			return fmt.Errorf("failed to copy %s: %w", db.Name(), err)
		}

		info, err := os.Stat(copyPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s copy: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(copyPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s copy: %w", db.Name(), err)
		}

		meta.Databases = append(meta.Databases, DatabaseSnapshot{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	metaPath := filepath.Join(stagingDir, "snapshot-metadata.json")
	if err := writeSnapshotMetadata(metaPath, meta); err != nil {
		return fmt.Errorf("failed to write snapshot metadata: %w", err)
	}
	files = append(files, "snapshot-metadata.json")

	archiveName := snapshotPrefix + started.Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.store.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	s.log.Info().
		Str("archive", archiveName).
		Int64("bytes", archiveInfo.Size()).
		Dur("elapsed", time.Since(started)).
		Msg("Snapshot uploaded")

	return nil
}

// ListSnapshots returns stored snapshots, newest first.
func (s *SnapshotService) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	objects, err := s.store.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	now := time.Now()
	snapshots := make([]SnapshotInfo, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, snapshotPrefix) || !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(obj.Key, snapshotPrefix), ".tar.gz")
		timestamp, err := time.Parse("2006-01-02-150405", stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Unparseable snapshot name, skipping")
			continue
		}

		snapshots = append(snapshots, SnapshotInfo{
			Filename:  obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})

	return snapshots, nil
}

// Prune deletes snapshots beyond the retention count.
func (s *SnapshotService) Prune(ctx context.Context) error {
	snapshots, err := s.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snapshots) <= s.retention {
		return nil
	}

	deleted := 0
	for _, snap := range snapshots[s.retention:] {
		if err := s.store.Delete(ctx, snap.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", snap.Filename).Msg("Failed to delete old snapshot")
			continue
		}
		s.log.Info().Str("filename", snap.Filename).Msg("Deleted old snapshot")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(snapshots)-deleted).
		Msg("Snapshot pruning complete")

	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeSnapshotMetadata(path string, meta SnapshotMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzWriter := gzip.NewWriter(archiveFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
