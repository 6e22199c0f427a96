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

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/database"
)

const backupPrefix = "rebalancer-backup-"

// ObjectStore is the object-store surface the backup flow uses. S3Client
// satisfies it; tests substitute an in-memory store.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
	Download(ctx context.Context, key string, w io.Writer) error
}

// BackupService snapshots the sqlite databases, archives them with a
// checksum manifest and ships the archive off-site.
type BackupService struct {
	databases []*database.DB
	store     ObjectStore
	dataDir   string
	log       zerolog.Logger
}

// BackupManifest describes the contents of one backup archive.
type BackupManifest struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseSnapshot `json:"databases"`
}

// DatabaseSnapshot is one database file inside a backup archive.
type DatabaseSnapshot struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes one stored backup.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewBackupService creates a backup service over the given databases.
func NewBackupService(databases []*database.DB, store ObjectStore, dataDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases: databases,
		store:     store,
		dataDir:   dataDir,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUploadBackup snapshots every database, builds a tar.gz archive
// with a manifest and uploads it.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("Starting backup")

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	manifest := BackupManifest{Timestamp: time.Now().UTC()}
	var files []string

	for _, db := range s.databases {
		filename := db.Name() + ".db"
		snapshotPath := filepath.Join(stagingDir, filename)

		if err := s.snapshotDatabase(db, snapshotPath); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s snapshot: %w", db.Name(), err)
		}

		manifest.Databases = append(manifest.Databases, DatabaseSnapshot{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	manifestPath := filepath.Join(stagingDir, "manifest.json")
	if err := writeManifest(manifestPath, manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	files = append(files, "manifest.json")

	archiveName := backupPrefix + time.Now().Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, archiveName, archive); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	archiveInfo, _ := os.Stat(archivePath)
	s.log.Info().
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Dur("duration", time.Since(start)).
		Msg("Backup completed")
	return nil
}

// ListBackups returns the stored backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		filename := *obj.Key
		if !strings.HasSuffix(filename, ".tar.gz") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(filename, backupPrefix), ".tar.gz")
		timestamp, err := time.Parse("2006-01-02-150405", stamp)
		if err != nil {
			s.log.Warn().Str("filename", filename).Msg("Unparseable backup filename, skipping")
			continue
		}

		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		backups = append(backups, BackupInfo{
			Filename:  filename,
			Timestamp: timestamp,
			SizeBytes: size,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups past the retention period, always
// keeping the newest three.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}

	const minKeep = 3
	if len(backups) <= minKeep || retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, backup := range backups[minKeep:] {
		if !backup.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("filename", backup.Filename).Msg("Deleted old backup")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return nil
}

// RestoreBackup downloads a stored archive, verifies every database snapshot
// against the archive's manifest and unpacks the files into destDir. An empty
// filename restores the newest backup. Restore must run before the databases
// are opened.
func (s *BackupService) RestoreBackup(ctx context.Context, filename, destDir string) error {
	if filename == "" {
		backups, err := s.ListBackups(ctx)
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		if len(backups) == 0 {
			return fmt.Errorf("no backups available to restore")
		}
		filename = backups[0].Filename
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create restore directory: %w", err)
	}
	stagingDir, err := os.MkdirTemp(destDir, "restore-staging-")
	if err != nil {
		return fmt.Errorf("failed to create restore staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	archivePath := filepath.Join(stagingDir, filename)
	archive, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	if err := s.store.Download(ctx, filename, archive); err != nil {
		archive.Close()
		return fmt.Errorf("failed to download %s: %w", filename, err)
	}
	if err := archive.Close(); err != nil {
		return fmt.Errorf("failed to finish archive download: %w", err)
	}

	if err := extractArchive(archivePath, stagingDir); err != nil {
		return fmt.Errorf("failed to extract %s: %w", filename, err)
	}

	manifestRaw, err := os.ReadFile(filepath.Join(stagingDir, "manifest.json"))
	if err != nil {
		return fmt.Errorf("archive %s has no manifest: %w", filename, err)
	}
	var manifest BackupManifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return fmt.Errorf("failed to parse manifest in %s: %w", filename, err)
	}

	for _, snapshot := range manifest.Databases {
		extracted := filepath.Join(stagingDir, snapshot.Filename)
		checksum, err := fileChecksum(extracted)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", snapshot.Filename, err)
		}
		if checksum != snapshot.Checksum {
			return fmt.Errorf("checksum mismatch for %s: manifest %s, archive %s",
				snapshot.Filename, snapshot.Checksum, checksum)
		}
	}

	for _, snapshot := range manifest.Databases {
		if err := os.Rename(filepath.Join(stagingDir, snapshot.Filename), filepath.Join(destDir, snapshot.Filename)); err != nil {
			return fmt.Errorf("failed to place %s: %w", snapshot.Filename, err)
		}
		s.log.Info().Str("database", snapshot.Name).Str("filename", snapshot.Filename).Msg("Restored database")
	}

	s.log.Info().
		Str("archive", filename).
		Str("dest", destDir).
		Time("backup_timestamp", manifest.Timestamp).
		Msg("Restore completed")
	return nil
}

// snapshotDatabase writes a consistent copy of a live database. VACUUM INTO
// produces a compacted snapshot without locking writers out.
func (s *BackupService) snapshotDatabase(db *database.DB, dest string) error {
	if err := db.WALCheckpoint(); err != nil {
		s.log.Warn().Err(err).Str("database", db.Name()).Msg("Pre-snapshot checkpoint failed")
	}
	if _, err := db.Conn().Exec("VACUUM INTO ?", dest); err != nil {
		return err
	}
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

func writeManifest(path string, manifest BackupManifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archive, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archive.Close()

	gzipWriter := gzip.NewWriter(archive)
	defer gzipWriter.Close()
	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}
	return nil
}

// extractArchive unpacks a tar.gz archive into destDir. Entry names are
// flattened to their base name, so a crafted archive cannot write outside
// destDir.
func extractArchive(archivePath, destDir string) error {
	archive, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	gzipReader, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		out, err := os.Create(filepath.Join(destDir, filepath.Base(header.Name)))
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", header.Name, err)
		}
		if _, err := io.Copy(out, tarReader); err != nil {
			out.Close()
			return fmt.Errorf("failed to extract %s: %w", header.Name, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
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
