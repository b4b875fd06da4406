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
)

const (
	backupPrefix     = "hypetrader-backup-"
	backupStamp      = "2006-01-02-150405"
	minBackupsToKeep = 3
)

// backupFiles are the data-directory files worth preserving. The
// journal is the trading record; the watchlist snapshot and error ring
// are cheap to include and useful after a host loss.
var backupFiles = []string{
	"journal.db",
	"watchlist.msgpack",
	"errors.json",
}

// ObjectStore is the object-store surface the backup service needs.
// S3Client implements it; tests stub it.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// ArchiveMetadata describes the files inside a backup archive.
type ArchiveMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata describes one archived file.
type FileMetadata struct {
	Name      string `json:"name"`
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

// BackupService archives the data directory and uploads it.
type BackupService struct {
	store   ObjectStore
	dataDir string
	log     zerolog.Logger
}

// NewBackupService creates a backup service writing to store.
func NewBackupService(store ObjectStore, dataDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:   store,
		dataDir: dataDir,
		log:     log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUpload archives the data directory's journal files and
// uploads the archive. Files that do not exist yet are skipped; an
// empty archive is an error.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	s.log.Info().Msg("Starting backup")
	start := time.Now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := ArchiveMetadata{Timestamp: time.Now().UTC()}
	var present []string

	for _, name := range backupFiles {
		path := filepath.Join(s.dataDir, name)
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}

		checksum, err := checksumFile(path)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", name, err)
		}
		metadata.Files = append(metadata.Files, FileMetadata{
			Name:      name,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		present = append(present, name)
	}

	if len(present) == 0 {
		return fmt.Errorf("nothing to back up in %s", s.dataDir)
	}

	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := backupPrefix + time.Now().Format(backupStamp) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := s.createArchive(archivePath, present, metadataPath); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	info, err := archive.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	if err := s.store.Upload(ctx, archiveName, archive); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Dur("duration", time.Since(start)).
		Str("archive", archiveName).
		Int64("size_bytes", info.Size()).
		Int("files", len(present)).
		Msg("Backup completed")

	return nil
}

// ListBackups lists stored backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		filename := *obj.Key
		timestamp, ok := parseBackupStamp(filename)
		if !ok {
			s.log.Warn().Str("filename", filename).Msg("Unrecognized backup filename")
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

// RotateOldBackups deletes backups older than retentionDays, always
// keeping the newest minBackupsToKeep. retentionDays of 0 keeps
// everything.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep {
			continue
		}
		if backup.Timestamp.Before(cutoff) {
			if err := s.store.Delete(ctx, backup.Filename); err != nil {
				s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
				continue
			}
			deleted++
		}
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return nil
}

func (s *BackupService) createArchive(archivePath string, files []string, metadataPath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	if err := addFileToArchive(tw, metadataPath, "backup-metadata.json"); err != nil {
		return err
	}
	for _, name := range files {
		if err := addFileToArchive(tw, filepath.Join(s.dataDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
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
	_, err = io.Copy(tw, file)
	return err
}

func checksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata ArchiveMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func parseBackupStamp(filename string) (time.Time, bool) {
	if !strings.HasPrefix(filename, backupPrefix) || !strings.HasSuffix(filename, ".tar.gz") {
		return time.Time{}, false
	}
	stamp := strings.TrimPrefix(filename, backupPrefix)
	stamp = strings.TrimSuffix(stamp, ".tar.gz")
	t, err := time.Parse(backupStamp, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
