package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/croupier/internal/domain"
	"github.com/aristath/croupier/internal/events"
	"github.com/aristath/croupier/internal/version"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const backupPrefix = "croupier-backup-"

// SessionSource provides the mirrored sessions included in each backup.
// Satisfied by the session repository.
type SessionSource interface {
	ListSessions(limit int) ([]domain.SessionState, error)
	GetRows(sessionID string) ([]domain.HistoryRow, error)
}

// BackupService creates backup archives of the session mirror and uploads
// them to R2. Each archive holds a consistent copy of the mirror database,
// a msgpack snapshot of recent sessions, and a metadata file with checksums.
type BackupService struct {
	r2Client *R2Client
	db       *sql.DB
	sessions SessionSource
	dataDir  string
	bus      *events.Bus
	log      zerolog.Logger
}

// BackupMetadata contains metadata about a backup
type BackupMetadata struct {
	Timestamp       time.Time      `json:"timestamp"`
	Version         string         `json:"version"`
	CroupierVersion string         `json:"croupier_version"`
	Files           []FileMetadata `json:"files"`
}

// FileMetadata contains metadata about a single file in the backup
type FileMetadata struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo represents information about a backup stored in R2
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// sessionSnapshot is the msgpack-encoded payload of recent sessions.
type sessionSnapshot struct {
	TakenAt  time.Time         `msgpack:"taken_at"`
	Sessions []snapshotSession `msgpack:"sessions"`
}

type snapshotSession struct {
	State domain.SessionState `msgpack:"state"`
	Rows  []domain.HistoryRow `msgpack:"rows"`
}

// NewBackupService creates a new backup service
func NewBackupService(
	r2Client *R2Client,
	db *sql.DB,
	sessions SessionSource,
	dataDir string,
	bus *events.Bus,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		r2Client: r2Client,
		db:       db,
		sessions: sessions,
		dataDir:  dataDir,
		bus:      bus,
		log:      log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUploadBackup creates a backup archive and uploads it to R2
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) error {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	// Create staging directory
	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir) // Clean up on exit

	metadata := BackupMetadata{
		Timestamp:       time.Now().UTC(),
		Version:         "1.0.0",
		CroupierVersion: version.Version,
	}

	// Consistent copy of the mirror database.
	dbPath := filepath.Join(stagingDir, "mirror.db")
	if err := s.copyDatabase(dbPath); err != nil {
		return fmt.Errorf("failed to copy mirror database: %w", err)
	}

	// Msgpack snapshot of recent sessions with their full row history.
	snapshotPath := filepath.Join(stagingDir, "sessions.msgpack")
	if err := s.writeSessionSnapshot(snapshotPath); err != nil {
		return fmt.Errorf("failed to write session snapshot: %w", err)
	}

	archiveFiles := []string{"mirror.db", "sessions.msgpack"}
	for _, filename := range archiveFiles {
		path := filepath.Join(stagingDir, filename)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", filename, err)
		}
		checksum, err := s.calculateChecksum(path)
		if err != nil {
			return fmt.Errorf("failed to calculate checksum for %s: %w", filename, err)
		}
		metadata.Files = append(metadata.Files, FileMetadata{
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	// Write metadata file
	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := s.writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	// Create tar.gz archive
	timestamp := time.Now().Format("2006-01-02-150405")
	archiveName := fmt.Sprintf("%s%s.tar.gz", backupPrefix, timestamp)
	archivePath := filepath.Join(stagingDir, archiveName)

	if err := s.createArchive(archivePath, stagingDir, append(archiveFiles, "backup-metadata.json")); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	// Get archive size
	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	// Upload to R2
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.r2Client.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
		return fmt.Errorf("failed to upload to r2: %w", err)
	}

	duration := time.Since(startTime)
	s.log.Info().
		Dur("duration_ms", duration).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("Backup completed successfully")

	if s.bus != nil {
		s.bus.Publish("backup", &events.BackupCompletedData{
			Key:       archiveName,
			SizeBytes: archiveInfo.Size(),
			Duration:  duration.Seconds(),
		})
	}

	return nil
}

// copyDatabase takes a consistent copy of the mirror via VACUUM INTO.
func (s *BackupService) copyDatabase(destPath string) error {
	// VACUUM INTO refuses to overwrite an existing file.
	_ = os.Remove(destPath)
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("vacuum into failed: %w", err)
	}
	return nil
}

// writeSessionSnapshot serializes recent sessions (with rows) to msgpack.
func (s *BackupService) writeSessionSnapshot(path string) error {
	states, err := s.sessions.ListSessions(500)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	snapshot := sessionSnapshot{
		TakenAt:  time.Now().UTC(),
		Sessions: make([]snapshotSession, 0, len(states)),
	}
	for _, state := range states {
		rows, err := s.sessions.GetRows(state.Config.SessionID)
		if err != nil {
			return fmt.Errorf("failed to load rows for %s: %w", state.Config.SessionID, err)
		}
		snapshot.Sessions = append(snapshot.Sessions, snapshotSession{State: state, Rows: rows})
	}

	data, err := msgpack.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ListBackups lists all backups stored in R2
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.r2Client.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list r2 backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}

		// Parse timestamp from filename: croupier-backup-2026-01-08-143022.tar.gz
		filename := *obj.Key
		if !strings.HasPrefix(filename, backupPrefix) || !strings.HasSuffix(filename, ".tar.gz") {
			continue
		}

		timestampStr := strings.TrimPrefix(filename, backupPrefix)
		timestampStr = strings.TrimSuffix(timestampStr, ".tar.gz")

		timestamp, err := time.Parse("2006-01-02-150405", timestampStr)
		if err != nil {
			s.log.Warn().Str("filename", filename).Msg("Failed to parse timestamp from filename")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}

		backups = append(backups, BackupInfo{
			Filename:  filename,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	// Sort by timestamp (newest first)
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// DownloadBackup streams one backup archive from the bucket. Only keys that
// look like our archives are accepted; arbitrary object keys are refused.
func (s *BackupService) DownloadBackup(ctx context.Context, filename string) (io.ReadCloser, error) {
	if !strings.HasPrefix(filename, backupPrefix) || !strings.HasSuffix(filename, ".tar.gz") ||
		strings.ContainsAny(filename, "/\\") {
		return nil, fmt.Errorf("invalid backup filename: %s", filename)
	}
	return s.r2Client.Download(ctx, filename)
}

// RotateOldBackups deletes backups older than the retention period
// Keeps a minimum of 3 backups regardless of age
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	s.log.Info().Int("retention_days", retentionDays).Msg("Starting backup rotation")

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	// Keep at least 3 backups
	const minBackupsToKeep = 3
	if len(backups) <= minBackupsToKeep {
		s.log.Info().Int("count", len(backups)).Msg("Too few backups to rotate")
		return nil
	}

	// Determine cutoff time (0 = keep forever)
	var cutoffTime time.Time
	if retentionDays > 0 {
		cutoffTime = time.Now().AddDate(0, 0, -retentionDays)
	}

	deletedCount := 0
	for i, backup := range backups {
		// Always keep the first minBackupsToKeep (newest)
		if i < minBackupsToKeep {
			continue
		}

		// If retention is 0, keep everything beyond minimum
		if retentionDays == 0 {
			continue
		}

		// Delete if older than retention period
		if backup.Timestamp.Before(cutoffTime) {
			if err := s.r2Client.Delete(ctx, backup.Filename); err != nil {
				s.log.Error().
					Err(err).
					Str("filename", backup.Filename).
					Msg("Failed to delete old backup")
				continue
			}

			s.log.Info().
				Str("filename", backup.Filename).
				Time("timestamp", backup.Timestamp).
				Msg("Deleted old backup")

			deletedCount++
		}
	}

	s.log.Info().
		Int("deleted", deletedCount).
		Int("remaining", len(backups)-deletedCount).
		Msg("Backup rotation completed")

	return nil
}

// calculateChecksum calculates SHA256 checksum of a file
func (s *BackupService) calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
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

// writeMetadata writes backup metadata to a JSON file
func (s *BackupService) writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive creates a tar.gz archive of the specified files
func (s *BackupService) createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		filePath := filepath.Join(sourceDir, filename)
		if err := s.addFileToArchive(tarWriter, filePath, filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}

	return nil
}

// addFileToArchive adds a single file to a tar archive
func (s *BackupService) addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
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

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}

	return nil
}
