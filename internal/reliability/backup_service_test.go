package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/croupier/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type fakeSessionSource struct {
	sessions []domain.SessionState
	rows     map[string][]domain.HistoryRow
}

func (f *fakeSessionSource) ListSessions(int) ([]domain.SessionState, error) {
	return f.sessions, nil
}

func (f *fakeSessionSource) GetRows(sessionID string) ([]domain.HistoryRow, error) {
	return f.rows[sessionID], nil
}

func testBackupService(t *testing.T, source SessionSource) *BackupService {
	t.Helper()
	return NewBackupService(nil, nil, source, t.TempDir(), nil, zerolog.Nop())
}

func TestWriteSessionSnapshotRoundTrip(t *testing.T) {
	source := &fakeSessionSource{
		sessions: []domain.SessionState{
			{
				Config: domain.SessionConfig{
					SessionID:   "s1",
					Checkpoint:  "FAIRS_v3",
					GameCapital: 1000,
					GameBet:     10,
				},
				CurrentCapital: 990,
				StartedAt:      time.Now().UTC().Truncate(time.Second),
			},
		},
		rows: map[string][]domain.HistoryRow{
			"s1": {
				{RowID: "r1", Step: 1, BetAmount: 10, Extraction: 17, Reward: -10, CapitalAfter: 990},
			},
		},
	}

	svc := testBackupService(t, source)
	path := filepath.Join(t.TempDir(), "sessions.msgpack")
	require.NoError(t, svc.writeSessionSnapshot(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snapshot sessionSnapshot
	require.NoError(t, msgpack.Unmarshal(data, &snapshot))
	require.Len(t, snapshot.Sessions, 1)
	assert.Equal(t, "s1", snapshot.Sessions[0].State.Config.SessionID)
	assert.Equal(t, "FAIRS_v3", snapshot.Sessions[0].State.Config.Checkpoint)
	require.Len(t, snapshot.Sessions[0].Rows, 1)
	assert.Equal(t, 17, snapshot.Sessions[0].Rows[0].Extraction)
	assert.False(t, snapshot.TakenAt.IsZero())
}

func TestCreateArchiveProducesReadableTarball(t *testing.T) {
	svc := testBackupService(t, &fakeSessionSource{})
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bravo"), 0644))

	archivePath := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, svc.createArchive(archivePath, dir, []string{"a.txt", "b.txt"}))

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	contents := map[string]string{}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var sb strings.Builder
		_, err = io.Copy(&sb, tr)
		require.NoError(t, err)
		contents[header.Name] = sb.String()
	}

	assert.Equal(t, map[string]string{"a.txt": "alpha", "b.txt": "bravo"}, contents)
}

func TestDownloadBackupRejectsForeignKeys(t *testing.T) {
	svc := testBackupService(t, &fakeSessionSource{})

	// Validation fires before any bucket access.
	for _, filename := range []string{
		"not-ours.tar.gz",
		"croupier-backup-2026-01-08-143022.zip",
		"croupier-backup-../../etc/passwd.tar.gz",
		"other/croupier-backup-2026-01-08-143022.tar.gz",
	} {
		_, err := svc.DownloadBackup(context.Background(), filename)
		assert.Error(t, err, filename)
	}
}

func TestCalculateChecksumFormat(t *testing.T) {
	svc := testBackupService(t, &fakeSessionSource{})
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	checksum, err := svc.calculateChecksum(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(checksum, "sha256:"))
	// sha256("hello")
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", checksum)
}
