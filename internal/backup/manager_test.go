package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEnv creates a data directory with a few structured files and a
// manager configured over it.
func newTestEnv(t *testing.T, compression CompressionType) (*Manager, string) {
	t.Helper()

	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"BTC": 1.5}`)
	writeTestFile(t, filepath.Join(dataDir, "trades.jsonl"), `{"id": 1}`+"\n"+`{"id": 2}`)
	writeTestFile(t, filepath.Join(dataDir, "debug.log"), "noise")

	config := &Config{
		BackupDir:   filepath.Join(root, "backups"),
		DataPaths:   []string{dataDir},
		Compression: compression,
	}
	manager, err := NewManager(config, nil)
	require.NoError(t, err)
	return manager, dataDir
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(&Config{DataPaths: []string{"x"}}, nil)
	assert.Error(t, err, "missing backup dir must fail")

	_, err = NewManager(&Config{BackupDir: t.TempDir()}, nil)
	assert.Error(t, err, "missing data paths must fail")

	_, err = NewManager(&Config{
		BackupDir:   t.TempDir(),
		DataPaths:   []string{"x"},
		Compression: CompressionType("BROTLI"),
	}, nil)
	assert.Error(t, err, "unknown compression must fail")
}

func TestCreateFullBackup(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)

	result := manager.CreateFullBackup(nil)
	require.True(t, result.Success, "full backup should succeed: %s", result.Error)
	assert.Equal(t, TypeFull, result.BackupType)
	assert.Equal(t, 2, result.FilesCount, "log file must be excluded")
	assert.NotEmpty(t, result.Checksum)
	assert.FileExists(t, result.BackupPath)

	manifest, err := manager.GetBackupManifest(result.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, TypeFull, manifest.BackupType)
	assert.ElementsMatch(t, []string{"data/positions.json", "data/trades.jsonl"}, manifest.Files)
	assert.Len(t, manifest.FileChecksums, 2)
}

func TestCreateFullBackupEmptySet(t *testing.T) {
	root := t.TempDir()
	emptyDir := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(emptyDir, 0o755))

	manager, err := NewManager(&Config{
		BackupDir: filepath.Join(root, "backups"),
		DataPaths: []string{emptyDir},
	}, nil)
	require.NoError(t, err)

	result := manager.CreateFullBackup(nil)
	assert.False(t, result.Success, "a full backup of nothing is not a recovery point")
	assert.Equal(t, "No files to backup", result.Error)
	assert.Empty(t, result.BackupPath)

	backups, err := manager.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, backups, "failed backup must leave no artifact behind")
}

func TestIncrementalBackupDetectsChanges(t *testing.T) {
	manager, dataDir := newTestEnv(t, CompressionGzip)

	full := manager.CreateFullBackup(nil)
	require.True(t, full.Success)

	// Rewrite one file with identical content; checksums must not flag it
	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"BTC": 1.5}`)

	unchanged := manager.CreateIncrementalBackup(nil)
	require.True(t, unchanged.Success)
	assert.Equal(t, 0, unchanged.FilesCount)
	assert.Empty(t, unchanged.BackupPath)
	assert.Equal(t, "No changes detected", unchanged.Metadata["message"])

	// Real content change plus a new file
	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"BTC": 2.0}`)
	writeTestFile(t, filepath.Join(dataDir, "orders.json"), `{"open": []}`)

	incremental := manager.CreateIncrementalBackup(nil)
	require.True(t, incremental.Success, incremental.Error)
	assert.Equal(t, 2, incremental.FilesCount)

	manifest, err := manager.GetBackupManifest(incremental.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, TypeIncremental, manifest.BackupType)
	assert.ElementsMatch(t, []string{"data/positions.json", "data/orders.json"}, manifest.Files)
	assert.Equal(t, full.BackupPath, manifest.BaseBackup)
}

func TestFullBackupResetsTracking(t *testing.T) {
	manager, dataDir := newTestEnv(t, CompressionGzip)

	require.True(t, manager.CreateFullBackup(nil).Success)

	// Remove a file, then take another full backup; the vanished file's
	// checksum must not survive in the tracking state.
	require.NoError(t, os.Remove(filepath.Join(dataDir, "trades.jsonl")))
	require.True(t, manager.CreateFullBackup(nil).Success)

	state := LoadState(manager.Config().BackupDir)
	assert.Len(t, state.FileChecksums, 1)
	_, tracked := state.FileChecksums["data/trades.jsonl"]
	assert.False(t, tracked)
}

func TestStatePersistedAfterArtifact(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)

	result := manager.CreateFullBackup(nil)
	require.True(t, result.Success)

	state := LoadState(manager.Config().BackupDir)
	require.NotNil(t, state.LastFullBackup)
	assert.Equal(t, result.BackupPath, state.LastFullBackup.Path)
	assert.FileExists(t, state.LastFullBackup.Path, "state must never reference a missing artifact")
}

func TestCorruptStateDegradesToEmpty(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)
	require.True(t, manager.CreateFullBackup(nil).Success)

	statePath := filepath.Join(manager.Config().BackupDir, StateFileName)
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o644))

	// With tracking lost, every file looks changed again
	result := manager.CreateIncrementalBackup(nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.FilesCount)
}

func TestListBackupsOrderAndSkips(t *testing.T) {
	manager, dataDir := newTestEnv(t, CompressionGzip)

	require.True(t, manager.CreateFullBackup(nil).Success)
	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"BTC": 9}`)
	require.True(t, manager.CreateIncrementalBackup(nil).Success)

	// Internal files must never show up as backups
	backupDir := manager.Config().BackupDir
	writeTestFile(t, filepath.Join(backupDir, "_safety_backup_20240101_000000_abcd1234.tar.gz"), "x")
	writeTestFile(t, filepath.Join(backupDir, "full_20990101_000000.tar.gz.partial"), "x")
	writeTestFile(t, filepath.Join(backupDir, "unrelated.txt"), "x")

	backups, err := manager.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)

	for i := 1; i < len(backups); i++ {
		assert.False(t, backups[i-1].CreatedAt.Before(backups[i].CreatedAt), "list must be newest first")
	}
}

func TestListBackupsReadsManifests(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)

	full := manager.CreateFullBackup(map[string]string{"trigger": "pre-deploy"})
	require.True(t, full.Success)

	backups, err := manager.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)

	info := backups[0]
	assert.Equal(t, 2, info.FilesCount)
	assert.Equal(t, full.Checksum, info.Checksum)
	assert.Equal(t, full.SizeBytes, info.SizeBytes)
	assert.Equal(t, "pre-deploy", info.Metadata["trigger"])

	// An unreadable manifest degrades to what the name carries
	writeTestFile(t, filepath.Join(manager.Config().BackupDir, "full_20240101_000000.tar.gz"), "scrambled")
	backups, err = manager.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	degraded := backups[1]
	assert.Equal(t, TypeFull, degraded.Type)
	assert.Equal(t, 2024, degraded.CreatedAt.Year())
	assert.Zero(t, degraded.FilesCount)
}

func TestListBackupsDirectoryMode(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionNone)

	require.True(t, manager.CreateFullBackup(nil).Success)

	backups, err := manager.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, 2, backups[0].FilesCount)
	assert.Greater(t, backups[0].SizeBytes, int64(0), "directory sizes are summed from the tree")
	assert.Empty(t, backups[0].Checksum, "a directory artifact has no single content hash")
}

func TestSafetySnapshotRejectsEmptyDir(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)

	emptyDir := t.TempDir()
	_, err := manager.CreateSafetySnapshot(emptyDir)
	require.Error(t, err)

	entries, err := os.ReadDir(manager.Config().BackupDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a refused snapshot leaves nothing behind")
}

func TestGetLatestBackupOfType(t *testing.T) {
	manager, dataDir := newTestEnv(t, CompressionGzip)

	full := manager.CreateFullBackup(nil)
	require.True(t, full.Success)
	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"BTC": 9}`)
	incremental := manager.CreateIncrementalBackup(nil)
	require.True(t, incremental.Success)

	latest, err := manager.GetLatestBackupOfType(TypeFull)
	require.NoError(t, err)
	assert.Equal(t, full.BackupPath, latest.Path)

	latest, err = manager.GetLatestBackupOfType(TypeIncremental)
	require.NoError(t, err)
	assert.Equal(t, incremental.BackupPath, latest.Path)
}

func TestBackupMetadataPassthrough(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)

	result := manager.CreateFullBackup(map[string]string{"trigger": "pre-deploy"})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "pre-deploy", result.Metadata["trigger"])

	manifest, err := manager.GetBackupManifest(result.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "pre-deploy", manifest.Custom["trigger"])
}

func TestGetLatestBackupNone(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)
	_, err := manager.GetLatestBackup()
	require.Error(t, err)

	var backupErr *Error
	require.ErrorAs(t, err, &backupErr)
	assert.Equal(t, ErrorTypeNotFound, backupErr.Type)
}

func TestVerifyBackup(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)
	result := manager.CreateFullBackup(nil)
	require.True(t, result.Success)

	verification := manager.VerifyBackup(result.BackupPath)
	assert.True(t, verification.IsValid, "fresh backup must verify: %v", verification.Errors)
	assert.True(t, verification.ChecksumMatch)
	assert.Equal(t, 2, verification.FilesVerified)

	// Verification is read-only: a second run gives the same answer
	again := manager.VerifyBackup(result.BackupPath)
	assert.Equal(t, verification.IsValid, again.IsValid)
	assert.Equal(t, verification.FilesVerified, again.FilesVerified)
}

func TestVerifyBackupDetectsCorruption(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)
	result := manager.CreateFullBackup(nil)
	require.True(t, result.Success)

	require.NoError(t, os.WriteFile(result.BackupPath, []byte("garbage, not a gzip stream"), 0o644))

	verification := manager.VerifyBackup(result.BackupPath)
	assert.False(t, verification.IsValid)
	assert.NotEmpty(t, verification.Errors)
}

func TestDirectoryBackupRoundTrip(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionNone)

	result := manager.CreateFullBackup(nil)
	require.True(t, result.Success, result.Error)
	assert.DirExists(t, result.BackupPath)
	assert.FileExists(t, filepath.Join(result.BackupPath, "data", "positions.json"))
	assert.FileExists(t, filepath.Join(result.BackupPath, ManifestName))

	verification := manager.VerifyBackup(result.BackupPath)
	assert.True(t, verification.IsValid, "%v", verification.Errors)

	// Flip a byte inside the stored tree; the per-file checksums catch it
	writeTestFile(t, filepath.Join(result.BackupPath, "data", "positions.json"), `{"BTC": 99}`)
	tampered := manager.VerifyBackup(result.BackupPath)
	assert.False(t, tampered.IsValid)
	assert.False(t, tampered.ChecksumMatch)
}

func TestCleanupKeepsMinimum(t *testing.T) {
	manager, _ := newTestEnv(t, CompressionGzip)
	backupDir := manager.Config().BackupDir

	// Artifacts dated well past any retention window
	old := []string{
		"full_20200101_000000.tar.gz",
		"incremental_20200102_000000.tar.gz",
		"incremental_20200103_000000.tar.gz",
		"full_20200104_000000.tar.gz",
	}
	for _, name := range old {
		writeTestFile(t, filepath.Join(backupDir, name), "stale")
	}

	removed, err := manager.CleanupWithRetention(30, 2)
	require.NoError(t, err)
	assert.Len(t, removed, 2, "everything but the keep-minimum newest is expired")

	backups, err := manager.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "full_20200104_000000.tar.gz", backups[0].Name)
	assert.Equal(t, "incremental_20200103_000000.tar.gz", backups[1].Name)
}

func TestCleanupKeepsRecent(t *testing.T) {
	manager, dataDir := newTestEnv(t, CompressionGzip)

	require.True(t, manager.CreateFullBackup(nil).Success)
	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"BTC": 3}`)
	require.True(t, manager.CreateIncrementalBackup(nil).Success)

	removed, err := manager.CleanupWithRetention(30, 0)
	require.NoError(t, err)
	assert.Empty(t, removed, "backups inside the retention window survive even with no keep floor")
}

func TestCreateSafetySnapshot(t *testing.T) {
	manager, dataDir := newTestEnv(t, CompressionGzip)

	path, err := manager.CreateSafetySnapshot(dataDir)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, filepath.Base(path), "_safety_backup_")

	// Safety snapshots never appear as regular backups
	backups, err := manager.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)

	// But they are readable archives with a manifest
	manifest, err := manager.GetBackupManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "true", manifest.Custom["safety_backup"])
}

func TestParseBackupName(t *testing.T) {
	tests := []struct {
		name     string
		wantType BackupType
		wantOK   bool
	}{
		{"full_20260102_150405.tar.gz", TypeFull, true},
		{"incremental_20260102_150405.tar.zst", TypeIncremental, true},
		{"full_20260102_150405.tar.lz4.enc", TypeFull, true},
		{"full_20260102_150405", TypeFull, true},
		{"snapshot_20260102_150405.tar.gz", "", false},
		{"full_garbage.tar.gz", "", false},
	}

	for _, tt := range tests {
		backupType, createdAt, ok := parseBackupName(tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
		if tt.wantOK {
			assert.Equal(t, tt.wantType, backupType, tt.name)
			want := time.Date(2026, 1, 2, 15, 4, 5, 0, time.Local)
			assert.True(t, createdAt.Equal(want), tt.name)
		}
	}
}
