package restore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datavault/internal/backup"
)

// newTestEnv builds a data directory, a backup manager over it and a restore
// manager on top.
func newTestEnv(t *testing.T) (*Manager, *backup.Manager, string) {
	t.Helper()

	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"BTC": 1.5, "ETH": 10.0}`)
	writeTestFile(t, filepath.Join(dataDir, "trades.jsonl"), `{"id": 1}`)

	config := &backup.Config{
		BackupDir: filepath.Join(root, "backups"),
		DataPaths: []string{dataDir},
	}
	backups, err := backup.NewManager(config, nil)
	require.NoError(t, err)

	return NewManager(backups, nil), backups, dataDir
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRestoreLatestRoundTrip(t *testing.T) {
	restorer, backups, _ := newTestEnv(t)
	require.True(t, backups.CreateFullBackup(nil).Success)

	dest := filepath.Join(t.TempDir(), "restored")
	result := restorer.RestoreLatest(dest, Options{})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.FilesRestored)

	// Files land under dest at the relative paths recorded in the backup
	assert.Equal(t, `{"BTC": 1.5, "ETH": 10.0}`, readTestFile(t, filepath.Join(dest, "data", "positions.json")))
	assert.Equal(t, `{"id": 1}`, readTestFile(t, filepath.Join(dest, "data", "trades.jsonl")))
}

func TestRestoreLatestNoBackups(t *testing.T) {
	restorer, _, _ := newTestEnv(t)

	result := restorer.RestoreLatest(t.TempDir(), Options{})
	assert.False(t, result.Success)
	assert.Equal(t, "No backups found", result.Error)
}

func TestRestoreDryRunDoesNotWrite(t *testing.T) {
	restorer, backups, _ := newTestEnv(t)
	require.True(t, backups.CreateFullBackup(nil).Success)

	dest := filepath.Join(t.TempDir(), "never-created")
	result := restorer.RestoreLatest(dest, Options{DryRun: true})

	require.True(t, result.Success, result.Error)
	assert.True(t, result.IsDryRun)
	assert.Equal(t, 2, result.FilesRestored)
	assert.Empty(t, result.SafetyBackupPath, "dry run takes no safety snapshot")

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "dry run must not create the destination")
}

func TestRestoreCreatesSafetySnapshot(t *testing.T) {
	restorer, backups, _ := newTestEnv(t)
	require.True(t, backups.CreateFullBackup(nil).Success)

	// Destination already holds data worth protecting; zero options keep
	// the snapshot on.
	dest := t.TempDir()
	writeTestFile(t, filepath.Join(dest, "precious.json"), `{"keep": true}`)

	result := restorer.RestoreLatest(dest, Options{})
	require.True(t, result.Success, result.Error)
	require.NotEmpty(t, result.SafetyBackupPath)
	assert.FileExists(t, result.SafetyBackupPath)

	// The snapshot contains the pre-restore contents
	members, err := backups.ListMembers(result.SafetyBackupPath)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "precious.json", filepath.Base(members[0]))
}

func TestRestoreSkipsSnapshotForEmptyDest(t *testing.T) {
	restorer, backups, _ := newTestEnv(t)
	require.True(t, backups.CreateFullBackup(nil).Success)

	// The destination exists but holds nothing worth protecting
	dest := t.TempDir()
	result := restorer.RestoreLatest(dest, Options{})
	require.True(t, result.Success, result.Error)
	assert.Empty(t, result.SafetyBackupPath, "an empty destination needs no snapshot")
	assert.Empty(t, result.Warnings)

	entries, err := os.ReadDir(backups.Config().BackupDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), "_safety_backup"),
			"no safety artifact may be written for an empty destination: %s", entry.Name())
	}
}

func TestRestoreVerifyRejectsCorrupted(t *testing.T) {
	restorer, backups, _ := newTestEnv(t)
	full := backups.CreateFullBackup(nil)
	require.True(t, full.Success)

	require.NoError(t, os.WriteFile(full.BackupPath, []byte("scrambled"), 0o644))

	// Zero options verify by default
	dest := filepath.Join(t.TempDir(), "restored")
	result := restorer.RestoreBackup(full.BackupPath, dest, Options{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "verification")

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "failed verification must stop before writing")
}

func TestRestorePointInTime(t *testing.T) {
	restorer, backups, dataDir := newTestEnv(t)

	first := backups.CreateFullBackup(nil)
	require.True(t, first.Success)
	cutoff := time.Now()

	time.Sleep(1100 * time.Millisecond) // artifact names have second resolution
	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"BTC": 999}`)
	second := backups.CreateIncrementalBackup(nil)
	require.True(t, second.Success)

	dest := filepath.Join(t.TempDir(), "restored")
	result := restorer.RestorePointInTime(cutoff, dest, Options{})
	require.True(t, result.Success, result.Error)

	// The pre-cutoff content comes back, not the later change
	assert.Equal(t, `{"BTC": 1.5, "ETH": 10.0}`, readTestFile(t, filepath.Join(dest, "data", "positions.json")))

	early := time.Now().AddDate(0, 0, -1)
	missed := restorer.RestorePointInTime(early, dest, Options{})
	assert.False(t, missed.Success)
	assert.Equal(t, "No backup found before the requested time", missed.Error)
}

func TestRestoreSingleFile(t *testing.T) {
	restorer, backups, _ := newTestEnv(t)
	full := backups.CreateFullBackup(nil)
	require.True(t, full.Success)

	dest := filepath.Join(t.TempDir(), "restored")
	result := restorer.RestoreFile(full.BackupPath, "data/positions.json", dest, Options{})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.FilesRestored)
	assert.FileExists(t, filepath.Join(dest, "data", "positions.json"))

	_, err := os.Stat(filepath.Join(dest, "data", "trades.jsonl"))
	assert.True(t, os.IsNotExist(err), "only the requested file is restored")
}

func TestRestoreFileNotFound(t *testing.T) {
	restorer, backups, _ := newTestEnv(t)
	full := backups.CreateFullBackup(nil)
	require.True(t, full.Success)

	result := restorer.RestoreFile(full.BackupPath, "data/missing.json", t.TempDir(), Options{})
	assert.False(t, result.Success)
	assert.Equal(t, "File not found in backup", result.Error)
}

func TestListBackupContents(t *testing.T) {
	restorer, backups, _ := newTestEnv(t)
	full := backups.CreateFullBackup(nil)
	require.True(t, full.Success)

	members, err := restorer.ListBackupContents(full.BackupPath)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data/positions.json", "data/trades.jsonl"}, members)
}

func TestRestoreDirectoryBackup(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	writeTestFile(t, filepath.Join(dataDir, "positions.json"), `{"SOL": 4}`)

	backups, err := backup.NewManager(&backup.Config{
		BackupDir:   filepath.Join(root, "backups"),
		DataPaths:   []string{dataDir},
		Compression: backup.CompressionNone,
	}, nil)
	require.NoError(t, err)
	restorer := NewManager(backups, nil)

	require.True(t, backups.CreateFullBackup(nil).Success)

	dest := filepath.Join(t.TempDir(), "restored")
	result := restorer.RestoreLatest(dest, Options{})
	require.True(t, result.Success, result.Error)
	assert.True(t, result.Verified)
	assert.Equal(t, `{"SOL": 4}`, readTestFile(t, filepath.Join(dest, "data", "positions.json")))

	// The backup's own manifest never leaks into the restored tree
	_, err = os.Stat(filepath.Join(dest, backup.ManifestName))
	assert.True(t, os.IsNotExist(err))
}

func TestSecurePathRejectsEscape(t *testing.T) {
	_, err := securePath("/tmp/dest", "../outside.json")
	assert.Error(t, err)

	_, err = securePath("/tmp/dest", "nested/ok.json")
	assert.NoError(t, err)
}
