package restore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"datavault/internal/backup"
	"datavault/internal/logging"
)

// Options controls how a restore runs. The zero value is the safe
// configuration: the backup is verified first and a non-empty destination is
// snapshotted before anything is overwritten. Destructive restores opt out
// explicitly, never by accident.
type Options struct {
	// SkipVerify restores without checking the backup's integrity first
	SkipVerify bool
	// DryRun reports what would be restored without writing anything
	DryRun bool
	// SkipSafetyBackup restores without snapshotting the destination
	SkipSafetyBackup bool
}

// DefaultOptions is the zero value, spelled out for call sites that want to
// be explicit about keeping the protections on.
func DefaultOptions() Options {
	return Options{}
}

// Result is the outcome of a restore operation
type Result struct {
	Success          bool     `json:"success"`
	RestoredPath     string   `json:"restored_path,omitempty"`
	FilesRestored    int      `json:"files_restored"`
	Verified         bool     `json:"verified"`
	IsDryRun         bool     `json:"is_dry_run"`
	SafetyBackupPath string   `json:"safety_backup_path,omitempty"`
	Error            string   `json:"error,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Manager restores files from backup artifacts
type Manager struct {
	backups *backup.Manager
	logger  *logging.Logger
}

// NewManager creates a restore manager on top of an existing backup manager
func NewManager(backups *backup.Manager, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{
		backups: backups,
		logger:  logger,
	}
}

// RestoreLatest restores the most recent backup into destDir
func (m *Manager) RestoreLatest(destDir string, opts Options) *Result {
	latest, err := m.backups.GetLatestBackup()
	if err != nil {
		return &Result{Success: false, Error: "No backups found"}
	}
	return m.RestoreBackup(latest.Path, destDir, opts)
}

// RestorePointInTime restores the newest backup created at or before t
func (m *Manager) RestorePointInTime(t time.Time, destDir string, opts Options) *Result {
	backups, err := m.backups.ListBackups()
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}

	// ListBackups is newest-first; the first entry at or before t wins
	for _, b := range backups {
		if !b.CreatedAt.After(t) {
			return m.RestoreBackup(b.Path, destDir, opts)
		}
	}
	return &Result{Success: false, Error: "No backup found before the requested time"}
}

// RestoreBackup restores the artifact at backupPath into destDir. Files land
// under destDir at the relative paths recorded in the backup, so restoring a
// backup of "state/data" into "/tmp/out" produces "/tmp/out/data/...".
func (m *Manager) RestoreBackup(backupPath, destDir string, opts Options) *Result {
	start := time.Now()
	result := &Result{
		RestoredPath: destDir,
		IsDryRun:     opts.DryRun,
	}

	if !opts.SkipVerify {
		verification := m.backups.VerifyBackup(backupPath)
		if !verification.IsValid {
			result.Error = fmt.Sprintf("backup failed verification: %s", strings.Join(verification.Errors, "; "))
			m.logger.LogRestoreOperation(backupPath, destDir, 0, opts.DryRun, time.Since(start), fmt.Errorf("%s", result.Error))
			return result
		}
		result.Verified = true
	}

	members, err := m.backups.ListMembers(backupPath)
	if err != nil {
		result.Error = err.Error()
		m.logger.LogRestoreOperation(backupPath, destDir, 0, opts.DryRun, time.Since(start), err)
		return result
	}

	if opts.DryRun {
		result.Success = true
		result.FilesRestored = len(members)
		m.logger.LogRestoreOperation(backupPath, destDir, len(members), true, time.Since(start), nil)
		return result
	}

	// A missing or empty destination has nothing worth snapshotting
	if !opts.SkipSafetyBackup {
		if info, err := os.Stat(destDir); err == nil && info.IsDir() && dirHasFiles(destDir) {
			safetyPath, err := m.backups.CreateSafetySnapshot(destDir)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("failed to create safety snapshot: %v", err))
			} else {
				result.SafetyBackupPath = safetyPath
			}
		}
	}

	restored, warnings, err := m.extract(backupPath, destDir, nil)
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		result.Error = err.Error()
		m.logger.LogRestoreOperation(backupPath, destDir, restored, false, time.Since(start), err)
		return result
	}

	result.Success = true
	result.FilesRestored = restored
	m.logger.LogRestoreOperation(backupPath, destDir, restored, false, time.Since(start), nil)
	return result
}

// RestoreFile restores a single file from a backup into destDir. The path
// must match one of the backup's members after separator normalization.
func (m *Manager) RestoreFile(backupPath, filePath, destDir string, opts Options) *Result {
	start := time.Now()
	result := &Result{
		RestoredPath: destDir,
		IsDryRun:     opts.DryRun,
	}

	want := filepath.ToSlash(filePath)
	members, err := m.backups.ListMembers(backupPath)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	found := false
	for _, member := range members {
		if member == want {
			found = true
			break
		}
	}
	if !found {
		result.Error = "File not found in backup"
		m.logger.LogRestoreOperation(backupPath, destDir, 0, opts.DryRun, time.Since(start), fmt.Errorf("%s", result.Error))
		return result
	}

	if opts.DryRun {
		result.Success = true
		result.FilesRestored = 1
		return result
	}

	restored, warnings, err := m.extract(backupPath, destDir, func(name string) bool {
		return name == want
	})
	result.Warnings = warnings
	if err != nil {
		result.Error = err.Error()
		m.logger.LogRestoreOperation(backupPath, destDir, restored, false, time.Since(start), err)
		return result
	}

	result.Success = true
	result.FilesRestored = restored
	m.logger.LogRestoreOperation(backupPath, destDir, restored, false, time.Since(start), nil)
	return result
}

// ListBackupContents returns the data entries of a backup artifact
func (m *Manager) ListBackupContents(backupPath string) ([]string, error) {
	return m.backups.ListMembers(backupPath)
}

// extract writes the backup's entries under destDir. keep selects members
// to restore; nil restores everything. Entries whose names would escape the
// destination are rejected outright.
func (m *Manager) extract(backupPath, destDir string, keep func(string) bool) (int, []string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, nil, backup.NewStorageError("failed to create restore destination", err).WithContext("path", destDir)
	}

	if backup.IsDirectoryBackup(backupPath) {
		return m.extractDirectory(backupPath, destDir, keep)
	}
	return m.extractArchive(backupPath, destDir, keep)
}

func (m *Manager) extractArchive(backupPath, destDir string, keep func(string) bool) (int, []string, error) {
	reader, err := m.backups.OpenArchive(backupPath)
	if err != nil {
		return 0, nil, err
	}
	defer reader.Close()

	restored := 0
	var warnings []string
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, warnings, backup.NewCorruptionError("failed to read backup archive", err).WithContext("path", backupPath)
		}

		name := filepath.ToSlash(header.Name)
		if filepath.Base(name) == backup.ManifestName {
			continue
		}
		if header.FileInfo().IsDir() {
			continue
		}
		if keep != nil && !keep(name) {
			continue
		}

		target, err := securePath(destDir, name)
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}

		if err := writeEntry(target, reader, header.FileInfo().Mode()); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to restore %s: %v", name, err))
			continue
		}
		restored++
	}
	return restored, warnings, nil
}

func (m *Manager) extractDirectory(backupPath, destDir string, keep func(string) bool) (int, []string, error) {
	restored := 0
	var warnings []string

	err := filepath.Walk(backupPath, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(backupPath, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if filepath.Base(name) == backup.ManifestName {
			return nil
		}
		if keep != nil && !keep(name) {
			return nil
		}

		target, err := securePath(destDir, name)
		if err != nil {
			warnings = append(warnings, err.Error())
			return nil
		}

		in, err := os.Open(p)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to restore %s: %v", name, err))
			return nil
		}
		defer in.Close()

		if err := writeEntry(target, in, fi.Mode()); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to restore %s: %v", name, err))
			return nil
		}
		restored++
		return nil
	})
	if err != nil {
		return restored, warnings, backup.NewStorageError("failed to walk backup directory", err).WithContext("path", backupPath)
	}
	return restored, warnings, nil
}

// dirHasFiles reports whether dir contains at least one regular file at any
// depth.
func dirHasFiles(dir string) bool {
	found := false
	filepath.Walk(dir, func(_ string, fi os.FileInfo, err error) error {
		if err == nil && !fi.IsDir() {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// securePath joins name under destDir and rejects entries that would land
// outside it.
func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	cleanDest := filepath.Clean(destDir)
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry escapes restore destination: %s", name)
	}
	return target, nil
}

func writeEntry(target string, src io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
