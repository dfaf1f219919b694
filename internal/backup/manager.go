package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"datavault/internal/logging"
)

// timestampLayout is the artifact-name timestamp format
const timestampLayout = "20060102_150405"

// DefaultKeepMinimum is the number of newest backups cleanup always keeps,
// regardless of age.
const DefaultKeepMinimum = 3

// Manager creates, lists, verifies and prunes backups for the configured
// data paths. A single instance serializes its own backup creation; two
// concurrent Create calls on the same Manager never interleave.
type Manager struct {
	config  *Config
	logger  *logging.Logger
	filter  *FileFilter
	cm      *CompressionManager
	enc     *EncryptionManager
	mu      sync.Mutex
}

// NewManager validates the configuration and creates a backup manager
func NewManager(config *Config, logger *logging.Logger) (*Manager, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := config.EnsureBackupDir(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &Manager{
		config: config,
		logger: logger,
		filter: NewFileFilter(config.IncludePatterns, config.ExcludePatterns),
		cm:     NewCompressionManager(),
		enc:    NewEncryptionManager(&config.Encryption),
	}, nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// fileEntry is one candidate file for a backup
type fileEntry struct {
	diskPath string
	relPath  string // slash-separated, relative to the data path's parent
	checksum string
	size     int64
}

// collectFiles walks the data paths and returns every file that passes the
// filters, with its content checksum. Unreadable files and missing data
// paths degrade to warnings.
func (m *Manager) collectFiles() ([]fileEntry, []string) {
	var entries []fileEntry
	var warnings []string

	for _, dataPath := range m.config.DataPaths {
		info, err := os.Stat(dataPath)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("data path does not exist: %s", dataPath))
			continue
		}

		base := filepath.Dir(dataPath)

		addFile := func(path string) {
			if !m.filter.ShouldInclude(path) {
				return
			}
			rel, err := filepath.Rel(base, path)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("failed to resolve relative path for %s: %v", path, err))
				return
			}
			checksum, err := ChecksumFile(path)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("failed to read %s: %v", path, err))
				return
			}
			st, err := os.Stat(path)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("failed to stat %s: %v", path, err))
				return
			}
			entries = append(entries, fileEntry{
				diskPath: path,
				relPath:  filepath.ToSlash(rel),
				checksum: checksum,
				size:     st.Size(),
			})
		}

		if !info.IsDir() {
			addFile(dataPath)
			continue
		}

		err = filepath.Walk(dataPath, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("failed to walk %s: %v", path, err))
				return nil
			}
			if fi.IsDir() {
				return nil
			}
			addFile(path)
			return nil
		})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to walk %s: %v", dataPath, err))
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })
	return entries, warnings
}

// CreateFullBackup snapshots every file under the configured data paths.
// An empty candidate set fails the operation; a full backup that contains
// nothing is never a valid recovery point. Caller-supplied metadata is
// stored in the manifest and echoed in the result; nil is fine.
func (m *Manager) CreateFullBackup(metadata map[string]string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	entries, warnings := m.collectFiles()

	if len(entries) == 0 {
		result := &Result{
			Success:    false,
			BackupType: TypeFull,
			CreatedAt:  start,
			Error:      "No files to backup",
			Warnings:   warnings,
		}
		m.logger.LogBackupOperation(string(TypeFull), "", 0, 0, time.Since(start), fmt.Errorf("%s", result.Error))
		return result
	}

	name := fmt.Sprintf("full_%s", start.Format(timestampLayout))
	manifest := &Manifest{
		Version:       manifestVersion,
		BackupName:    name,
		BackupType:    TypeFull,
		CreatedAt:     start,
		DataPaths:     m.config.DataPaths,
		FileChecksums: make(map[string]string, len(entries)),
		Custom:        metadata,
	}

	result := m.writeBackup(name, manifest, entries, warnings, start)
	if !result.Success {
		return result
	}

	// A successful full backup resets change tracking to exactly the files
	// it captured. Checksums of files that vanished since the last run must
	// not survive the reset.
	state := LoadState(m.config.BackupDir)
	state.LastFullBackup = &StateRef{Path: result.BackupPath, Timestamp: start}
	state.FileChecksums = make(map[string]string, len(entries))
	for _, e := range entries {
		state.FileChecksums[e.relPath] = e.checksum
	}
	if err := SaveState(m.config.BackupDir, state); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("failed to persist backup state: %v", err))
	}

	m.logger.LogBackupOperation(string(TypeFull), result.BackupPath, result.FilesCount, result.SizeBytes, time.Since(start), nil)
	return result
}

// CreateIncrementalBackup snapshots only the files whose content changed
// since the last backup, detected by checksum rather than modification time.
// No changes is a successful no-op, not an error.
func (m *Manager) CreateIncrementalBackup(metadata map[string]string) *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	entries, warnings := m.collectFiles()
	state := LoadState(m.config.BackupDir)

	var changed []fileEntry
	for _, e := range entries {
		if state.FileChecksums[e.relPath] != e.checksum {
			changed = append(changed, e)
		}
	}

	if len(changed) == 0 {
		result := &Result{
			Success:    true,
			BackupType: TypeIncremental,
			CreatedAt:  start,
			FilesCount: 0,
			Warnings:   warnings,
			Metadata:   map[string]string{"message": "No changes detected"},
		}
		m.logger.LogBackupOperation(string(TypeIncremental), "", 0, 0, time.Since(start), nil)
		return result
	}

	name := fmt.Sprintf("incremental_%s", start.Format(timestampLayout))
	manifest := &Manifest{
		Version:       manifestVersion,
		BackupName:    name,
		BackupType:    TypeIncremental,
		CreatedAt:     start,
		FileChecksums: make(map[string]string, len(changed)),
		Custom:        metadata,
	}
	if state.LastFullBackup != nil {
		manifest.BaseBackup = state.LastFullBackup.Path
	}

	result := m.writeBackup(name, manifest, changed, warnings, start)
	if !result.Success {
		return result
	}

	// Incrementals merge into tracking state; unchanged files keep their
	// existing checksums so the next run still sees them as unchanged.
	state.LastIncrementalBackup = &StateRef{Path: result.BackupPath, Timestamp: start}
	for _, e := range changed {
		state.FileChecksums[e.relPath] = e.checksum
	}
	if err := SaveState(m.config.BackupDir, state); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("failed to persist backup state: %v", err))
	}

	m.logger.LogBackupOperation(string(TypeIncremental), result.BackupPath, result.FilesCount, result.SizeBytes, time.Since(start), nil)
	return result
}

// writeBackup produces the artifact for the given entries and fills in the
// manifest's file lists. Per-file failures downgrade to warnings; the file
// is simply left out of the artifact and manifest.
func (m *Manager) writeBackup(name string, manifest *Manifest, entries []fileEntry, warnings []string, start time.Time) *Result {
	result := &Result{
		BackupType: manifest.BackupType,
		CreatedAt:  start,
		Metadata: map[string]string{
			"compression": string(m.config.Compression),
			"encrypted":   fmt.Sprintf("%t", m.enc.IsEnabled()),
		},
	}
	for k, v := range manifest.Custom {
		result.Metadata[k] = v
	}

	var archived []fileEntry
	var err error
	if m.config.Compression == CompressionNone {
		result.BackupPath = filepath.Join(m.config.BackupDir, name)
		archived, warnings, err = m.writeDirectoryBackup(result.BackupPath, manifest, entries, warnings)
	} else {
		result.BackupPath = filepath.Join(m.config.BackupDir, name+m.artifactExtension())
		archived, warnings, err = m.writeArchiveBackup(result.BackupPath, manifest, entries, warnings)
	}
	result.Warnings = warnings
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		result.BackupPath = ""
		m.logger.LogBackupOperation(string(manifest.BackupType), "", 0, 0, time.Since(start), err)
		return result
	}

	if len(archived) == 0 {
		os.RemoveAll(result.BackupPath)
		result.Success = false
		result.Error = "No files to backup"
		result.BackupPath = ""
		return result
	}

	result.Success = true
	result.FilesCount = len(archived)

	if m.config.Compression == CompressionNone {
		for _, e := range archived {
			result.SizeBytes += e.size
		}
	} else {
		if info, err := os.Stat(result.BackupPath); err == nil {
			result.SizeBytes = info.Size()
		}
		if sum, err := ChecksumFile(result.BackupPath); err == nil {
			result.Checksum = sum
		}
	}

	return result
}

func (m *Manager) writeArchiveBackup(path string, manifest *Manifest, entries []fileEntry, warnings []string) ([]fileEntry, []string, error) {
	compressor, err := m.cm.GetCompressor(m.config.Compression)
	if err != nil {
		return nil, warnings, err
	}

	writer, err := NewArchiveWriter(path, compressor, m.enc)
	if err != nil {
		return nil, warnings, err
	}

	var archived []fileEntry
	for _, e := range entries {
		if err := writer.AddFile(e.diskPath, e.relPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to archive %s: %v", e.diskPath, err))
			continue
		}
		archived = append(archived, e)
		manifest.Files = append(manifest.Files, e.relPath)
		manifest.FileChecksums[e.relPath] = e.checksum
	}

	// The manifest goes in last: its presence marks a fully written payload
	if err := writer.WriteManifest(manifest); err != nil {
		writer.Abort()
		return nil, warnings, err
	}
	if err := writer.Close(); err != nil {
		return nil, warnings, err
	}
	return archived, warnings, nil
}

func (m *Manager) writeDirectoryBackup(path string, manifest *Manifest, entries []fileEntry, warnings []string) ([]fileEntry, []string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, warnings, NewStorageError("failed to create backup directory", err).WithContext("path", path)
	}

	var archived []fileEntry
	for _, e := range entries {
		dest := filepath.Join(path, filepath.FromSlash(e.relPath))
		if err := copyFile(e.diskPath, dest); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to copy %s: %v", e.diskPath, err))
			continue
		}
		archived = append(archived, e)
		manifest.Files = append(manifest.Files, e.relPath)
		manifest.FileChecksums[e.relPath] = e.checksum
	}

	data, err := marshalManifest(manifest)
	if err != nil {
		os.RemoveAll(path)
		return nil, warnings, err
	}
	if err := os.WriteFile(filepath.Join(path, ManifestName), data, 0o644); err != nil {
		os.RemoveAll(path)
		return nil, warnings, NewStorageError("failed to write backup manifest", err).WithContext("path", path)
	}
	return archived, warnings, nil
}

// CreateSafetySnapshot archives the current contents of dir into an
// underscore-prefixed artifact that list operations skip. Restores take one
// before overwriting anything so a bad restore is itself recoverable. The
// uuid suffix keeps rapid consecutive restores from colliding on the
// one-second timestamp resolution.
func (m *Manager) CreateSafetySnapshot(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", NewValidationError("safety snapshot target is not a directory", err).WithContext("path", dir)
	}

	name := fmt.Sprintf("_safety_backup_%s_%s.tar.gz",
		time.Now().Format(timestampLayout), uuid.NewString()[:8])
	path := filepath.Join(m.config.BackupDir, name)

	compressor, _ := m.cm.GetCompressor(CompressionGzip)
	writer, err := NewArchiveWriter(path, compressor, nil)
	if err != nil {
		return "", err
	}

	base := filepath.Dir(dir)
	count := 0
	walkErr := filepath.Walk(dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		if err := writer.AddFile(p, filepath.ToSlash(rel)); err != nil {
			return err
		}
		count++
		return nil
	})
	if walkErr != nil {
		writer.Abort()
		return "", NewStorageError("failed to snapshot directory", walkErr).WithContext("path", dir)
	}
	// An empty snapshot protects nothing and would litter the backup dir
	if count == 0 {
		writer.Abort()
		return "", NewValidationError("refusing to snapshot an empty directory", nil).WithContext("path", dir)
	}

	manifest := &Manifest{
		Version:    manifestVersion,
		BackupName: strings.TrimSuffix(name, ".tar.gz"),
		BackupType: TypeFull,
		CreatedAt:  time.Now(),
		DataPaths:  []string{dir},
		Custom:     map[string]string{"safety_backup": "true"},
	}
	if err := writer.WriteManifest(manifest); err != nil {
		writer.Abort()
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	m.logger.WithFields(map[string]interface{}{
		"path":  path,
		"files": count,
	}).Info("Safety snapshot created")
	return path, nil
}

// ListBackups returns all backup artifacts in the backup directory, newest
// first. Underscore-prefixed entries (state side-car, safety snapshots) and
// partial writes are skipped. Each artifact's manifest is read to fill in
// the file count, creation time and caller metadata; an unreadable manifest
// degrades to what the artifact name carries.
func (m *Manager) ListBackups() ([]Info, error) {
	dirEntries, err := os.ReadDir(m.config.BackupDir)
	if err != nil {
		return nil, NewStorageError("failed to read backup directory", err).WithContext("path", m.config.BackupDir)
	}

	var backups []Info
	for _, entry := range dirEntries {
		name := entry.Name()
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasSuffix(name, ".partial") {
			continue
		}

		backupType, createdAt, ok := parseBackupName(name)
		if !ok {
			continue
		}

		path := filepath.Join(m.config.BackupDir, name)
		info := Info{
			Name:      name,
			Path:      path,
			Type:      backupType,
			CreatedAt: createdAt,
		}
		if fi, err := entry.Info(); err == nil {
			if fi.IsDir() {
				info.SizeBytes = dirSize(path)
			} else {
				info.SizeBytes = fi.Size()
				if sum, err := ChecksumFile(path); err == nil {
					info.Checksum = sum
				}
			}
		}

		if manifest, err := m.GetBackupManifest(path); err == nil {
			info.Type = manifest.BackupType
			info.CreatedAt = manifest.CreatedAt
			info.FilesCount = len(manifest.Files)
			info.Metadata = manifest.Custom
		} else {
			m.logger.Warnf("could not read manifest for %s: %v", name, err)
		}

		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// GetLatestBackup returns the most recent backup, or a not-found error when
// none exist.
func (m *Manager) GetLatestBackup() (*Info, error) {
	backups, err := m.ListBackups()
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, NewNotFoundError("No backups found", nil)
	}
	return &backups[0], nil
}

// GetLatestBackupOfType returns the most recent backup of the given type
func (m *Manager) GetLatestBackupOfType(backupType BackupType) (*Info, error) {
	backups, err := m.ListBackups()
	if err != nil {
		return nil, err
	}
	for i := range backups {
		if backups[i].Type == backupType {
			return &backups[i], nil
		}
	}
	return nil, NewNotFoundError(fmt.Sprintf("No %s backups found", backupType), nil)
}

// GetBackupManifest loads the manifest embedded in a backup artifact
func (m *Manager) GetBackupManifest(path string) (*Manifest, error) {
	return ReadManifest(path, m.cm, m.enc)
}

// OpenArchive opens a backup archive for streaming reads
func (m *Manager) OpenArchive(path string) (*ArchiveReader, error) {
	return OpenArchive(path, m.cm, m.enc)
}

// ListMembers returns the data entries of a backup artifact
func (m *Manager) ListMembers(path string) ([]string, error) {
	return ListArchiveMembers(path, m.cm, m.enc)
}

// VerifyBackup checks one artifact: the manifest must be readable, the
// member set must match the manifest's file list exactly, and where the
// manifest carries per-file checksums the contents must hash to them.
// Verification never mutates the artifact; verifying twice gives the same
// answer.
func (m *Manager) VerifyBackup(path string) *VerificationResult {
	result := &VerificationResult{
		BackupPath:    path,
		ChecksumMatch: true,
	}

	manifest, err := m.GetBackupManifest(path)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	members, err := m.ListMembers(path)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	memberSet := make(map[string]bool, len(members))
	for _, member := range members {
		memberSet[member] = true
	}
	manifestSet := make(map[string]bool, len(manifest.Files))
	for _, file := range manifest.Files {
		manifestSet[filepath.ToSlash(file)] = true
	}

	for file := range manifestSet {
		if !memberSet[file] {
			result.Errors = append(result.Errors, fmt.Sprintf("file listed in manifest but missing from archive: %s", file))
		}
	}
	for member := range memberSet {
		if !manifestSet[member] {
			result.Errors = append(result.Errors, fmt.Sprintf("file present in archive but not in manifest: %s", member))
		}
	}

	if len(manifest.FileChecksums) > 0 {
		mismatches, err := m.verifyChecksums(path, manifest)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		if len(mismatches) > 0 {
			result.ChecksumMatch = false
			result.Errors = append(result.Errors, mismatches...)
		}
	}

	result.FilesVerified = len(members)
	result.IsValid = len(result.Errors) == 0
	return result
}

// verifyChecksums streams each data entry and compares its hash against the
// manifest's recorded checksum.
func (m *Manager) verifyChecksums(path string, manifest *Manifest) ([]string, error) {
	var mismatches []string

	if IsDirectoryBackup(path) {
		for rel, want := range manifest.FileChecksums {
			got, err := ChecksumFile(filepath.Join(path, filepath.FromSlash(rel)))
			if err != nil {
				mismatches = append(mismatches, fmt.Sprintf("failed to hash %s: %v", rel, err))
				continue
			}
			if got != want {
				mismatches = append(mismatches, fmt.Sprintf("checksum mismatch for %s", rel))
			}
		}
		return mismatches, nil
	}

	reader, err := m.OpenArchive(path)
	if err != nil {
		return mismatches, err
	}
	defer reader.Close()

	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return mismatches, NewCorruptionError("failed to read backup archive", err).WithContext("path", path)
		}
		name := filepath.ToSlash(header.Name)
		want, tracked := manifest.FileChecksums[name]
		if !tracked {
			continue
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			return mismatches, NewCorruptionError("failed to read archive entry", err).WithContext("entry", name)
		}
		if ChecksumBytes(data) != want {
			mismatches = append(mismatches, fmt.Sprintf("checksum mismatch for %s", name))
		}
	}
	return mismatches, nil
}

// VerifyAllBackups verifies every artifact the list operation can see
func (m *Manager) VerifyAllBackups() ([]*VerificationResult, error) {
	backups, err := m.ListBackups()
	if err != nil {
		return nil, err
	}
	results := make([]*VerificationResult, 0, len(backups))
	for _, b := range backups {
		results = append(results, m.VerifyBackup(b.Path))
	}
	return results, nil
}

// CleanupOldBackups removes backups older than the configured retention
// window using the default keep-minimum floor.
func (m *Manager) CleanupOldBackups() ([]string, error) {
	return m.CleanupWithRetention(m.config.RetentionDays, DefaultKeepMinimum)
}

// CleanupWithRetention removes backups older than retentionDays, always
// keeping the keepMinimum newest regardless of age. A retention sweep can
// therefore never delete the only recovery points.
func (m *Manager) CleanupWithRetention(retentionDays, keepMinimum int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	backups, err := m.ListBackups()
	if err != nil {
		return nil, err
	}
	if len(backups) <= keepMinimum {
		return nil, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	var removed []string
	// ListBackups sorts newest first, so everything past keepMinimum is a
	// deletion candidate.
	for _, b := range backups[keepMinimum:] {
		if !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(b.Path); err != nil {
			m.logger.Warnf("failed to remove expired backup %s: %v", b.Path, err)
			continue
		}
		removed = append(removed, b.Path)
		m.logger.WithFields(map[string]interface{}{
			"path":       b.Path,
			"created_at": b.CreatedAt.Format(time.RFC3339),
		}).Info("Expired backup removed")
	}
	return removed, nil
}

// dirSize sums the sizes of all regular files under dir
func dirSize(dir string) int64 {
	var total int64
	filepath.Walk(dir, func(_ string, fi os.FileInfo, err error) error {
		if err == nil && !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total
}

// artifactExtension is the suffix for new archive artifacts under the
// current configuration.
func (m *Manager) artifactExtension() string {
	compressor, err := m.cm.GetCompressor(m.config.Compression)
	if err != nil {
		return ".tar.gz"
	}
	ext := compressor.Extension()
	if m.enc.IsEnabled() {
		ext += EncryptedExtension
	}
	return ext
}

// parseBackupName extracts the type and creation time from an artifact name
// like "full_20250102_150405.tar.gz" or "incremental_20250102_150405".
func parseBackupName(name string) (BackupType, time.Time, bool) {
	base := name
	for _, ext := range []string{EncryptedExtension, ".tar.gz", ".tar.zst", ".tar.lz4"} {
		base = strings.TrimSuffix(base, ext)
	}

	var backupType BackupType
	var rest string
	switch {
	case strings.HasPrefix(base, string(TypeFull)+"_"):
		backupType = TypeFull
		rest = strings.TrimPrefix(base, string(TypeFull)+"_")
	case strings.HasPrefix(base, string(TypeIncremental)+"_"):
		backupType = TypeIncremental
		rest = strings.TrimPrefix(base, string(TypeIncremental)+"_")
	default:
		return "", time.Time{}, false
	}

	createdAt, err := time.ParseInLocation(timestampLayout, rest, time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	return backupType, createdAt, true
}

func marshalManifest(manifest *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, NewValidationError("failed to serialize manifest", err)
	}
	return data, nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
