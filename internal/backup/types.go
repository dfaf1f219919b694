package backup

import (
	"time"
)

// Well-known file names inside a backup directory. Both are prefixed with
// an underscore so list operations can skip them without reading manifests.
const (
	ManifestName  = "_backup_manifest.json"
	StateFileName = "_backup_state.json"
)

// BackupType distinguishes full snapshots from change-only snapshots
type BackupType string

const (
	TypeFull        BackupType = "full"
	TypeIncremental BackupType = "incremental"
)

// CompressionType selects the archive compression algorithm
type CompressionType string

const (
	CompressionNone CompressionType = "NONE"
	CompressionGzip CompressionType = "GZIP"
	CompressionLZ4  CompressionType = "LZ4"
	CompressionZstd CompressionType = "ZSTD"
)

// Result is the outcome of a single backup operation. Public operations
// return a Result with an explicit Success flag instead of raising errors;
// callers branch on Success and read Error for the human-readable reason.
type Result struct {
	Success    bool              `json:"success"`
	BackupPath string            `json:"backup_path,omitempty"`
	BackupType BackupType        `json:"backup_type"`
	FilesCount int               `json:"files_count"`
	SizeBytes  int64             `json:"size_bytes"`
	Checksum   string            `json:"checksum,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Error      string            `json:"error,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Info describes an existing backup artifact as discovered on disk
type Info struct {
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Type       BackupType        `json:"backup_type"`
	CreatedAt  time.Time         `json:"created_at"`
	SizeBytes  int64             `json:"size_bytes"`
	Checksum   string            `json:"checksum,omitempty"`
	FilesCount int               `json:"files_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// VerificationResult is the outcome of verifying one backup artifact
type VerificationResult struct {
	BackupPath    string   `json:"backup_path"`
	IsValid       bool     `json:"is_valid"`
	ChecksumMatch bool     `json:"checksum_match"`
	Errors        []string `json:"errors,omitempty"`
	FilesVerified int      `json:"files_verified"`
}

// Manifest is the metadata record embedded in every backup artifact as
// _backup_manifest.json. Write-once, read-many.
type Manifest struct {
	Version    int        `json:"version"`
	BackupName string     `json:"backup_name"`
	BackupType BackupType `json:"backup_type"`
	CreatedAt  time.Time  `json:"created_at"`
	Files      []string   `json:"files"`
	// DataPaths is recorded for full backups; BaseBackup references the
	// last full backup for incrementals.
	DataPaths  []string `json:"data_paths,omitempty"`
	BaseBackup string   `json:"base_backup,omitempty"`
	// FileChecksums maps each relative path to its SHA-256 at backup time,
	// so directory-mode backups are content-verifiable too.
	FileChecksums map[string]string `json:"file_checksums,omitempty"`
	Custom        map[string]string `json:"custom,omitempty"`
}

// manifestVersion is bumped when the on-disk manifest shape changes
const manifestVersion = 1

// StateRef points at the most recent backup of one type
type StateRef struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the per-backup-directory side-car (_backup_state.json). It is
// mutated after every successful backup and read at the start of every
// incremental run to compute the change set.
type State struct {
	LastFullBackup        *StateRef         `json:"last_full_backup"`
	LastIncrementalBackup *StateRef         `json:"last_incremental_backup"`
	FileChecksums         map[string]string `json:"file_checksums"`
}
