package backup

import (
	"os"
)

// Config is the immutable configuration for backup operations, created once
// at startup and shared by the backup, restore, scheduler and recovery
// managers.
type Config struct {
	// BackupDir is where backup artifacts and the state side-car live
	BackupDir string `mapstructure:"backup_dir" yaml:"backup_dir"`
	// DataPaths are the source roots (files or directories) to back up
	DataPaths []string `mapstructure:"data_paths" yaml:"data_paths"`
	// RetentionDays is the rolling retention window for cleanup
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
	// Compression selects the archive algorithm; NONE produces a mirrored
	// directory tree instead of a single archive
	Compression CompressionType `mapstructure:"compression" yaml:"compression"`
	// IncludePatterns / ExcludePatterns filter the files considered for
	// backup. "*suffix" patterns match file-name suffixes, anything else
	// matches as a substring.
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"`
	// Encryption optionally seals archives with AES-256-GCM
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
}

// DefaultIncludePatterns covers the small structured data files this system
// is built for.
var DefaultIncludePatterns = []string{"*.json", "*.jsonl", "*.db", "*.sqlite", "*.csv"}

// DefaultExcludePatterns skips transient and tooling artifacts.
var DefaultExcludePatterns = []string{"*.log", "*.tmp", "*.bak", ".git", "node_modules"}

// SetDefaults fills in zero-valued fields
func (c *Config) SetDefaults() {
	if c.RetentionDays == 0 {
		c.RetentionDays = 30
	}
	if c.Compression == "" {
		c.Compression = CompressionGzip
	}
	if c.IncludePatterns == nil {
		c.IncludePatterns = append([]string(nil), DefaultIncludePatterns...)
	}
	if c.ExcludePatterns == nil {
		c.ExcludePatterns = append([]string(nil), DefaultExcludePatterns...)
	}
}

// Validate checks the configuration. Configuration errors are fatal at
// construction time.
func (c *Config) Validate() error {
	if c.BackupDir == "" {
		return NewConfigurationError("backup directory is required", nil)
	}
	if len(c.DataPaths) == 0 {
		return NewConfigurationError("at least one data path is required", nil)
	}
	if c.RetentionDays < 0 {
		return NewConfigurationError("retention days cannot be negative", nil)
	}
	switch c.Compression {
	case "", CompressionNone, CompressionGzip, CompressionLZ4, CompressionZstd:
	default:
		return NewConfigurationError("invalid compression type: "+string(c.Compression), nil)
	}
	if err := c.Encryption.Validate(); err != nil {
		return err
	}
	return nil
}

// EnsureBackupDir creates the backup directory if missing and checks that
// it is writable.
func (c *Config) EnsureBackupDir() error {
	if err := os.MkdirAll(c.BackupDir, 0o755); err != nil {
		return NewStorageError("failed to create backup directory", err)
	}
	return nil
}
