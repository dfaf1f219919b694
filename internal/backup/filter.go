package backup

import (
	"path/filepath"
	"strings"
)

// FileFilter decides which files participate in a backup based on the
// configured include/exclude patterns. Exclusion wins over inclusion.
type FileFilter struct {
	includePatterns []string
	excludePatterns []string
}

// NewFileFilter creates a filter from the configured patterns
func NewFileFilter(include, exclude []string) *FileFilter {
	return &FileFilter{
		includePatterns: include,
		excludePatterns: exclude,
	}
}

// ShouldInclude reports whether the file at path should be backed up.
// Exclude patterns are checked first: a "*suffix" pattern matches the file
// name's suffix, any other pattern matches as a substring of the full path
// (so directory names like ".git" exclude everything beneath them). Include
// patterns then match the same way against the file name, with files that
// have no extension always included.
func (f *FileFilter) ShouldInclude(path string) bool {
	name := filepath.Base(path)

	for _, pattern := range f.excludePatterns {
		if strings.HasPrefix(pattern, "*") {
			if strings.HasSuffix(name, pattern[1:]) {
				return false
			}
		} else if strings.Contains(path, pattern) {
			return false
		}
	}

	if len(f.includePatterns) == 0 {
		return true
	}

	for _, pattern := range f.includePatterns {
		if strings.HasPrefix(pattern, "*") {
			if strings.HasSuffix(name, pattern[1:]) {
				return true
			}
		} else if strings.Contains(name, pattern) {
			return true
		}
	}

	// Files without an extension (lock files, named pipes turned regular,
	// etc.) are kept so a restore reproduces the tree faithfully.
	return filepath.Ext(name) == ""
}
