package recovery

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"datavault/internal/backup"
)

// HealthStatus is the overall state of the monitored data
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "HEALTHY"
	StatusDegraded HealthStatus = "DEGRADED"
	StatusCritical HealthStatus = "CRITICAL"
)

// IssueSeverity ranks a single finding
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityWarning  IssueSeverity = "warning"
	SeverityInfo     IssueSeverity = "info"
)

// IssueCategory classifies what kind of problem was found
type IssueCategory string

const (
	CategoryCorruption IssueCategory = "corruption"
	CategoryMissing    IssueCategory = "missing"
	CategoryInvalid    IssueCategory = "invalid"
	CategorySize       IssueCategory = "size"
	CategoryStale      IssueCategory = "stale"
)

// HealthIssue is one finding from a health sweep
type HealthIssue struct {
	Severity    IssueSeverity `json:"severity"`
	Category    IssueCategory `json:"category"`
	File        string        `json:"file,omitempty"`
	Description string        `json:"description"`
	Recoverable bool          `json:"recoverable"`
}

// HealthReport is the outcome of one health sweep
type HealthReport struct {
	Status       HealthStatus  `json:"status"`
	FilesChecked int           `json:"files_checked"`
	Issues       []HealthIssue `json:"issues,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// IsHealthy reports whether the sweep found nothing wrong
func (r *HealthReport) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IntegrityReport extends a health sweep with the state of the backup side
type IntegrityReport struct {
	HealthReport
	BackupAvailable bool         `json:"backup_available"`
	LastBackup      *backup.Info `json:"last_backup,omitempty"`
}

// CriticalCount returns the number of critical findings
func (r *HealthReport) CriticalCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical {
			count++
		}
	}
	return count
}

// criticalFileMarkers identifies files whose loss or corruption means the
// system cannot safely operate. Problems in any other file degrade the
// system instead of taking it critical.
var criticalFileMarkers = []string{"positions", "trade", "audit"}

// isCriticalFile reports whether a file belongs to the critical set
func isCriticalFile(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, marker := range criticalFileMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// severityFor maps a finding on a file to its severity
func severityFor(path string) IssueSeverity {
	if isCriticalFile(path) {
		return SeverityCritical
	}
	return SeverityWarning
}

// validateJSONFile checks that the file parses as a single JSON document
func validateJSONFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unreadable: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("file is empty")
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// validateJSONLFile checks that every non-empty line parses as JSON,
// reporting the first bad line by number.
func validateJSONLFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unreadable: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return fmt.Errorf("invalid JSON at line %d", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("unreadable: %w", err)
	}
	return nil
}
