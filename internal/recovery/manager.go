package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"datavault/internal/backup"
	"datavault/internal/logging"
	"datavault/internal/restore"
)

// staleBackupAge is how old the newest backup may be before the integrity
// check raises a staleness warning.
const staleBackupAge = 24 * time.Hour

// Manager runs health sweeps over the configured data paths and drives
// recovery when something is wrong.
type Manager struct {
	backups  *backup.Manager
	restorer *restore.Manager
	logger   *logging.Logger
}

// NewManager creates a disaster-recovery manager
func NewManager(backups *backup.Manager, restorer *restore.Manager, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{
		backups:  backups,
		restorer: restorer,
		logger:   logger,
	}
}

// CheckDataHealth sweeps the configured data paths, validating structured
// files and flagging anything missing, empty or unparsable. The sweep never
// mutates anything.
func (m *Manager) CheckDataHealth() *HealthReport {
	start := time.Now()
	report := &HealthReport{
		Status:    StatusHealthy,
		CheckedAt: start,
	}

	for _, dataPath := range m.backups.Config().DataPaths {
		info, err := os.Stat(dataPath)
		if err != nil {
			report.Issues = append(report.Issues, HealthIssue{
				Severity:    severityFor(dataPath),
				Category:    CategoryMissing,
				File:        dataPath,
				Description: fmt.Sprintf("data path does not exist: %s", dataPath),
				Recoverable: true,
			})
			continue
		}

		if !info.IsDir() {
			report.FilesChecked++
			m.checkFile(dataPath, report)
			continue
		}

		filepath.Walk(dataPath, func(path string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return nil
			}
			report.FilesChecked++
			m.checkFile(path, report)
			return nil
		})
	}

	report.Status = statusFromIssues(report.Issues)
	m.logger.LogHealthCheck(report.FilesChecked, len(report.Issues), report.CriticalCount(), time.Since(start))
	return report
}

// checkFile validates one data file and appends any findings
func (m *Manager) checkFile(path string, report *HealthReport) {
	info, err := os.Stat(path)
	if err != nil {
		report.Issues = append(report.Issues, HealthIssue{
			Severity:    severityFor(path),
			Category:    CategoryMissing,
			File:        path,
			Description: fmt.Sprintf("file is not readable: %v", err),
			Recoverable: true,
		})
		return
	}

	if info.Size() == 0 {
		report.Issues = append(report.Issues, HealthIssue{
			Severity:    severityFor(path),
			Category:    CategorySize,
			File:        path,
			Description: "file is empty",
			Recoverable: true,
		})
		return
	}

	var validationErr error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		validationErr = validateJSONFile(path)
	case ".jsonl":
		validationErr = validateJSONLFile(path)
	default:
		return
	}

	if validationErr != nil {
		report.Issues = append(report.Issues, HealthIssue{
			Severity:    severityFor(path),
			Category:    CategoryCorruption,
			File:        path,
			Description: validationErr.Error(),
			Recoverable: true,
		})
	}
}

func statusFromIssues(issues []HealthIssue) HealthStatus {
	status := StatusHealthy
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			return StatusCritical
		case SeverityWarning:
			status = StatusDegraded
		}
	}
	return status
}

// ValidateSystemIntegrity combines a data health sweep with checks on the
// backup side: backups must exist, the newest one must not be stale, and it
// must pass verification.
func (m *Manager) ValidateSystemIntegrity() *IntegrityReport {
	report := &IntegrityReport{HealthReport: *m.CheckDataHealth()}

	latest, err := m.backups.GetLatestBackup()
	if err != nil {
		report.Issues = append(report.Issues, HealthIssue{
			Severity:    SeverityWarning,
			Category:    CategoryMissing,
			Description: "no backups exist; data loss would be unrecoverable",
			Recoverable: true,
		})
		report.Status = statusFromIssues(report.Issues)
		return report
	}
	report.BackupAvailable = true
	report.LastBackup = latest

	if age := time.Since(latest.CreatedAt); age > staleBackupAge {
		report.Issues = append(report.Issues, HealthIssue{
			Severity:    SeverityWarning,
			Category:    CategoryStale,
			File:        latest.Path,
			Description: fmt.Sprintf("newest backup is %s old", age.Round(time.Minute)),
			Recoverable: true,
		})
	}

	verification := m.backups.VerifyBackup(latest.Path)
	if !verification.IsValid {
		report.Issues = append(report.Issues, HealthIssue{
			Severity:    SeverityCritical,
			Category:    CategoryCorruption,
			File:        latest.Path,
			Description: fmt.Sprintf("newest backup fails verification: %s", strings.Join(verification.Errors, "; ")),
			Recoverable: false,
		})
	}

	report.Status = statusFromIssues(report.Issues)
	return report
}

// RecoverFromCorruption walks the backups newest first and restores the
// first one that both verifies and restores cleanly into restoreDir. A bad
// newest backup is skipped, not fatal; the operation fails only when no
// candidate qualifies. The original data paths are left untouched; the
// operator moves restored files into place.
func (m *Manager) RecoverFromCorruption(restoreDir string) *restore.Result {
	m.logger.WithFields(map[string]interface{}{
		"restore_dir": restoreDir,
	}).Info("Starting corruption recovery")

	backups, err := m.backups.ListBackups()
	if err != nil {
		return &restore.Result{Error: err.Error()}
	}
	if len(backups) == 0 {
		return &restore.Result{Error: "No backups found"}
	}

	var warnings []string
	for _, candidate := range backups {
		verification := m.backups.VerifyBackup(candidate.Path)
		if !verification.IsValid {
			warnings = append(warnings, fmt.Sprintf("skipped %s: fails verification", candidate.Name))
			m.logger.Warnf("recovery candidate %s fails verification, trying older backup", candidate.Name)
			continue
		}

		opts := restore.DefaultOptions()
		opts.SkipVerify = true // already verified above
		result := m.restorer.RestoreBackup(candidate.Path, restoreDir, opts)
		if result.Success {
			result.Warnings = append(warnings, result.Warnings...)
			return result
		}
		warnings = append(warnings, fmt.Sprintf("skipped %s: restore failed: %s", candidate.Name, result.Error))
		m.logger.Warnf("recovery restore from %s failed, trying older backup: %s", candidate.Name, result.Error)
	}

	m.logger.Errorf("corruption recovery failed: no usable backup among %d candidates", len(backups))
	return &restore.Result{
		Error:    "No usable backup found",
		Warnings: warnings,
	}
}

// ExecuteRecoveryPlan runs the automated steps of a plan in order, stopping
// at the first failure. Manual steps are recorded but never executed.
func (m *Manager) ExecuteRecoveryPlan(plan *Plan, targetDir string) *ExecutionResult {
	result := &ExecutionResult{
		Scenario:   plan.Scenario,
		Success:    true,
		ExecutedAt: time.Now(),
	}

	for _, step := range plan.Steps {
		if !step.Automated {
			result.Steps = append(result.Steps, StepResult{
				Step:   step,
				Detail: "manual step; operator action required",
			})
			continue
		}

		stepResult := StepResult{Step: step, Executed: true}
		detail, err := m.executeStep(step, targetDir)
		stepResult.Detail = detail
		if err != nil {
			stepResult.Success = false
			stepResult.Detail = err.Error()
			result.Steps = append(result.Steps, stepResult)
			result.Success = false
			m.logger.Errorf("recovery step failed: %s: %v", step.Description, err)
			break
		}
		stepResult.Success = true
		result.Steps = append(result.Steps, stepResult)
	}

	return result
}

// executeStep runs one automated action. A health check is an assessment,
// not a gate: it reports what it found in the detail and only the other
// actions can fail the plan.
func (m *Manager) executeStep(step Step, targetDir string) (string, error) {
	switch step.Action {
	case ActionRunHealthCheck:
		report := m.CheckDataHealth()
		return fmt.Sprintf("status %s, %d issues across %d files", report.Status, len(report.Issues), report.FilesChecked), nil
	case ActionVerifyBackups:
		results, err := m.backups.VerifyAllBackups()
		if err != nil {
			return "", err
		}
		for _, r := range results {
			if !r.IsValid {
				return "", fmt.Errorf("backup fails verification: %s", r.BackupPath)
			}
		}
		return fmt.Sprintf("%d backups verified", len(results)), nil
	case ActionRestoreLatest:
		result := m.restorer.RestoreLatest(targetDir, restore.DefaultOptions())
		if !result.Success {
			return "", fmt.Errorf("restore failed: %s", result.Error)
		}
		return fmt.Sprintf("%d files restored to %s", result.FilesRestored, targetDir), nil
	case ActionCleanupBackups:
		removed, err := m.backups.CleanupOldBackups()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d expired backups removed", len(removed)), nil
	case ActionCreateFullBackup:
		result := m.backups.CreateFullBackup(nil)
		if !result.Success {
			return "", fmt.Errorf("full backup failed: %s", result.Error)
		}
		return fmt.Sprintf("full backup created: %s", result.BackupPath), nil
	default:
		return "", fmt.Errorf("unknown recovery action: %s", step.Action)
	}
}
