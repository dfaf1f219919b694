package recovery

import (
	"fmt"
	"strings"
	"time"
)

// Known recovery scenarios
const (
	ScenarioDataCorruption = "data_corruption"
	ScenarioDiskFull       = "disk_full"
	ScenarioLostPositions  = "lost_positions"
	ScenarioLostAudit      = "lost_audit"
)

// Step actions the recovery executor can perform without an operator
const (
	ActionRestoreLatest    = "restore_latest"
	ActionCleanupBackups   = "cleanup_old_backups"
	ActionCreateFullBackup = "create_full_backup"
	ActionRunHealthCheck   = "run_health_check"
	ActionVerifyBackups    = "verify_backups"
)

// Step is one action in a recovery plan. Automated steps carry an Action
// the executor knows how to run; manual steps are instructions for the
// operator and are reported, never executed.
type Step struct {
	Description string `json:"description"`
	Action      string `json:"action,omitempty"`
	Automated   bool   `json:"automated"`
}

// Plan is an ordered sequence of recovery steps for one failure scenario.
// EstimatedDuration is a coarse operator-facing estimate, not a promise.
type Plan struct {
	Scenario          string        `json:"scenario"`
	Description       string        `json:"description"`
	Steps             []Step        `json:"steps"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RequiresDowntime  bool          `json:"requires_downtime"`
}

// StepResult records the outcome of one executed plan step
type StepResult struct {
	Step     Step   `json:"step"`
	Executed bool   `json:"executed"`
	Success  bool   `json:"success"`
	Detail   string `json:"detail,omitempty"`
}

// ExecutionResult is the outcome of running a recovery plan
type ExecutionResult struct {
	Scenario   string       `json:"scenario"`
	Success    bool         `json:"success"`
	Steps      []StepResult `json:"steps"`
	ExecutedAt time.Time    `json:"executed_at"`
}

// BuildRecoveryPlan returns the plan for a known scenario, or a generic
// investigate-and-restore plan for anything unrecognized.
func BuildRecoveryPlan(scenario string) *Plan {
	switch strings.ToLower(scenario) {
	case ScenarioDataCorruption:
		return &Plan{
			Scenario:          ScenarioDataCorruption,
			Description:       "Recover from corrupted data files",
			EstimatedDuration: 15 * time.Minute,
			RequiresDowntime:  true,
			Steps: []Step{
				{Description: "Run a health check to identify corrupted files", Action: ActionRunHealthCheck, Automated: true},
				{Description: "Verify existing backups are intact", Action: ActionVerifyBackups, Automated: true},
				{Description: "Restore the latest backup over the corrupted data", Action: ActionRestoreLatest, Automated: true},
				{Description: "Re-run the health check to confirm recovery", Action: ActionRunHealthCheck, Automated: true},
			},
		}
	case ScenarioDiskFull:
		return &Plan{
			Scenario:          ScenarioDiskFull,
			Description:       "Free space consumed by backup artifacts",
			EstimatedDuration: 10 * time.Minute,
			RequiresDowntime:  false,
			Steps: []Step{
				{Description: "Remove backups past the retention window", Action: ActionCleanupBackups, Automated: true},
				{Description: "Review remaining disk usage and remove unrelated files", Automated: false},
				{Description: "Create a fresh full backup once space is available", Action: ActionCreateFullBackup, Automated: true},
			},
		}
	case ScenarioLostPositions:
		return &Plan{
			Scenario:          ScenarioLostPositions,
			Description:       "Recover lost position records",
			EstimatedDuration: 30 * time.Minute,
			RequiresDowntime:  true,
			Steps: []Step{
				{Description: "Stop all processes writing position data", Automated: false},
				{Description: "Verify existing backups are intact", Action: ActionVerifyBackups, Automated: true},
				{Description: "Restore the latest backup containing position files", Action: ActionRestoreLatest, Automated: true},
				{Description: "Reconcile restored positions against external records", Automated: false},
			},
		}
	case ScenarioLostAudit:
		return &Plan{
			Scenario:          ScenarioLostAudit,
			Description:       "Recover lost audit records",
			EstimatedDuration: 20 * time.Minute,
			RequiresDowntime:  false,
			Steps: []Step{
				{Description: "Verify existing backups are intact", Action: ActionVerifyBackups, Automated: true},
				{Description: "Restore the latest backup containing audit files", Action: ActionRestoreLatest, Automated: true},
				{Description: "Report the audit gap window to compliance", Automated: false},
			},
		}
	default:
		return &Plan{
			Scenario:          scenario,
			Description:       fmt.Sprintf("Generic recovery for scenario %q", scenario),
			EstimatedDuration: 30 * time.Minute,
			RequiresDowntime:  true,
			Steps: []Step{
				{Description: "Run a health check to assess damage", Action: ActionRunHealthCheck, Automated: true},
				{Description: "Verify existing backups are intact", Action: ActionVerifyBackups, Automated: true},
				{Description: "Investigate the failure before restoring", Automated: false},
				{Description: "Restore the latest backup", Action: ActionRestoreLatest, Automated: true},
			},
		}
	}
}

// KnownScenarios lists the scenarios with dedicated plans
func KnownScenarios() []string {
	return []string{
		ScenarioDataCorruption,
		ScenarioDiskFull,
		ScenarioLostPositions,
		ScenarioLostAudit,
	}
}
