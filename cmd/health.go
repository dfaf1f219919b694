package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"datavault/internal/recovery"
)

var recoveryTarget string

// healthCmd groups the health and disaster-recovery subcommands
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check data health and run disaster recovery",
}

var healthCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the protected data files",
	Long: `Sweep the configured data paths and validate every file.

JSON and JSONL files are parsed; empty, missing and unparsable files are
reported. Problems in position, trade or audit files are critical; anything
else degrades the status. The sweep never modifies anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}
		return reportHealth(m.recovery.CheckDataHealth())
	},
}

var healthIntegrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Validate data health plus backup coverage",
	Long: `Run the data health sweep and additionally check the backup side:
backups must exist, the newest one must be recent, and it must pass
verification.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}
		return reportIntegrity(m.recovery.ValidateSystemIntegrity())
	},
}

var healthPlanCmd = &cobra.Command{
	Use:   "plan <scenario>",
	Short: "Show the recovery plan for a failure scenario",
	Long: fmt.Sprintf(`Show the step-by-step recovery plan for a failure scenario.

Known scenarios: %v. Anything else gets a generic investigate-and-restore
plan. Steps marked manual require an operator; the rest can be executed with
"health recover".`, recovery.KnownScenarios()),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan := recovery.BuildRecoveryPlan(args[0])

		if handled, err := printStructured(plan); handled {
			return err
		}

		printHeader(fmt.Sprintf("Recovery plan: %s", plan.Scenario))
		fmt.Println(plan.Description)
		downtime := "no downtime expected"
		if plan.RequiresDowntime {
			downtime = "requires downtime"
		}
		fmt.Printf("Estimated duration: %s (%s)\n", plan.EstimatedDuration, downtime)
		for i, step := range plan.Steps {
			mode := "manual"
			if step.Automated {
				mode = "automated"
			}
			fmt.Printf("  %d. [%s] %s\n", i+1, mode, step.Description)
		}
		return nil
	},
}

var healthRecoverCmd = &cobra.Command{
	Use:   "recover <scenario>",
	Short: "Execute the automated steps of a recovery plan",
	Long: `Execute the automated steps of the recovery plan for a scenario,
stopping at the first failure. Restores land in the --target directory, not
over the live data; manual steps are listed for the operator.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}

		plan := recovery.BuildRecoveryPlan(args[0])
		result := m.recovery.ExecuteRecoveryPlan(plan, recoveryTarget)

		if handled, err := printStructured(result); handled {
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("recovery failed")
			}
			return nil
		}

		printHeader(fmt.Sprintf("Recovery: %s", result.Scenario))
		for i, step := range result.Steps {
			switch {
			case !step.Step.Automated:
				fmt.Printf("  %d. MANUAL   %s\n", i+1, step.Step.Description)
			case step.Success:
				fmt.Printf("  %d. OK       %s", i+1, step.Step.Description)
				if step.Detail != "" {
					fmt.Printf(" (%s)", step.Detail)
				}
				fmt.Println()
			default:
				fmt.Printf("  %d. FAILED   %s: %s\n", i+1, step.Step.Description, step.Detail)
			}
		}

		if !result.Success {
			printStatus(false, "recovery stopped at a failing step")
			return fmt.Errorf("recovery failed")
		}
		printStatus(true, "automated recovery steps completed")
		return nil
	},
}

var healthRecoverDataCmd = &cobra.Command{
	Use:   "recover-data",
	Short: "Restore the newest usable backup into a directory",
	Long: `Walk the backups newest first and restore the first one that both
verifies and restores cleanly into the --target directory. A damaged newest
backup is skipped in favor of an older one; the operation fails only when no
backup qualifies. The live data paths are never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}
		return reportRestore(m.recovery.RecoverFromCorruption(recoveryTarget))
	},
}

func reportIntegrity(report *recovery.IntegrityReport) error {
	if handled, err := printStructured(report); handled {
		if err != nil {
			return err
		}
		if report.Status == recovery.StatusCritical {
			return fmt.Errorf("health check reports critical status")
		}
		return nil
	}

	if err := reportHealth(&report.HealthReport); err != nil {
		return err
	}
	if report.BackupAvailable {
		printStatus(true, fmt.Sprintf("latest backup: %s (%s)",
			report.LastBackup.Name, report.LastBackup.CreatedAt.Format("2006-01-02 15:04:05")))
	} else {
		printWarnings([]string{"no backups available"})
	}
	return nil
}

func reportHealth(report *recovery.HealthReport) error {
	if handled, err := printStructured(report); handled {
		if err != nil {
			return err
		}
		if report.Status == recovery.StatusCritical {
			return fmt.Errorf("health check reports critical status")
		}
		return nil
	}

	ok := report.Status == recovery.StatusHealthy
	printStatus(ok, fmt.Sprintf("status %s, %d files checked, %d issues",
		report.Status, report.FilesChecked, len(report.Issues)))
	for _, issue := range report.Issues {
		line := fmt.Sprintf("  [%s/%s] %s", issue.Severity, issue.Category, issue.Description)
		if issue.File != "" {
			line += fmt.Sprintf(" (%s)", issue.File)
		}
		fmt.Println(line)
	}

	if report.Status == recovery.StatusCritical {
		return fmt.Errorf("health check reports critical status")
	}
	return nil
}

func init() {
	healthRecoverCmd.Flags().StringVar(&recoveryTarget, "target", "./recovered", "directory receiving restored files")
	healthRecoverDataCmd.Flags().StringVar(&recoveryTarget, "target", "./recovered", "directory receiving restored files")

	healthCmd.AddCommand(healthCheckCmd)
	healthCmd.AddCommand(healthIntegrityCmd)
	healthCmd.AddCommand(healthPlanCmd)
	healthCmd.AddCommand(healthRecoverCmd)
	healthCmd.AddCommand(healthRecoverDataCmd)
	rootCmd.AddCommand(healthCmd)
}
