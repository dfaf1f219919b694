package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"datavault/internal/backup"
)

var (
	backupType  string
	keepMinimum int
)

// backupCmd groups the backup subcommands
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, verify and prune backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a full or incremental backup",
	Long: `Create a backup of the configured data paths.

A full backup captures every matching file. An incremental backup captures
only files whose content changed since the last backup, detected by checksum;
when nothing changed it succeeds without producing an artifact.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}

		var result *backup.Result
		switch strings.ToLower(backupType) {
		case string(backup.TypeFull):
			result = m.backups.CreateFullBackup(nil)
		case string(backup.TypeIncremental):
			result = m.backups.CreateIncrementalBackup(nil)
		default:
			return fmt.Errorf("invalid backup type %q, must be full or incremental", backupType)
		}

		if handled, err := printStructured(result); handled {
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("backup failed")
			}
			return nil
		}

		if result.Success {
			if result.BackupPath == "" {
				printStatus(true, result.Metadata["message"])
			} else {
				printStatus(true, fmt.Sprintf("%s backup created: %s (%d files, %s)",
					result.BackupType, result.BackupPath, result.FilesCount, formatBytes(result.SizeBytes)))
			}
			printWarnings(result.Warnings)
			return nil
		}

		printStatus(false, result.Error)
		printWarnings(result.Warnings)
		return fmt.Errorf("backup failed")
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List existing backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}

		backups, err := m.backups.ListBackups()
		if err != nil {
			return err
		}

		if handled, err := printStructured(backups); handled {
			return err
		}

		if len(backups) == 0 {
			fmt.Println("No backups found")
			return nil
		}

		printHeader(fmt.Sprintf("%-45s %-12s %-20s %10s", "NAME", "TYPE", "CREATED", "SIZE"))
		for _, b := range backups {
			fmt.Printf("%-45s %-12s %-20s %10s\n",
				b.Name, b.Type, b.CreatedAt.Format("2006-01-02 15:04:05"), formatBytes(b.SizeBytes))
		}
		return nil
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify [backup-path]",
	Short: "Verify backup integrity",
	Long: `Verify one backup, or all of them when no path is given.

Verification reads the embedded manifest, compares it against the archive's
actual members, and re-hashes file contents against the recorded checksums.
It never modifies the artifact.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}

		var results []*backup.VerificationResult
		if len(args) == 1 {
			results = append(results, m.backups.VerifyBackup(args[0]))
		} else {
			results, err = m.backups.VerifyAllBackups()
			if err != nil {
				return err
			}
		}

		if handled, err := printStructured(results); handled {
			if err != nil {
				return err
			}
			return verifyExitError(results)
		}

		for _, r := range results {
			if r.IsValid {
				printStatus(true, fmt.Sprintf("%s (%d files verified)", r.BackupPath, r.FilesVerified))
			} else {
				printStatus(false, r.BackupPath)
				for _, e := range r.Errors {
					fmt.Printf("  %s\n", e)
				}
			}
		}
		return verifyExitError(results)
	},
}

func verifyExitError(results []*backup.VerificationResult) error {
	for _, r := range results {
		if !r.IsValid {
			return fmt.Errorf("verification failed")
		}
	}
	return nil
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove backups past the retention window",
	Long: `Remove backups older than the retention window.

The newest backups are always kept regardless of age, so a cleanup can never
delete the only remaining recovery points.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}

		removed, err := m.backups.CleanupWithRetention(m.backups.Config().RetentionDays, keepMinimum)
		if err != nil {
			return err
		}

		if handled, err := printStructured(map[string]interface{}{
			"removed":       removed,
			"removed_count": len(removed),
		}); handled {
			return err
		}

		if len(removed) == 0 {
			fmt.Println("Nothing to clean up")
			return nil
		}
		printStatus(true, fmt.Sprintf("%d expired backups removed", len(removed)))
		for _, path := range removed {
			fmt.Printf("  %s\n", path)
		}
		return nil
	},
}

func init() {
	backupCreateCmd.Flags().StringVar(&backupType, "type", "full", "backup type (full, incremental)")
	backupCleanupCmd.Flags().IntVar(&keepMinimum, "keep-minimum", backup.DefaultKeepMinimum, "newest backups to keep regardless of age")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	backupCmd.AddCommand(backupCleanupCmd)
	rootCmd.AddCommand(backupCmd)
}
