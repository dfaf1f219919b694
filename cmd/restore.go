package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"datavault/internal/restore"
)

var (
	restoreDest    string
	restoreDryRun  bool
	noSafetyBackup bool
	noVerify       bool
)

// restoreCmd groups the restore subcommands
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore files from backups",
	Long: `Restore files from backup artifacts.

Unless disabled, a restore first verifies the backup and snapshots the
destination directory into a safety backup, so a bad restore can itself be
rolled back. Use --dry-run to see what a restore would do without writing
anything.`,
}

func restoreOptions() restore.Options {
	return restore.Options{
		SkipVerify:       noVerify,
		DryRun:           restoreDryRun,
		SkipSafetyBackup: noSafetyBackup,
	}
}

func reportRestore(result *restore.Result) error {
	if handled, err := printStructured(result); handled {
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("restore failed")
		}
		return nil
	}

	if result.Success {
		verb := "restored"
		if result.IsDryRun {
			verb = "would be restored"
		}
		printStatus(true, fmt.Sprintf("%d files %s to %s", result.FilesRestored, verb, result.RestoredPath))
		if result.SafetyBackupPath != "" {
			fmt.Printf("  safety backup: %s\n", result.SafetyBackupPath)
		}
		printWarnings(result.Warnings)
		return nil
	}

	printStatus(false, result.Error)
	printWarnings(result.Warnings)
	return fmt.Errorf("restore failed")
}

var restoreLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Restore the most recent backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}
		return reportRestore(m.restorer.RestoreLatest(restoreDest, restoreOptions()))
	},
}

var restoreBackupCmd = &cobra.Command{
	Use:   "backup <backup-path>",
	Short: "Restore a specific backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}
		return reportRestore(m.restorer.RestoreBackup(args[0], restoreDest, restoreOptions()))
	},
}

var restorePointInTimeCmd = &cobra.Command{
	Use:   "point-in-time <timestamp>",
	Short: "Restore the newest backup at or before a point in time",
	Long: `Restore the newest backup created at or before the given timestamp.

The timestamp is RFC 3339 ("2026-01-02T15:04:05Z") or a local date-time
("2026-01-02 15:04:05").`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parsePointInTime(args[0])
		if err != nil {
			return err
		}
		m, err := newManagers()
		if err != nil {
			return err
		}
		return reportRestore(m.restorer.RestorePointInTime(t, restoreDest, restoreOptions()))
	},
}

var restoreFileCmd = &cobra.Command{
	Use:   "file <backup-path> <file>",
	Short: "Restore a single file from a backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}
		return reportRestore(m.restorer.RestoreFile(args[0], args[1], restoreDest, restoreOptions()))
	},
}

var restoreContentsCmd = &cobra.Command{
	Use:   "contents <backup-path>",
	Short: "List the files inside a backup without restoring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}

		members, err := m.restorer.ListBackupContents(args[0])
		if err != nil {
			return err
		}

		if handled, err := printStructured(members); handled {
			return err
		}
		for _, member := range members {
			fmt.Println(member)
		}
		return nil
	},
}

func parsePointInTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func init() {
	restoreCmd.PersistentFlags().StringVar(&restoreDest, "dest", "./restored", "destination directory for restored files")
	restoreCmd.PersistentFlags().BoolVar(&restoreDryRun, "dry-run", false, "report what would be restored without writing")
	restoreCmd.PersistentFlags().BoolVar(&noSafetyBackup, "no-safety-backup", false, "skip the pre-restore safety snapshot")
	restoreCmd.PersistentFlags().BoolVar(&noVerify, "no-verify", false, "skip backup verification before restoring")

	restoreCmd.AddCommand(restoreLatestCmd)
	restoreCmd.AddCommand(restoreBackupCmd)
	restoreCmd.AddCommand(restorePointInTimeCmd)
	restoreCmd.AddCommand(restoreFileCmd)
	restoreCmd.AddCommand(restoreContentsCmd)
	rootCmd.AddCommand(restoreCmd)
}
