package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"datavault/internal/backup"
	"datavault/internal/scheduler"
)

var (
	fullHour          int
	fullMinute        int
	incrementalMinute int
	cleanupHour       int
	cleanupRetention  int
	useLoopBackend    bool
	noIncremental     bool
	noCleanup         bool
)

// scheduleCmd groups the scheduler subcommands
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on a recurring schedule",
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backup scheduler until interrupted",
	Long: `Run the backup scheduler in the foreground.

By default it schedules a daily full backup, hourly incremental backups and
a daily retention cleanup. A failing or panicking job is logged and never
stops the schedule. Stop with SIGINT or SIGTERM; an in-flight backup is
allowed to finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}

		var backend scheduler.Backend
		if useLoopBackend {
			backend = scheduler.NewLoopBackend()
		} else {
			backend = scheduler.NewCronBackend()
		}

		sched := scheduler.NewScheduler(m.backups, backend, m.logger)
		if err := sched.ScheduleFullBackups(fullHour, fullMinute); err != nil {
			return err
		}
		if !noIncremental {
			if err := sched.ScheduleIncrementalBackups(incrementalMinute); err != nil {
				return err
			}
		}
		if !noCleanup {
			if err := sched.ScheduleCleanup(cleanupRetention, cleanupHour, 30); err != nil {
				return err
			}
		}

		sched.Start()
		defer sched.Stop()

		printScheduleTable(sched)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		m.logger.Infof("received %s, shutting down scheduler", sig)
		return nil
	},
}

var scheduleNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show when each scheduled job would fire next",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}

		sched := scheduler.NewScheduler(m.backups, scheduler.NewCronBackend(), m.logger)
		if err := sched.ScheduleFullBackups(fullHour, fullMinute); err != nil {
			return err
		}
		if !noIncremental {
			if err := sched.ScheduleIncrementalBackups(incrementalMinute); err != nil {
				return err
			}
		}
		if !noCleanup {
			if err := sched.ScheduleCleanup(cleanupRetention, cleanupHour, 30); err != nil {
				return err
			}
		}

		printScheduleTable(sched)
		return nil
	},
}

var scheduleNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Trigger a backup immediately, outside the schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManagers()
		if err != nil {
			return err
		}

		sched := scheduler.NewScheduler(m.backups, nil, m.logger)
		result := sched.RunBackupNow(backup.BackupType(backupType))

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
				printStatus(true, fmt.Sprintf("%s backup created: %s", result.BackupType, result.BackupPath))
			}
			return nil
		}
		printStatus(false, result.Error)
		return fmt.Errorf("backup failed")
	},
}

func printScheduleTable(sched *scheduler.Scheduler) {
	jobs := []string{
		scheduler.JobFullDaily,
		scheduler.JobIncrementalHourly,
		scheduler.JobCleanupDaily,
	}

	printHeader(fmt.Sprintf("%-30s %s", "JOB", "NEXT RUN"))
	for _, jobID := range jobs {
		next, ok := sched.NextRunTime(jobID)
		if !ok {
			continue
		}
		fmt.Printf("%-30s %s\n", jobID, next.Format("2006-01-02 15:04:05"))
	}
	if next, ok := sched.NextBackupTime(); ok {
		fmt.Printf("%-30s %s\n", "next backup", next.Format("2006-01-02 15:04:05"))
	}
}

func init() {
	scheduleCmd.PersistentFlags().IntVar(&fullHour, "full-hour", 2, "hour of day for the daily full backup")
	scheduleCmd.PersistentFlags().IntVar(&fullMinute, "full-minute", 0, "minute of the daily full backup")
	scheduleCmd.PersistentFlags().IntVar(&incrementalMinute, "incremental-minute", 0, "minute of each hour for incremental backups")
	scheduleCmd.PersistentFlags().IntVar(&cleanupHour, "cleanup-hour", 3, "hour of day for the retention cleanup")
	scheduleCmd.PersistentFlags().IntVar(&cleanupRetention, "cleanup-retention-days", 0, "retention window for scheduled cleanups (0 uses the configured retention)")
	scheduleCmd.PersistentFlags().BoolVar(&useLoopBackend, "loop-backend", false, "use plain ticker loops instead of cron")
	scheduleCmd.PersistentFlags().BoolVar(&noIncremental, "no-incremental", false, "skip hourly incremental backups")
	scheduleCmd.PersistentFlags().BoolVar(&noCleanup, "no-cleanup", false, "skip the daily retention cleanup")
	scheduleNowCmd.Flags().StringVar(&backupType, "type", "full", "backup type (full, incremental)")

	scheduleCmd.AddCommand(scheduleRunCmd)
	scheduleCmd.AddCommand(scheduleNextCmd)
	scheduleCmd.AddCommand(scheduleNowCmd)
	rootCmd.AddCommand(scheduleCmd)
}
