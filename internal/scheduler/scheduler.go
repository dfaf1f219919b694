package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"datavault/internal/backup"
	"datavault/internal/logging"
)

// Well-known job identifiers
const (
	JobFullDaily         = "full_daily_backup"
	JobIncrementalHourly = "incremental_hourly_backup"
	JobCleanupDaily      = "cleanup_daily"
)

// Scheduler runs backups on a recurring schedule. Job callbacks never
// propagate panics or errors out of the scheduling loop; failures surface
// through logs and the OnFailure hook.
type Scheduler struct {
	backups *backup.Manager
	logger  *logging.Logger
	backend Backend

	mu        sync.Mutex
	onSuccess func(jobID string, result *backup.Result)
	onFailure func(jobID string, result *backup.Result)
	started   bool
}

// NewScheduler creates a scheduler over the given backend. A nil backend
// gets the cron default.
func NewScheduler(backups *backup.Manager, backend Backend, logger *logging.Logger) *Scheduler {
	if backend == nil {
		backend = NewCronBackend()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Scheduler{
		backups: backups,
		logger:  logger,
		backend: backend,
	}
}

// OnSuccess registers a hook invoked after every successful scheduled run.
// A later call replaces the previous hook.
func (s *Scheduler) OnSuccess(fn func(jobID string, result *backup.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSuccess = fn
}

// OnFailure registers a hook invoked after every failed scheduled run
func (s *Scheduler) OnFailure(fn func(jobID string, result *backup.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

// ScheduleFullBackups registers a daily full backup at hour:minute
func (s *Scheduler) ScheduleFullBackups(hour, minute int) error {
	return s.backend.ScheduleDaily(JobFullDaily, hour, minute, func() {
		s.runJob(JobFullDaily, func() *backup.Result {
			return s.backups.CreateFullBackup(map[string]string{"scheduled": "true"})
		})
	})
}

// ScheduleIncrementalBackups registers an hourly incremental backup at the
// given minute of each hour.
func (s *Scheduler) ScheduleIncrementalBackups(minute int) error {
	return s.backend.ScheduleHourly(JobIncrementalHourly, minute, func() {
		s.runJob(JobIncrementalHourly, func() *backup.Result {
			return s.backups.CreateIncrementalBackup(map[string]string{"scheduled": "true"})
		})
	})
}

// ScheduleCleanup registers a daily retention sweep at hour:minute.
// A positive retentionDays overrides the configured retention window for the
// scheduled sweeps only; zero or negative falls back to the configuration.
func (s *Scheduler) ScheduleCleanup(retentionDays, hour, minute int) error {
	return s.backend.ScheduleDaily(JobCleanupDaily, hour, minute, func() {
		s.runJob(JobCleanupDaily, func() *backup.Result {
			return s.runCleanup(retentionDays)
		})
	})
}

// runCleanup adapts the retention sweep to the job result shape
func (s *Scheduler) runCleanup(retentionDays int) *backup.Result {
	var removed []string
	var err error
	if retentionDays > 0 {
		removed, err = s.backups.CleanupWithRetention(retentionDays, backup.DefaultKeepMinimum)
	} else {
		removed, err = s.backups.CleanupOldBackups()
	}
	result := &backup.Result{
		Success:   err == nil,
		CreatedAt: time.Now(),
		Metadata:  map[string]string{"removed_count": fmt.Sprintf("%d", len(removed))},
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// runJob executes one scheduled run with panic isolation. A panicking
// backup must not take the scheduling loop down with it.
func (s *Scheduler) runJob(jobID string, fn func() *backup.Result) {
	runID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("job panicked: %v", r)
			s.logger.LogScheduledRun(jobID, runID, false, err)
			s.notify(jobID, &backup.Result{
				Success:   false,
				CreatedAt: time.Now(),
				Error:     err.Error(),
			})
		}
	}()

	result := fn()
	if result.Success {
		s.logger.LogScheduledRun(jobID, runID, true, nil)
	} else {
		s.logger.LogScheduledRun(jobID, runID, false, fmt.Errorf("%s", result.Error))
	}
	s.notify(jobID, result)
}

func (s *Scheduler) notify(jobID string, result *backup.Result) {
	s.mu.Lock()
	onSuccess, onFailure := s.onSuccess, s.onFailure
	s.mu.Unlock()

	if result.Success && onSuccess != nil {
		onSuccess(jobID, result)
	}
	if !result.Success && onFailure != nil {
		onFailure(jobID, result)
	}
}

// RunBackupNow triggers a backup of the given type immediately, outside the
// schedule, with the same hooks and logging as a scheduled run.
func (s *Scheduler) RunBackupNow(backupType backup.BackupType) *backup.Result {
	var result *backup.Result
	switch backupType {
	case backup.TypeFull:
		result = s.backups.CreateFullBackup(nil)
		s.notify(JobFullDaily, result)
	case backup.TypeIncremental:
		result = s.backups.CreateIncrementalBackup(nil)
		s.notify(JobIncrementalHourly, result)
	default:
		result = &backup.Result{
			Success:   false,
			CreatedAt: time.Now(),
			Error:     fmt.Sprintf("unknown backup type: %s", backupType),
		}
	}
	return result
}

// NextRunTime reports when the given job will fire next
func (s *Scheduler) NextRunTime(jobID string) (time.Time, bool) {
	return s.backend.NextRun(jobID)
}

// NextBackupTime reports the earliest upcoming run across the backup jobs.
// Cleanup is housekeeping, not a backup, so it does not count.
func (s *Scheduler) NextBackupTime() (time.Time, bool) {
	var next time.Time
	found := false
	for _, jobID := range []string{JobFullDaily, JobIncrementalHourly} {
		at, ok := s.backend.NextRun(jobID)
		if !ok {
			continue
		}
		if !found || at.Before(next) {
			next = at
			found = true
		}
	}
	return next, found
}

// Start begins triggering scheduled jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.backend.Start()
	s.logger.Info("Backup scheduler started")
}

// Stop halts the scheduler, letting in-flight jobs finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.backend.Stop()
	s.logger.Info("Backup scheduler stopped")
}
