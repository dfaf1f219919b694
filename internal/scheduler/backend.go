package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Backend abstracts how scheduled jobs are triggered. The cron backend is
// the default; the loop backend exists for environments where a plain
// ticker is preferable to a cron runtime.
type Backend interface {
	// ScheduleDaily registers fn to run every day at hour:minute
	ScheduleDaily(id string, hour, minute int, fn func()) error
	// ScheduleHourly registers fn to run every hour at the given minute
	ScheduleHourly(id string, minute int, fn func()) error
	// NextRun reports when the job will fire next
	NextRun(id string) (time.Time, bool)
	// Start begins triggering jobs
	Start()
	// Stop halts triggering; running jobs finish
	Stop()
}

// CronBackend schedules jobs with a cron runner
type CronBackend struct {
	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

// NewCronBackend creates the default scheduling backend
func NewCronBackend() *CronBackend {
	return &CronBackend{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

func (b *CronBackend) schedule(id, spec string, fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.entries[id]; exists {
		return fmt.Errorf("job already scheduled: %s", id)
	}
	entryID, err := b.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("invalid schedule for job %s: %w", id, err)
	}
	b.entries[id] = entryID
	return nil
}

// ScheduleDaily registers a job at hour:minute every day
func (b *CronBackend) ScheduleDaily(id string, hour, minute int, fn func()) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid time for job %s: %02d:%02d", id, hour, minute)
	}
	return b.schedule(id, fmt.Sprintf("%d %d * * *", minute, hour), fn)
}

// ScheduleHourly registers a job at the given minute of every hour
func (b *CronBackend) ScheduleHourly(id string, minute int, fn func()) error {
	if minute < 0 || minute > 59 {
		return fmt.Errorf("invalid minute for job %s: %d", id, minute)
	}
	return b.schedule(id, fmt.Sprintf("%d * * * *", minute), fn)
}

// NextRun reports the job's next firing time. Before Start the cron runner
// has not computed entry times yet, so the schedule is evaluated directly.
func (b *CronBackend) NextRun(id string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entryID, exists := b.entries[id]
	if !exists {
		return time.Time{}, false
	}
	entry := b.cron.Entry(entryID)
	if !entry.Next.IsZero() {
		return entry.Next, true
	}
	if entry.Schedule != nil {
		return entry.Schedule.Next(time.Now()), true
	}
	return time.Time{}, false
}

// Start begins the cron runner
func (b *CronBackend) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.cron.Start()
}

// Stop halts the cron runner and waits for running jobs to finish
func (b *CronBackend) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.mu.Unlock()
	<-b.cron.Stop().Done()
}

// loopJob is one fixed-period job in the loop backend
type loopJob struct {
	id      string
	period  time.Duration
	nextRun time.Time
	fn      func()
}

// LoopBackend triggers jobs from plain goroutine loops. Each job sleeps to
// its next boundary and then advances by a fixed period, so long job runs
// drift the schedule late rather than skipping runs.
type LoopBackend struct {
	mu      sync.Mutex
	jobs    map[string]*loopJob
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewLoopBackend creates the ticker-based scheduling backend
func NewLoopBackend() *LoopBackend {
	return &LoopBackend{
		jobs: make(map[string]*loopJob),
	}
}

// ScheduleDaily registers a job at hour:minute every day
func (b *LoopBackend) ScheduleDaily(id string, hour, minute int, fn func()) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid time for job %s: %02d:%02d", id, hour, minute)
	}
	now := time.Now()
	first := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !first.After(now) {
		first = first.AddDate(0, 0, 1)
	}
	return b.add(id, 24*time.Hour, first, fn)
}

// ScheduleHourly registers a job at the given minute of every hour
func (b *LoopBackend) ScheduleHourly(id string, minute int, fn func()) error {
	if minute < 0 || minute > 59 {
		return fmt.Errorf("invalid minute for job %s: %d", id, minute)
	}
	now := time.Now()
	first := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, now.Location())
	if !first.After(now) {
		first = first.Add(time.Hour)
	}
	return b.add(id, time.Hour, first, fn)
}

func (b *LoopBackend) add(id string, period time.Duration, first time.Time, fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.jobs[id]; exists {
		return fmt.Errorf("job already scheduled: %s", id)
	}
	b.jobs[id] = &loopJob{id: id, period: period, nextRun: first, fn: fn}
	return nil
}

// NextRun reports the job's next firing time
func (b *LoopBackend) NextRun(id string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, exists := b.jobs[id]
	if !exists {
		return time.Time{}, false
	}
	return job.nextRun, true
}

// Start launches one goroutine per registered job
func (b *LoopBackend) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.stop = make(chan struct{})

	for _, job := range b.jobs {
		b.wg.Add(1)
		go b.run(job)
	}
}

func (b *LoopBackend) run(job *loopJob) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		next := job.nextRun
		b.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-b.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		job.fn()

		b.mu.Lock()
		job.nextRun = job.nextRun.Add(job.period)
		b.mu.Unlock()
	}
}

// Stop halts all job loops and waits for running jobs to finish
func (b *LoopBackend) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	close(b.stop)
	b.mu.Unlock()
	b.wg.Wait()
}
