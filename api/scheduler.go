/*
scheduler.go - Automated job scheduler for the membership engine

PURPOSE:
  Periodically runs the association's recurring jobs: yearly renewal
  invoicing, arrears and post-March suspensions, renewal reminders,
  payment-state refresh, dependent age checks and the committee tenure
  review.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each job runs at most once per period (day or month). Before a job runs
    the scheduler records a JobRun keyed "cron:<job>:<period>"; a duplicate
    key means the job already ran, so frequent ticks are harmless
  - Failed runs keep their key and are retried in the next period
  - Manual triggers (POST /api/jobs/{name}/run) bypass the period guard and
    are recorded under "manual:<job>:<id>"

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(store, h.Jobs(), clock, logger, m)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ListJobs, ListJobRuns, RunJob endpoints
  - membership/arrears.go, membership/invoicing.go: Job bodies
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
	"github.com/shifa/membership-engine/metrics"
)

// Job schedules.
const (
	Daily   = "daily"
	Monthly = "monthly"
)

// JobOutcome is what a job reports back to the run registry.
type JobOutcome struct {
	Affected  int
	Reference string
	Result    any
}

// Job is a named recurring operation.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (JobOutcome, error)
}

// periodKey identifies the period a scheduled run belongs to.
func (j Job) periodKey(today core.Date) string {
	if j.Schedule == Monthly {
		return fmt.Sprintf("%04d-%02d", today.Year(), int(today.Month()))
	}
	return today.String()
}

// ScheduledRunKey is the idempotency key of the scheduled run of job for today.
func ScheduledRunKey(j Job, today core.Date) string {
	return "cron:" + j.Name + ":" + j.periodKey(today)
}

// ErrUnknownJob is returned when a job name is not registered.
var ErrUnknownJob = errors.New("unknown job")

// Scheduler runs registered jobs once per period.
type Scheduler struct {
	Store         core.Store
	Clock         core.Clock
	Jobs          []Job
	CheckInterval time.Duration
	Enabled       bool

	logger  zerolog.Logger
	metrics *metrics.Metrics

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

// NewScheduler creates a new scheduler.
func NewScheduler(store core.Store, jobs []Job, clock core.Clock, logger zerolog.Logger, m *metrics.Metrics) *Scheduler {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Scheduler{
		Store:         store,
		Clock:         clock,
		Jobs:          jobs,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logging.Component(logger, "scheduler"),
		metrics:       m,
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info().Msg("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.logger.Info().Dur("interval", s.CheckInterval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info().Msg("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow runs every job that has not run in its current period and returns
// the runs it executed.
func (s *Scheduler) RunNow(ctx context.Context) []core.JobRun {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	today := s.Clock.Today()
	var runs []core.JobRun
	skipped := 0
	for _, job := range s.Jobs {
		run := core.JobRun{
			Key:       ScheduledRunKey(job, today),
			Job:       job.Name,
			RunDate:   today,
			Status:    core.RunRunning,
			StartedAt: s.Clock.Now(),
		}
		if err := s.Store.RecordRun(ctx, run); err != nil {
			if errors.Is(err, core.ErrDuplicateKey) {
				skipped++
				continue
			}
			s.logger.Error().Err(err).Str(logging.JOB, job.Name).Msg("failed to record run")
			continue
		}
		finished, _ := s.execute(ctx, job, run)
		runs = append(runs, finished)
	}

	if len(runs) > 0 || skipped > 0 {
		s.logger.Info().Int("ran", len(runs)).Int("skipped", skipped).Msg("scheduler check completed")
	}
	return runs
}

// RunJob runs a job immediately regardless of its period guard.
func (s *Scheduler) RunJob(ctx context.Context, name string) (*core.JobRun, any, error) {
	job, ok := s.job(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	run := core.JobRun{
		Key:       "manual:" + name + ":" + core.NewID(),
		Job:       name,
		RunDate:   s.Clock.Today(),
		Status:    core.RunRunning,
		StartedAt: s.Clock.Now(),
	}
	if err := s.Store.RecordRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("failed to record run: %w", err)
	}
	finished, outcome := s.execute(ctx, job, run)
	if finished.Status == core.RunFailed {
		return &finished, nil, errors.New(finished.Error)
	}
	return &finished, outcome.Result, nil
}

func (s *Scheduler) job(name string) (Job, bool) {
	for _, j := range s.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

func (s *Scheduler) execute(ctx context.Context, job Job, run core.JobRun) (core.JobRun, JobOutcome) {
	start := time.Now()
	log := s.logger.With().Str(logging.JOB, job.Name).Str("key", run.Key).Logger()

	outcome, err := job.Run(ctx)
	run.CompletedAt = s.Clock.Now()
	if err != nil {
		run.Status = core.RunFailed
		run.Error = err.Error()
		log.Error().Err(err).Msg("job failed")
	} else {
		run.Status = core.RunCompleted
		run.Affected = outcome.Affected
		run.Reference = outcome.Reference
		log.Info().Int(logging.COUNT, outcome.Affected).Dur("took", time.Since(start)).Msg("job completed")
	}
	if err := s.Store.FinishRun(ctx, run); err != nil {
		log.Error().Err(err).Msg("failed to finish run record")
	}
	s.metrics.ObserveJob(job.Name, string(run.Status), start)
	return run, outcome
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *Scheduler) GetNextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}
