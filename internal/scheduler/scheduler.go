// Package scheduler provides cron-based scheduling for the background sync
// jobs: the periodic history tick and the optional merge resync.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the callback invoked when a job runs. ctx is cancelled when the
// scheduler stops.
type JobFunc func(ctx context.Context) error

var (
	ErrStopped        = errors.New("scheduler is stopped")
	ErrUnknownJob     = errors.New("job is not registered")
	ErrAlreadyRunning = errors.New("job already running")
)

// JobStatus represents the state of one registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	Schedule  string    `json:"schedule,omitempty"`
	Runs      int64     `json:"runs"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	fn       JobFunc
	schedule string
	entryID  cron.EntryID
	running  bool
	lastRun  time.Time
	lastErr  error
	runs     int64
}

// Scheduler runs named jobs on cron schedules or on demand. A job never
// overlaps itself: a firing that arrives while the job is running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*job

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running job goroutines
	started bool               // true after Start(), false after Stop()
	stopped bool               // true after Stop()
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// New creates a new Scheduler with no jobs.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(newParser())),
		logger: slog.Default(),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Register adds a job that only runs through Trigger.
func (s *Scheduler) Register(name string, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.jobs[name] = &job{fn: fn}
}

// AddJob schedules fn under name using a cron expression or a descriptor
// such as "@every 20s". An existing job with the same name is replaced.
// Returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, cronExpr string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Remove existing schedule if present
	s.removeLocked(name)

	j := &job{fn: fn, schedule: cronExpr}
	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || j.running {
			s.mu.Unlock()
			s.logger.Debug("skipping overlapping run", "job", name)
			return
		}
		j.running = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.run(name, j)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	j.entryID = entryID
	s.jobs[name] = j
	s.logger.Info("scheduled job",
		"job", name,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)

	return nil
}

// RemoveJob removes a job and its schedule.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeLocked(name) {
		s.logger.Info("removed job", "job", name)
	}
}

func (s *Scheduler) removeLocked(name string) bool {
	j, exists := s.jobs[name]
	if !exists {
		return false
	}
	if j.schedule != "" {
		s.cron.Remove(j.entryID)
	}
	delete(s.jobs, name)
	return true
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", n)
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop stops the cron loop, cancels running jobs, and waits for them to
// finish. Returns a context that is done when all work completes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel() // signal running jobs to stop

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// run executes a job (called by cron or Trigger).
// The caller must have already called wg.Add(1) and set j.running.
func (s *Scheduler) run(name string, j *job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()

	s.logger.Debug("starting job", "job", name)
	start := time.Now()

	err := j.fn(s.ctx)

	s.mu.Lock()
	j.runs++
	j.lastErr = err
	if err != nil {
		s.logger.Error("job failed",
			"job", name,
			"duration", time.Since(start),
			"error", err)
	} else {
		j.lastRun = time.Now()
		s.logger.Debug("job completed",
			"job", name,
			"duration", time.Since(start))
	}
	s.mu.Unlock()
}

// IsScheduled returns true if a job with that name is registered.
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[name]
	return exists
}

// Trigger runs a job now, outside of its schedule, in the background.
// Returns an error if the job is unknown, already running, or the scheduler
// has been stopped.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	j, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if j.running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}

	j.running = true
	s.wg.Add(1)
	go s.run(name, j)
	return nil
}

// Status returns the current status of all jobs, ordered by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		status := JobStatus{
			Name:     name,
			Running:  j.running,
			LastRun:  j.lastRun,
			Schedule: j.schedule,
			Runs:     j.runs,
		}
		if j.schedule != "" {
			status.NextRun = s.cron.Entry(j.entryID).Next
		}
		if j.lastErr != nil {
			status.LastError = j.lastErr.Error()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].Name < statuses[k].Name })
	return statuses
}

// Every returns the descriptor for a fixed interval schedule.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	if _, err := newParser().Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
