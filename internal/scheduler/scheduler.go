// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sftrader/internal/events"
)

// ErrUnknownJob is returned by RunNow for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// ErrJobRunning is returned when a job is triggered while it is still running.
var ErrJobRunning = errors.New("job already running")

// Job represents a scheduled job
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// JobStatus describes a registered job
type JobStatus struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Running      bool          `json:"running"`
	Next         *time.Time    `json:"next,omitempty"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	LastStatus   string        `json:"last_status,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
}

type entry struct {
	job      Job
	schedule string
	id       cron.EntryID

	running      bool
	lastRun      time.Time
	lastStatus   string
	lastError    string
	lastDuration time.Duration
}

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	events *events.Manager
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*entry
	log  zerolog.Logger
}

// New creates a new scheduler. Schedules use the standard five-field cron
// syntax plus descriptors such as "@daily" and "@every 1h".
func New(eventManager *events.Manager, log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		events: eventManager,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*entry),
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "*/5 * * * *"        - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "30 22 * * MON-FRI"  - 22:30 on weekdays
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}

	e := &entry{job: job, schedule: schedule}
	id, err := s.cron.AddFunc(schedule, func() {
		if err := s.execute(s.ctx, e); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}
	e.id = id
	s.jobs[job.Name()] = e

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// Register makes a job available to RunNow without scheduling it
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}
	s.jobs[job.Name()] = &entry{job: job}
	return nil
}

// RunNow executes a registered job immediately (outside schedule)
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.execute(ctx, e)
}

// Jobs returns the status of every registered job, sorted by name
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, e := range s.jobs {
		status := JobStatus{
			Name:         name,
			Schedule:     e.schedule,
			Running:      e.running,
			LastStatus:   e.lastStatus,
			LastError:    e.lastError,
			LastDuration: e.lastDuration,
		}
		if e.id != 0 {
			if next := s.cron.Entry(e.id).Next; !next.IsZero() {
				status.Next = &next
			}
		}
		if !e.lastRun.IsZero() {
			last := e.lastRun
			status.LastRun = &last
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// execute runs one job, never more than one instance of it at a time
func (s *Scheduler) execute(ctx context.Context, e *entry) error {
	name := e.job.Name()

	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.log.Warn().Str("job", name).Msg("Job still running, skipping")
		return ErrJobRunning
	}
	e.running = true
	s.mu.Unlock()

	jobID := uuid.New().String()
	start := time.Now()
	s.events.Emit("scheduler", &events.JobStatusData{
		JobID:     jobID,
		JobType:   name,
		Status:    "started",
		Timestamp: start,
	})
	s.log.Debug().Str("job", name).Msg("Running job")

	err := s.runSafely(ctx, e.job)
	duration := time.Since(start)

	status := "completed"
	errMsg := ""
	if err != nil {
		status = "failed"
		errMsg = err.Error()
	}

	s.mu.Lock()
	e.running = false
	e.lastRun = start
	e.lastStatus = status
	e.lastError = errMsg
	e.lastDuration = duration
	s.mu.Unlock()

	s.events.Emit("scheduler", &events.JobStatusData{
		JobID:     jobID,
		JobType:   name,
		Status:    status,
		Error:     errMsg,
		Duration:  duration.Seconds(),
		Timestamp: time.Now(),
	})

	if err == nil {
		s.log.Debug().Str("job", name).Dur("duration", duration).Msg("Job completed")
	}
	return err
}

func (s *Scheduler) runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
