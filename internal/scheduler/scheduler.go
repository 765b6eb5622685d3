// Package scheduler runs registered programs on cron schedules, recording
// each run in the store.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowvm/internal/store"
	"github.com/rendis/flowvm/pkg/interp"
	"github.com/rendis/flowvm/pkg/schema"
)

// DefaultTickInterval is the schedule polling period.
const DefaultTickInterval = 60 * time.Second

// Job is one recurring program run.
type Job struct {
	Name    string
	Spec    string // standard 5-field cron expression
	Program *schema.Program
	Input   any

	schedule cron.Schedule
	nextRun  time.Time
}

// Scheduler ticks registered jobs and executes due ones.
type Scheduler struct {
	ip     *interp.Interpreter
	host   interp.Host
	store  store.Store
	parser cron.Parser
	tick   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job names currently executing (dedup)
}

// NewScheduler creates a Scheduler. tickInterval <= 0 uses the default.
func NewScheduler(ip *interp.Interpreter, host interp.Host, st store.Store, tickInterval time.Duration, logger *slog.Logger) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		ip:       ip,
		host:     host,
		store:    st,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		tick:     tickInterval,
		logger:   logger,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// AddJob registers a recurring run. The cron expression is validated here;
// the first run happens at its next scheduled time.
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "job name is empty")
	}
	if job.Program == nil {
		return schema.NewError(schema.ErrCodeValidation, "job program is nil")
	}
	schedule, err := s.parser.Parse(job.Spec)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"parse cron expression %q: %v", job.Spec, err).WithCause(err)
	}
	job.schedule = schedule
	job.nextRun = schedule.Next(time.Now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "job %q already registered", job.Name)
	}
	s.jobs[job.Name] = &job
	return nil
}

// RemoveJob unregisters a job. Removing an unknown name is a no-op.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue executes every job whose next run time has passed.
func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !job.nextRun.After(now) {
			due = append(due, job)
			job.nextRun = job.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if !s.tryAcquire(job.Name) {
			continue // previous run still in flight
		}
		if err := s.runJob(ctx, job); err != nil {
			s.logger.Error("scheduled run failed",
				slog.String("job", job.Name),
				slog.String("error", err.Error()),
			)
		}
		s.release(job.Name)
	}
}

// runJob executes one job run and records it.
func (s *Scheduler) runJob(ctx context.Context, job *Job) error {
	s.logger.Info("running scheduled job",
		slog.String("job", job.Name),
		slog.String("program", job.Program.Name),
	)

	run := s.ip.Execute(ctx, job.Program, s.host, job.Input, nil)

	if err := s.store.CreateRun(ctx, &store.RunRecord{
		ID:      run.ID(),
		Program: job.Program.Name,
		Status:  store.RunStatusRunning,
	}); err != nil {
		return err
	}

	value, err := run.Drain()

	now := time.Now().UTC()
	update := store.RunUpdate{FinishedAt: &now}
	if err != nil {
		status := store.RunStatusFailed
		msg := err.Error()
		update.Status = &status
		update.Error = &msg
	} else {
		status := store.RunStatusCompleted
		update.Status = &status
		if raw, merr := json.Marshal(value); merr == nil {
			update.Result = raw
		}
	}
	if uerr := s.store.UpdateRun(ctx, run.ID(), update); uerr != nil {
		return uerr
	}
	return err
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// NextRun reports a job's next scheduled run time.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return job.nextRun, true
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
