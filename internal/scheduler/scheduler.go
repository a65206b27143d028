// Package scheduler adapts the teacher's internal/cron.Scheduler (cron/every/at
// firing on github.com/robfig/cron/v3, persisted JobExecution history) to
// synthesize internal/inbound.Message turns into the agent loop instead of
// firing webhook requests or arbitrary handlers (spec.md §4.K).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starkrun/agentcore/internal/config"
	"github.com/starkrun/agentcore/internal/inbound"
)

// Dispatcher delivers a synthesized inbound.Message into the agent loop and
// returns the assistant's final response text, the way a real channel shim
// would after calling chatsession.Store.GetOrCreate and
// agentloop.Driver.RunTurn.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg inbound.Message) (response string, err error)
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, msg inbound.Message) (string, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, msg inbound.Message) (string, error) {
	return f(ctx, msg)
}

// Job is one scheduled or heartbeat job.
type Job struct {
	ID          string
	Name        string
	Enabled     bool
	Schedule    Schedule
	ChannelType string
	ChannelID   string
	Text        string
	Heartbeat   *config.SchedulerHeartbeatConfig
	Retry       config.SchedulerRetryConfig

	NextRun    time.Time
	LastRun    time.Time
	LastError  string
	RetryCount int
}

// Scheduler fires due jobs on a tick, synthesizing an inbound.Message for
// each and handing it to the Dispatcher.
type Scheduler struct {
	jobs           []*Job
	logger         *slog.Logger
	dispatcher     Dispatcher
	executionStore ExecutionStore
	now            func() time.Time
	tickInterval   time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExecutionStore configures the execution history store.
func WithExecutionStore(store ExecutionStore) Option {
	return func(s *Scheduler) {
		if store != nil {
			s.executionStore = store
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// New creates a scheduler from config. Jobs that fail to parse are skipped
// with a logged warning rather than aborting startup.
func New(cfg config.SchedulerConfig, dispatcher Dispatcher, opts ...Option) (*Scheduler, error) {
	if dispatcher == nil {
		return nil, errors.New("scheduler: dispatcher is required")
	}
	s := &Scheduler{
		logger:         slog.Default().With("component", "scheduler"),
		dispatcher:     dispatcher,
		executionStore: NewMemoryExecutionStore(),
		now:            time.Now,
		tickInterval:   time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	jobs := make([]*Job, 0, len(cfg.Jobs))
	for _, entry := range cfg.Jobs {
		job, err := s.buildJob(entry, now)
		if err != nil {
			s.logger.Warn("scheduler job skipped", "id", entry.ID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	s.jobs = jobs
	return s, nil
}

// Start begins running jobs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the scheduler loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires due jobs immediately (tests, manual triggers).
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if s == nil {
		return 0
	}
	return s.runDue(ctx)
}

// Jobs returns a snapshot of configured jobs.
func (s *Scheduler) Jobs() []*Job {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job == nil {
			continue
		}
		copyJob := *job
		out = append(out, &copyJob)
	}
	return out
}

// Executions returns execution history for a job.
func (s *Scheduler) Executions(ctx context.Context, jobID string, limit, offset int) ([]*JobExecution, error) {
	if s == nil || s.executionStore == nil {
		return nil, nil
	}
	return s.executionStore.List(ctx, strings.TrimSpace(jobID), limit, offset)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	count := 0
	s.mu.Lock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		if job == nil {
			continue
		}
		s.mu.Lock()
		due := job.Enabled && !job.NextRun.IsZero() && !now.Before(job.NextRun)
		s.mu.Unlock()
		if !due {
			continue
		}
		if job.Heartbeat != nil && !heartbeatActive(job.Heartbeat, job.ChannelType, job.ChannelID, now) {
			s.rescheduleAfterRun(job, now, nil)
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Warn("scheduler job failed", "id", job.ID, "error", err)
		}
		count++
	}
	return count
}

func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) error {
	s.mu.Lock()
	job.LastRun = now
	retryCount := job.RetryCount
	s.mu.Unlock()

	msg := inbound.NewMessage(job.ChannelID, job.ChannelType, job.ChannelID, "scheduler", job.Name, job.Text)

	exec := &JobExecution{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Status:    ExecutionRunning,
		StartedAt: now,
		Retry:     retryCount,
	}
	if err := s.executionStore.Create(ctx, exec); err != nil {
		s.logger.Warn("scheduler execution create failed", "job_id", job.ID, "error", err)
	}

	response, err := s.dispatcher.Dispatch(ctx, msg)

	exec.CompletedAt = s.now()
	exec.Duration = exec.CompletedAt.Sub(exec.StartedAt)
	if err != nil {
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
	} else {
		exec.Status = ExecutionSucceeded
		exec.Response = response
	}
	if updateErr := s.executionStore.Update(ctx, exec); updateErr != nil {
		s.logger.Warn("scheduler execution update failed", "job_id", job.ID, "error", updateErr)
	}

	s.rescheduleAfterRun(job, now, err)
	return err
}

func (s *Scheduler) rescheduleAfterRun(job *Job, now time.Time, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runErr != nil {
		job.LastError = runErr.Error()
		maxRetries := job.Retry.MaxRetries
		if maxRetries > 0 && job.RetryCount < maxRetries {
			job.RetryCount++
			job.NextRun = now.Add(retryDelay(job.Retry, job.RetryCount))
			return
		}
	} else {
		job.LastError = ""
	}
	job.RetryCount = 0
	next, ok, err := job.Schedule.Next(now)
	if err != nil || !ok {
		if err != nil {
			job.LastError = err.Error()
		}
		job.NextRun = time.Time{}
		job.Enabled = false
		return
	}
	job.NextRun = next
}

func retryDelay(cfg config.SchedulerRetryConfig, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	delay := backoff
	if attempt > 1 {
		delay = time.Duration(1<<(attempt-1)) * backoff
	}
	if cfg.MaxBackoff > 0 && delay > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return delay
}

func (s *Scheduler) buildJob(cfg config.SchedulerJobConfig, now time.Time) (*Job, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("job id required")
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("job disabled")
	}
	if strings.TrimSpace(cfg.ChannelType) == "" || strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, fmt.Errorf("job missing channel_type/channel_id")
	}
	if cfg.Heartbeat == nil && strings.TrimSpace(cfg.Text) == "" {
		return nil, fmt.Errorf("job missing text")
	}
	schedule, err := NewSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	next, ok, err := schedule.Next(now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no next run scheduled")
	}

	text := cfg.Text
	if cfg.Heartbeat != nil && strings.TrimSpace(text) == "" {
		text = "heartbeat check-in"
	}

	return &Job{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Enabled:     cfg.Enabled,
		Schedule:    schedule,
		ChannelType: cfg.ChannelType,
		ChannelID:   cfg.ChannelID,
		Text:        text,
		Heartbeat:   cfg.Heartbeat,
		Retry:       cfg.Retry,
		NextRun:     next,
	}, nil
}

// heartbeatActive reports whether cfg allows a heartbeat addressed to
// channelType:channelID to fire at now.
func heartbeatActive(cfg *config.SchedulerHeartbeatConfig, channelType, channelID string, now time.Time) bool {
	if !cfg.Global {
		key := channelType + ":" + channelID
		inScope := false
		for _, scoped := range cfg.ChannelScope {
			if scoped == key {
				inScope = true
				break
			}
		}
		if !inScope {
			return false
		}
	}
	if len(cfg.ActiveDays) > 0 {
		today := int(now.Weekday())
		allowed := false
		for _, day := range cfg.ActiveDays {
			if day == today {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if cfg.ActiveHourStart != cfg.ActiveHourEnd {
		hour := now.Hour()
		if cfg.ActiveHourStart < cfg.ActiveHourEnd {
			if hour < cfg.ActiveHourStart || hour >= cfg.ActiveHourEnd {
				return false
			}
		} else {
			// wraps past midnight, e.g. 22-6
			if hour < cfg.ActiveHourStart && hour >= cfg.ActiveHourEnd {
				return false
			}
		}
	}
	return true
}
