// Package worker owns the periodic loops that redrive queued and retrying jobs and
// the bounded pool they execute on.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/engine"
	"github.com/stanstork/stratum-ingest/internal/models"
)

// ErrAlreadyInFlight is returned by Dispatch when the job is executing or queued
// for execution.
var ErrAlreadyInFlight = errors.New("job already in flight")

const (
	LoopQueued   = "queued"
	LoopRetrying = "retrying"
	LoopManual   = "manual"
)

type JobLister interface {
	ListByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error)
}

// Attempter runs one attempt of a job and decides what happens next.
type Attempter interface {
	Attempt(ctx context.Context, jobID string) (engine.Decision, error)
}

type AttemptFunc func(ctx context.Context, jobID string) (engine.Decision, error)

func (f AttemptFunc) Attempt(ctx context.Context, jobID string) (engine.Decision, error) {
	return f(ctx, jobID)
}

// Metrics receives dispatch accounting. Implementations must be safe for
// concurrent use.
type Metrics interface {
	DispatchAccepted(loop string)
	DispatchDeferred(loop, reason string)
	InFlight(n int)
	AttemptDecided(decision engine.Decision, err error)
}

type nopMetrics struct{}

func (nopMetrics) DispatchAccepted(string)               {}
func (nopMetrics) DispatchDeferred(string, string)       {}
func (nopMetrics) InFlight(int)                          {}
func (nopMetrics) AttemptDecided(engine.Decision, error) {}

type Config struct {
	QueuedInterval   time.Duration `mapstructure:"queued_interval"`
	RetryingInterval time.Duration `mapstructure:"retrying_interval"`
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
}

func DefaultConfig() Config {
	return Config{
		QueuedInterval:   60 * time.Second,
		RetryingInterval: 300 * time.Second,
		Workers:          5,
		QueueSize:        25,
	}
}

type SchedulerOption func(*Scheduler)

func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func WithMetrics(m Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// Scheduler polls for QUEUED and RETRYING jobs and hands them to the pool. At most
// one execution per job id is in flight at any time.
type Scheduler struct {
	jobs      JobLister
	attempter Attempter
	pool      *Pool
	cfg       Config
	now       func() time.Time
	logger    zerolog.Logger
	metrics   Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
	running  bool
	cancel   context.CancelFunc
	loops    sync.WaitGroup
}

func NewScheduler(jobs JobLister, attempter Attempter, cfg Config, opts ...SchedulerOption) *Scheduler {
	def := DefaultConfig()
	if cfg.QueuedInterval <= 0 {
		cfg.QueuedInterval = def.QueuedInterval
	}
	if cfg.RetryingInterval <= 0 {
		cfg.RetryingInterval = def.RetryingInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	s := &Scheduler{
		jobs:      jobs,
		attempter: attempter,
		cfg:       cfg,
		now:       time.Now,
		logger:    zerolog.Nop(),
		metrics:   nopMetrics{},
		inFlight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "scheduler").Logger()
	s.pool = NewPool(cfg.Workers, cfg.QueueSize, s.logger)
	return s
}

// Start launches the pool and both poll loops. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.pool.Start()

	s.loops.Add(2)
	go s.loop(ctx, LoopQueued, s.cfg.QueuedInterval, s.pollQueued)
	go s.loop(ctx, LoopRetrying, s.cfg.RetryingInterval, s.pollRetrying)

	s.logger.Info().
		Dur("queued_interval", s.cfg.QueuedInterval).
		Dur("retrying_interval", s.cfg.RetryingInterval).
		Msg("scheduler started")
}

// Stop ends both loops, then drains the pool. Started executions run to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.loops.Wait()
	s.pool.Stop()
	s.logger.Info().Msg("scheduler stopped")
}

// Dispatch submits one attempt of jobID outside the poll loops.
func (s *Scheduler) Dispatch(ctx context.Context, jobID string) error {
	return s.dispatch(ctx, LoopManual, jobID)
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, poll func(context.Context)) {
	defer s.loops.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// jobs left over from a previous run are picked up right away
	if ctx.Err() == nil {
		poll(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Str("loop", name).Msg("poll loop stopped")
			return
		case <-ticker.C:
			poll(ctx)
		}
	}
}

func (s *Scheduler) pollQueued(ctx context.Context) {
	jobs, err := s.jobs.ListByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		s.logger.Error().Err(err).Str("loop", LoopQueued).Msg("failed to list queued jobs")
		return
	}
	for _, job := range jobs {
		_ = s.dispatch(ctx, LoopQueued, job.ID)
	}
}

func (s *Scheduler) pollRetrying(ctx context.Context) {
	jobs, err := s.jobs.ListByStatus(ctx, models.JobStatusRetrying)
	if err != nil {
		s.logger.Error().Err(err).Str("loop", LoopRetrying).Msg("failed to list retrying jobs")
		return
	}
	now := s.now()
	for _, job := range jobs {
		if !dueForRetry(job, now) {
			continue
		}
		_ = s.dispatch(ctx, LoopRetrying, job.ID)
	}
}

func dueForRetry(job models.Job, now time.Time) bool {
	if job.Status != models.JobStatusRetrying || job.RetryCount > job.MaxRetries {
		return false
	}
	return job.NextAttemptAt == nil || !job.NextAttemptAt.After(now)
}

func (s *Scheduler) dispatch(ctx context.Context, loop, jobID string) error {
	if !s.claim(jobID) {
		s.metrics.DispatchDeferred(loop, "in_flight")
		s.logger.Debug().Str("job_id", jobID).Str("loop", loop).Msg("job already in flight")
		return ErrAlreadyInFlight
	}

	taskCtx := context.WithoutCancel(ctx)
	err := s.pool.TrySubmit(func() {
		defer s.release(jobID)
		s.execute(taskCtx, loop, jobID)
	})
	if err != nil {
		s.release(jobID)
		reason := "saturated"
		if errors.Is(err, ErrPoolStopped) {
			reason = "stopped"
		}
		s.metrics.DispatchDeferred(loop, reason)
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("loop", loop).Msg("dispatch deferred to next tick")
		return err
	}
	s.metrics.DispatchAccepted(loop)
	return nil
}

func (s *Scheduler) execute(ctx context.Context, loop, jobID string) {
	log := s.logger.With().Str("job_id", jobID).Str("loop", loop).Logger()

	decision, err := s.attempter.Attempt(ctx, jobID)
	s.metrics.AttemptDecided(decision, err)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("job attempt did not complete")
	case decision.Outcome == engine.OutcomeSuccess:
		log.Info().Msg("job completed")
	case decision.Outcome == engine.OutcomeRetryable:
		log.Warn().Err(decision.Err).Dur("delay", decision.Delay).Int("retry_count", decision.Job.RetryCount).Msg("job scheduled for retry")
	default:
		log.Error().Err(decision.Err).Msg("job failed")
	}
}

func (s *Scheduler) claim(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[jobID]; ok {
		return false
	}
	s.inFlight[jobID] = struct{}{}
	s.metrics.InFlight(len(s.inFlight))
	return true
}

func (s *Scheduler) release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, jobID)
	s.metrics.InFlight(len(s.inFlight))
}

// InFlight reports whether jobID is claimed by a pending or running execution.
func (s *Scheduler) InFlight(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[jobID]
	return ok
}
