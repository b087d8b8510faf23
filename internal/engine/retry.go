package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/models"
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Decision is the result of one policy-wrapped attempt. Delay is set for
// Retryable outcomes; Err carries the failure that caused a retry or a failure.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
	Job     models.Job
	Err     error
}

type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Second,
		Multiplier:      2.0,
		MaxInterval:     5 * time.Minute,
	}
}

// RetryPolicy wraps an executor attempt and decides what a failure means for the
// job. It never sleeps or loops; the scheduler owns re-attempts.
type RetryPolicy struct {
	executor *Executor
	machine  *StateMachine
	recorder *Recorder
	cfg      RetryConfig
	opts     options
	logger   zerolog.Logger
}

func NewRetryPolicy(executor *Executor, machine *StateMachine, recorder *Recorder, cfg RetryConfig, opts ...Option) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = def.MaxInterval
		if cfg.MaxInterval < cfg.InitialInterval {
			cfg.MaxInterval = cfg.InitialInterval
		}
	}
	o := buildOptions(opts)
	return &RetryPolicy{
		executor: executor,
		machine:  machine,
		recorder: recorder,
		cfg:      cfg,
		opts:     o,
		logger:   o.logger.With().Str("component", "retry_policy").Logger(),
	}
}

// Delay returns the wait before retry number n: InitialInterval * Multiplier^(n-1),
// capped at MaxInterval.
func (p *RetryPolicy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.cfg.InitialInterval),
		backoff.WithMultiplier(p.cfg.Multiplier),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(p.cfg.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	)
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Attempt executes the job once. A failed attempt moves the job to RETRYING while
// retry budget remains and to FAILED once RetryCount has reached MaxRetries, so a
// job gets MaxRetries+1 attempts in total. The returned error is non-nil only when
// the attempt could not start or its outcome could not be persisted.
func (p *RetryPolicy) Attempt(ctx context.Context, jobID string) (Decision, error) {
	report, runErr := p.executor.Execute(ctx, jobID)
	if runErr == nil {
		return Decision{Outcome: OutcomeSuccess, Job: report.Job}, nil
	}
	if errors.Is(runErr, ErrNotStarted) {
		return Decision{}, runErr
	}

	var delay time.Duration
	job, err := p.machine.Apply(ctx, jobID, func(job *models.Job) error {
		now := p.opts.now()
		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			delay = p.Delay(job.RetryCount)
			next := now.Add(delay).UTC()
			if err := Transition(job, models.JobStatusRetrying, now); err != nil {
				return err
			}
			job.NextAttemptAt = &next
			return nil
		}
		return Transition(job, models.JobStatusFailed, now)
	})
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID).AnErr("cause", runErr).Msg("failed to record attempt failure")
		return Decision{}, errors.Wrapf(err, "record failure of job %s", jobID)
	}

	if job.Status == models.JobStatusRetrying {
		p.recorder.Warn(ctx, jobID, fmt.Sprintf("Retrying job, attempt %d of %d: %v", job.RetryCount, job.MaxRetries, runErr))
		return Decision{Outcome: OutcomeRetryable, Delay: delay, Job: job, Err: runErr}, nil
	}
	p.recorder.Error(ctx, jobID, fmt.Sprintf("Job failed after %d retry attempts: %v", job.RetryCount, runErr), runErr)
	return Decision{Outcome: OutcomeTerminal, Job: job, Err: runErr}, nil
}
