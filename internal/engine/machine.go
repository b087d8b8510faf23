package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stanstork/stratum-ingest/internal/repository"
)

// StateMachine performs every job status change as a locked read-modify-write.
// The per-job lock covers racing dispatch paths inside the process and the
// repository's version check rejects writes based on a stale read.
type StateMachine struct {
	jobs     repository.JobRepository
	locks    *keyedMutex
	opts     options
	logger   zerolog.Logger
	listener Listener
}

func NewStateMachine(jobs repository.JobRepository, opts ...Option) *StateMachine {
	o := buildOptions(opts)
	return &StateMachine{
		jobs:     jobs,
		locks:    newKeyedMutex(),
		opts:     o,
		logger:   o.logger.With().Str("component", "state_machine").Logger(),
		listener: o.listener,
	}
}

// Apply loads the job, runs mutate on it and persists the result while holding the
// job's lock. If mutate fails nothing is written. Listeners are told about a status
// change after the lock is released.
func (m *StateMachine) Apply(ctx context.Context, jobID string, mutate func(job *models.Job) error) (models.Job, error) {
	updated, from, err := m.apply(ctx, jobID, mutate)
	if err != nil {
		return models.Job{}, err
	}
	if updated.Status != from {
		m.logger.Debug().
			Str("job_id", jobID).
			Str("from", string(from)).
			Str("to", string(updated.Status)).
			Msg("job status changed")
		m.listener.StatusChanged(ctx, updated, from)
	}
	return updated, nil
}

func (m *StateMachine) apply(ctx context.Context, jobID string, mutate func(job *models.Job) error) (models.Job, models.JobStatus, error) {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, "", err
	}
	from := job.Status
	if err := mutate(&job); err != nil {
		return models.Job{}, "", err
	}
	updated, err := m.jobs.Update(ctx, job)
	if err != nil {
		return models.Job{}, "", errors.Wrapf(err, "persist job %s", jobID)
	}
	return updated, from, nil
}

// Transition applies a single legal status change.
func (m *StateMachine) Transition(ctx context.Context, jobID string, to models.JobStatus) (models.Job, error) {
	return m.Apply(ctx, jobID, func(job *models.Job) error {
		return Transition(job, to, m.opts.now())
	})
}

// Queue accepts a job for execution. Only CREATED and FAILED jobs may be queued.
func (m *StateMachine) Queue(ctx context.Context, jobID string) (models.Job, error) {
	return m.Transition(ctx, jobID, models.JobStatusQueued)
}
