package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stanstork/stratum-ingest/internal/pipeline"
)

// ErrNotStarted marks executions that returned before the job reached RUNNING.
// Such calls write no statistics and do not consume retry budget.
var ErrNotStarted = errors.New("execution not started")

// Report is what a finished attempt produced.
type Report struct {
	Job        models.Job
	Statistics models.JobStatistics
	Result     pipeline.StoreResult
}

// Executor runs one extract, transform, store attempt for a job.
type Executor struct {
	machine    *StateMachine
	registries *pipeline.Registries
	recorder   *Recorder
	opts       options
	logger     zerolog.Logger
	listener   Listener
}

func NewExecutor(machine *StateMachine, registries *pipeline.Registries, recorder *Recorder, opts ...Option) *Executor {
	o := buildOptions(opts)
	return &Executor{
		machine:    machine,
		registries: registries,
		recorder:   recorder,
		opts:       o,
		logger:     o.logger.With().Str("component", "executor").Logger(),
		listener:   o.listener,
	}
}

type attempt struct {
	bytesProcessed int64
	records        int64
	result         pipeline.StoreResult
}

// Execute performs a single attempt. Once the job is RUNNING exactly one statistics
// row is written, whatever the outcome, and the stage error is returned unchanged
// for the retry policy to classify.
func (e *Executor) Execute(ctx context.Context, jobID string) (Report, error) {
	job, err := e.machine.Transition(ctx, jobID, models.JobStatusRunning)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrNotStarted, err)
	}
	start := e.opts.now()
	e.recorder.Info(ctx, job.ID, "Job execution started")

	var a attempt
	runErr := e.run(ctx, job, &a)
	if runErr == nil {
		completed, err := e.machine.Transition(ctx, jobID, models.JobStatusCompleted)
		if err != nil {
			runErr = err
		} else {
			job = completed
			e.recorder.Info(ctx, job.ID, "Job completed successfully: "+a.result.Descriptor)
		}
	}

	stat := models.JobStatistics{
		JobID:            jobID,
		RecordsProcessed: a.records,
		BytesProcessed:   a.bytesProcessed,
		ProcessingTimeMs: e.opts.now().Sub(start).Milliseconds(),
	}
	if runErr != nil {
		stat.RecordsFailed = a.records
	}
	stat, _ = e.recorder.Statistics(ctx, stat)
	e.listener.AttemptFinished(ctx, job, stat, runErr)

	return Report{Job: job, Statistics: stat, Result: a.result}, runErr
}

func (e *Executor) run(ctx context.Context, job models.Job, a *attempt) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("job_id", job.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("pipeline stage panicked")
			err = errors.Errorf("pipeline panic: %v", r)
		}
	}()

	connector, err := e.registries.Sources.Resolve(job.SourceType)
	if err != nil {
		return err
	}
	e.recorder.Info(ctx, job.ID, "Extracting data from source: "+job.SourceType)
	payload, err := connector.Extract(ctx, job.SourceLocation, job.SourceFormat)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSource, err, "extract from %s", job.SourceType)
	}
	a.bytesProcessed = int64(len(payload))

	if job.HasTransform() {
		transformer, err := e.registries.Transformers.Resolve(job.TransformationType)
		if err != nil {
			return err
		}
		e.recorder.Info(ctx, job.ID, "Transforming data with: "+job.TransformationType)
		payload, err = transformer.Transform(ctx, payload, job.SourceFormat, job.TransformationConfig)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrTransform, err, "transform with %s", job.TransformationType)
		}
	}

	storage, err := e.registries.Storages.Resolve(job.DestinationType)
	if err != nil {
		return err
	}
	e.recorder.Info(ctx, job.ID, "Storing data to: "+job.DestinationType)
	result, err := storage.Store(ctx, payload, job.SourceFormat, job.DestinationLocation)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, err, "store to %s", job.DestinationType)
	}
	a.result = result
	a.records = result.Records()
	return nil
}
