// Package ingestion exposes the job contract used by the HTTP handlers and the bus
// consumer.
package ingestion

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/engine"
	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stanstork/stratum-ingest/internal/repository"
	"github.com/tidwall/gjson"
)

var supportedFormats = map[string]bool{"CSV": true, "JSON": true, "XML": true}

// JobRequest is the payload accepted by CreateJob.
type JobRequest struct {
	Name                 string `json:"name"`
	SourceType           string `json:"sourceType"`
	SourceFormat         string `json:"sourceFormat"`
	SourceLocation       string `json:"sourceLocation"`
	TransformationType   string `json:"transformationType,omitempty"`
	TransformationConfig string `json:"transformationConfig,omitempty"`
	DestinationType      string `json:"destinationType"`
	DestinationLocation  string `json:"destinationLocation"`
	MaxRetries           *int   `json:"maxRetries,omitempty"`
}

// Validate checks the request and returns a validation error naming every problem.
func (r JobRequest) Validate() error {
	var problems []string
	required := []struct{ field, value string }{
		{"name", r.Name},
		{"sourceType", r.SourceType},
		{"sourceFormat", r.SourceFormat},
		{"sourceLocation", r.SourceLocation},
		{"destinationType", r.DestinationType},
		{"destinationLocation", r.DestinationLocation},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			problems = append(problems, f.field+" is required")
		}
	}
	if f := strings.TrimSpace(r.SourceFormat); f != "" && !supportedFormats[strings.ToUpper(f)] {
		problems = append(problems, "sourceFormat must be one of CSV, JSON, XML")
	}
	if strings.TrimSpace(r.TransformationConfig) != "" {
		if strings.TrimSpace(r.TransformationType) == "" {
			problems = append(problems, "transformationConfig requires transformationType")
		}
		if !gjson.Valid(r.TransformationConfig) {
			problems = append(problems, "transformationConfig must be valid JSON")
		}
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		problems = append(problems, "maxRetries must not be negative")
	}
	if len(problems) > 0 {
		return apperrors.Validation("invalid job request: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (r JobRequest) toJob() models.Job {
	job := models.Job{
		Name:                 strings.TrimSpace(r.Name),
		SourceType:           strings.TrimSpace(r.SourceType),
		SourceFormat:         strings.ToUpper(strings.TrimSpace(r.SourceFormat)),
		SourceLocation:       r.SourceLocation,
		TransformationType:   strings.TrimSpace(r.TransformationType),
		TransformationConfig: r.TransformationConfig,
		DestinationType:      strings.TrimSpace(r.DestinationType),
		DestinationLocation:  r.DestinationLocation,
		Status:               models.JobStatusCreated,
		MaxRetries:           models.DefaultMaxRetries,
	}
	if r.MaxRetries != nil {
		job.MaxRetries = *r.MaxRetries
	}
	return job
}

// Dispatcher starts an execution of a queued job without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

type Service interface {
	CreateJob(ctx context.Context, req JobRequest) (models.Job, error)
	QueueJob(ctx context.Context, id string) (models.Job, error)
	ExecuteNow(ctx context.Context, id string) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	// ListJobs returns every job when status is nil.
	ListJobs(ctx context.Context, status *models.JobStatus) ([]models.Job, error)
	GetLogs(ctx context.Context, id string) ([]models.JobLog, error)
	GetStatistics(ctx context.Context, id string) ([]models.JobStatistics, error)
}

type service struct {
	jobs       repository.JobRepository
	logs       repository.JobLogRepository
	stats      repository.StatisticsRepository
	machine    *engine.StateMachine
	recorder   *engine.Recorder
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewService(
	jobs repository.JobRepository,
	logs repository.JobLogRepository,
	stats repository.StatisticsRepository,
	machine *engine.StateMachine,
	recorder *engine.Recorder,
	dispatcher Dispatcher,
	logger zerolog.Logger,
) Service {
	return &service{
		jobs:       jobs,
		logs:       logs,
		stats:      stats,
		machine:    machine,
		recorder:   recorder,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "ingestion").Logger(),
	}
}

func (s *service) CreateJob(ctx context.Context, req JobRequest) (models.Job, error) {
	if err := req.Validate(); err != nil {
		return models.Job{}, err
	}
	job, err := s.jobs.Create(ctx, req.toJob())
	if err != nil {
		return models.Job{}, err
	}
	s.recorder.Info(ctx, job.ID, "Job created: "+job.Name)
	s.logger.Info().Str("job_id", job.ID).Str("name", job.Name).Msg("job created")
	return job, nil
}

func (s *service) QueueJob(ctx context.Context, id string) (models.Job, error) {
	job, err := s.machine.Queue(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	s.recorder.Info(ctx, job.ID, "Job queued for execution")
	return job, nil
}

// ExecuteNow queues the job and hands it straight to the dispatcher. A job the
// dispatcher cannot take right now stays QUEUED for the next poll.
func (s *service) ExecuteNow(ctx context.Context, id string) (models.Job, error) {
	job, err := s.QueueJob(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("immediate dispatch deferred to scheduler")
	}
	return job, nil
}

func (s *service) GetJob(ctx context.Context, id string) (models.Job, error) {
	return s.jobs.Get(ctx, id)
}

func (s *service) ListJobs(ctx context.Context, status *models.JobStatus) ([]models.Job, error) {
	if status == nil {
		return s.jobs.List(ctx)
	}
	return s.jobs.ListByStatus(ctx, *status)
}

func (s *service) GetLogs(ctx context.Context, id string) ([]models.JobLog, error) {
	if _, err := s.jobs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.ListByJob(ctx, id)
}

func (s *service) GetStatistics(ctx context.Context, id string) ([]models.JobStatistics, error) {
	if _, err := s.jobs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.stats.ListByJob(ctx, id)
}

// IsClientError reports whether err should be shown to the caller as is.
func IsClientError(err error) bool {
	return err != nil && !apperrors.Retryable(err)
}
