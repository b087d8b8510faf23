package engine

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stanstork/stratum-ingest/internal/repository"
)

// Recorder appends job logs and per-attempt statistics. Store failures are logged
// and never fail the job.
type Recorder struct {
	logs   repository.JobLogRepository
	stats  repository.StatisticsRepository
	opts   options
	logger zerolog.Logger
}

func NewRecorder(logs repository.JobLogRepository, stats repository.StatisticsRepository, opts ...Option) *Recorder {
	o := buildOptions(opts)
	return &Recorder{
		logs:   logs,
		stats:  stats,
		opts:   o,
		logger: o.logger.With().Str("component", "recorder").Logger(),
	}
}

func (r *Recorder) Info(ctx context.Context, jobID, message string) {
	r.append(ctx, jobID, models.LogLevelInfo, message, nil)
}

func (r *Recorder) Warn(ctx context.Context, jobID, message string) {
	r.append(ctx, jobID, models.LogLevelWarn, message, nil)
}

// Error records message with cause's stack trace as detail.
func (r *Recorder) Error(ctx context.Context, jobID, message string, cause error) {
	var detail *string
	if cause != nil {
		d := apperrors.Detail(cause)
		detail = &d
	}
	r.append(ctx, jobID, models.LogLevelError, message, detail)
}

func (r *Recorder) append(ctx context.Context, jobID string, level models.LogLevel, message string, detail *string) {
	var event *zerolog.Event
	switch level {
	case models.LogLevelWarn:
		event = r.logger.Warn()
	case models.LogLevelError:
		event = r.logger.Error()
	default:
		event = r.logger.Info()
	}
	event.Str("job_id", jobID).Msg(message)

	entry := models.JobLog{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Detail:    detail,
		Timestamp: r.opts.now().UTC(),
	}
	if _, err := r.logs.Append(ctx, entry); err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to persist job log")
	}
}

// Statistics appends one attempt's metrics row.
func (r *Recorder) Statistics(ctx context.Context, stat models.JobStatistics) (models.JobStatistics, error) {
	if stat.Timestamp.IsZero() {
		stat.Timestamp = r.opts.now().UTC()
	}
	saved, err := r.stats.Append(ctx, stat)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", stat.JobID).Msg("failed to persist job statistics")
		return stat, err
	}
	r.logger.Info().
		Str("job_id", stat.JobID).
		Int64("records_processed", stat.RecordsProcessed).
		Int64("records_failed", stat.RecordsFailed).
		Int64("bytes_processed", stat.BytesProcessed).
		Int64("processing_time_ms", stat.ProcessingTimeMs).
		Msg("job statistics recorded")
	return saved, nil
}
