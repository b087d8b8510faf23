package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/ingestion"
	"github.com/stanstork/stratum-ingest/internal/models"
)

// JobIntake is the part of the ingestion service the consumer drives.
type JobIntake interface {
	CreateJob(ctx context.Context, req ingestion.JobRequest) (models.Job, error)
	QueueJob(ctx context.Context, id string) (models.Job, error)
}

// JobConsumer turns ingestion-jobs messages into jobs.
type JobConsumer struct {
	intake    JobIntake
	autoQueue bool
	logger    zerolog.Logger
}

func NewJobConsumer(intake JobIntake, autoQueue bool, logger zerolog.Logger) *JobConsumer {
	return &JobConsumer{
		intake:    intake,
		autoQueue: autoQueue,
		logger:    logger.With().Str("component", "job_consumer").Logger(),
	}
}

// Run consumes until ctx is done.
func (c *JobConsumer) Run(ctx context.Context, b Bus) error {
	return b.Subscribe(ctx, TopicIngestionJobs, c.Handle)
}

func (c *JobConsumer) Handle(ctx context.Context, msg Message) error {
	var req ingestion.JobRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		c.logger.Warn().Err(err).Str("key", msg.Key).Msg("skipping malformed job request")
		return fmt.Errorf("decode job request: %w", err)
	}

	job, err := c.intake.CreateJob(ctx, req)
	if err != nil {
		if ingestion.IsClientError(err) {
			c.logger.Warn().Err(err).Str("key", msg.Key).Msg("job request rejected")
		} else {
			c.logger.Error().Err(err).Str("key", msg.Key).Msg("failed to create job from bus")
		}
		return err
	}
	c.logger.Info().Str("job_id", job.ID).Str("name", job.Name).Msg("job created from bus")

	if !c.autoQueue {
		return nil
	}
	if _, err := c.intake.QueueJob(ctx, job.ID); err != nil {
		return fmt.Errorf("queue job %s: %w", job.ID, err)
	}
	return nil
}
