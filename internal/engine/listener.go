package engine

import (
	"context"

	"github.com/stanstork/stratum-ingest/internal/models"
)

// Listener observes job lifecycle events. Implementations must not block for long
// and must not fail the job; errors are theirs to log.
type Listener interface {
	StatusChanged(ctx context.Context, job models.Job, from models.JobStatus)
	AttemptFinished(ctx context.Context, job models.Job, stat models.JobStatistics, err error)
}

type NopListener struct{}

func (NopListener) StatusChanged(context.Context, models.Job, models.JobStatus) {}

func (NopListener) AttemptFinished(context.Context, models.Job, models.JobStatistics, error) {}

// Listeners fans events out in order.
type Listeners []Listener

func (ls Listeners) StatusChanged(ctx context.Context, job models.Job, from models.JobStatus) {
	for _, l := range ls {
		l.StatusChanged(ctx, job, from)
	}
}

func (ls Listeners) AttemptFinished(ctx context.Context, job models.Job, stat models.JobStatistics, err error) {
	for _, l := range ls {
		l.AttemptFinished(ctx, job, stat, err)
	}
}
