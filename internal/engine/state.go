package engine

import (
	"time"

	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/models"
)

var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusCreated:   {models.JobStatusQueued},
	models.JobStatusQueued:    {models.JobStatusRunning},
	models.JobStatusRetrying:  {models.JobStatusRunning},
	models.JobStatusRunning:   {models.JobStatusCompleted, models.JobStatusRetrying, models.JobStatusFailed},
	models.JobStatusFailed:    {models.JobStatusQueued},
	models.JobStatusCompleted: nil,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves job to status `to` and maintains the timestamp and retry
// invariants that go with each edge. The job is left untouched on error.
func Transition(job *models.Job, to models.JobStatus, now time.Time) error {
	from := job.Status
	if !CanTransition(from, to) {
		return apperrors.InvalidTransition("job %s cannot move from %s to %s", job.ID, from, to)
	}
	if to == models.JobStatusRetrying && job.RetryCount > job.MaxRetries {
		return apperrors.InvalidTransition("job %s retry count %d exceeds max retries %d", job.ID, job.RetryCount, job.MaxRetries)
	}

	switch to {
	case models.JobStatusQueued:
		if from == models.JobStatusFailed {
			// manual resubmission starts with a fresh retry budget
			job.RetryCount = 0
		}
		job.NextAttemptAt = nil
	case models.JobStatusRunning:
		job.NextAttemptAt = nil
	case models.JobStatusCompleted:
		t := now.UTC()
		job.CompletedAt = &t
	}
	if to != models.JobStatusCompleted {
		job.CompletedAt = nil
	}

	job.Status = to
	models.TouchJob(job, now)
	return nil
}
