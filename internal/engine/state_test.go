package engine

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []models.JobStatus{
		models.JobStatusCreated, models.JobStatusQueued, models.JobStatusRunning,
		models.JobStatusRetrying, models.JobStatusCompleted, models.JobStatusFailed,
	}
	legal := map[[2]models.JobStatus]bool{
		{models.JobStatusCreated, models.JobStatusQueued}:    true,
		{models.JobStatusFailed, models.JobStatusQueued}:     true,
		{models.JobStatusQueued, models.JobStatusRunning}:    true,
		{models.JobStatusRetrying, models.JobStatusRunning}:  true,
		{models.JobStatusRunning, models.JobStatusCompleted}: true,
		{models.JobStatusRunning, models.JobStatusRetrying}:  true,
		{models.JobStatusRunning, models.JobStatusFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]models.JobStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	job := models.Job{ID: "j", Status: models.JobStatusRunning, UpdatedAt: created, MaxRetries: 3}

	done := created.Add(time.Minute)
	require.NoError(t, Transition(&job, models.JobStatusCompleted, done))
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, done, *job.CompletedAt)
	assert.Equal(t, done, job.UpdatedAt)
}

func TestTransitionUpdatedAtNeverMovesBack(t *testing.T) {
	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	job := models.Job{ID: "j", Status: models.JobStatusCreated, UpdatedAt: updated}

	require.NoError(t, Transition(&job, models.JobStatusQueued, updated.Add(-time.Hour)))
	assert.Equal(t, updated, job.UpdatedAt)
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	job := models.Job{ID: "j", Status: models.JobStatusRunning, RetryCount: 1, MaxRetries: 3}
	before := job

	err := Transition(&job, models.JobStatusQueued, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, before, job)
}

func TestTransitionRequeueFailedResetsBudget(t *testing.T) {
	next := time.Now()
	job := models.Job{ID: "j", Status: models.JobStatusFailed, RetryCount: 3, MaxRetries: 3, NextAttemptAt: &next}

	require.NoError(t, Transition(&job, models.JobStatusQueued, time.Now()))
	assert.Equal(t, 0, job.RetryCount)
	assert.Nil(t, job.NextAttemptAt)
	assert.Nil(t, job.CompletedAt)
}

func TestTransitionRetryingGuardsBudget(t *testing.T) {
	job := models.Job{ID: "j", Status: models.JobStatusRunning, RetryCount: 4, MaxRetries: 3}
	err := Transition(&job, models.JobStatusRetrying, time.Now())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}
