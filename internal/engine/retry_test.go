package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := NewRetryPolicy(nil, nil, nil, RetryConfig{
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
	})

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.n), "attempt %d", tt.n)
	}
}

func TestRetryPolicyDefaultsInvalidConfig(t *testing.T) {
	p := NewRetryPolicy(nil, nil, nil, RetryConfig{Multiplier: 0.5})
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
}

func TestAttemptSuccess(t *testing.T) {
	e := newTestEngine(t)
	e.registries.Sources.MustRegister(&fakeSource{KeyMatcher: "FILE", payload: []byte("a")})
	e.registries.Storages.MustRegister(&fakeStorage{KeyMatcher: "LOCAL"})
	job := e.queuedJob(t, csvJob())

	d, err := e.policy.Attempt(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, d.Outcome)
	assert.Equal(t, models.JobStatusCompleted, d.Job.Status)
	assert.NoError(t, d.Err)
}

func TestAttemptSchedulesBackoff(t *testing.T) {
	e := newTestEngine(t)
	e.registries.Sources.MustRegister(&fakeSource{KeyMatcher: "FILE", err: errUnreachable})
	e.registries.Storages.MustRegister(&fakeStorage{KeyMatcher: "LOCAL"})
	job := e.queuedJob(t, csvJob())

	d, err := e.policy.Attempt(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryable, d.Outcome)
	assert.Equal(t, time.Second, d.Delay)
	assert.Equal(t, 1, d.Job.RetryCount)
	require.NotNil(t, d.Job.NextAttemptAt)
	assert.Equal(t, e.clock.Now().Add(time.Second), *d.Job.NextAttemptAt)
	assert.True(t, errors.Is(d.Err, apperrors.ErrSource))

	e.clock.Advance(time.Second)
	d, err = e.policy.Attempt(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d.Delay)
	assert.Equal(t, 2, d.Job.RetryCount)
}

// Source always fails with maxRetries=3.
func TestAttemptExhaustsRetries(t *testing.T) {
	e := newTestEngine(t)
	e.registries.Sources.MustRegister(&fakeSource{KeyMatcher: "FILE", err: errUnreachable})
	e.registries.Storages.MustRegister(&fakeStorage{KeyMatcher: "LOCAL"})
	job := e.queuedJob(t, csvJob())

	var outcomes []Outcome
	for i := 0; i < 4; i++ {
		d, err := e.policy.Attempt(context.Background(), job.ID)
		require.NoError(t, err)
		outcomes = append(outcomes, d.Outcome)
		assert.LessOrEqual(t, d.Job.RetryCount, d.Job.MaxRetries)
	}
	assert.Equal(t, []Outcome{OutcomeRetryable, OutcomeRetryable, OutcomeRetryable, OutcomeTerminal}, outcomes)

	final, err := e.store.Jobs().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)
	assert.Nil(t, final.CompletedAt)

	levels := e.logsByLevel(t, job.ID)
	assert.Equal(t, 3, levels[models.LogLevelWarn])
	assert.Equal(t, 1, levels[models.LogLevelError])
	assert.Len(t, e.statistics(t, job.ID), 4)

	logs, err := e.store.Logs().ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	assert.Equal(t, models.LogLevelError, last.Level)
	assert.Contains(t, last.Message, "Job failed after 3 retry attempts")
	require.NotNil(t, last.Detail)
	assert.Contains(t, *last.Detail, "connection refused")

	// A terminal job is not executed again.
	_, err = e.policy.Attempt(context.Background(), job.ID)
	assert.True(t, errors.Is(err, ErrNotStarted))
	assert.Len(t, e.statistics(t, job.ID), 4)
}

func TestAttemptUnregisteredSourceReachesFailed(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 5} {
		e := newTestEngine(t)
		e.registries.Storages.MustRegister(&fakeStorage{KeyMatcher: "LOCAL"})
		tmpl := csvJob()
		tmpl.SourceType = "FTP"
		tmpl.MaxRetries = maxRetries
		job := e.queuedJob(t, tmpl)

		for {
			d, err := e.policy.Attempt(context.Background(), job.ID)
			require.NoError(t, err)
			assert.True(t, errors.Is(d.Err, apperrors.ErrConfiguration))
			if d.Outcome == OutcomeTerminal {
				break
			}
		}

		final, err := e.store.Jobs().Get(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, final.Status)
		assert.Equal(t, maxRetries, final.RetryCount)
		assert.Len(t, e.statistics(t, job.ID), maxRetries+1)

		var retrying, failed int
		for _, s := range e.listener.changes {
			switch s {
			case models.JobStatusRetrying:
				retrying++
			case models.JobStatusFailed:
				failed++
			}
		}
		assert.Equal(t, maxRetries, retrying)
		assert.Equal(t, 1, failed)
	}
}

func TestAttemptRecoversAfterTransientFailure(t *testing.T) {
	e := newTestEngine(t)
	source := &fakeSource{KeyMatcher: "FILE", err: errUnreachable}
	e.registries.Sources.MustRegister(source)
	e.registries.Storages.MustRegister(&fakeStorage{KeyMatcher: "LOCAL"})
	job := e.queuedJob(t, csvJob())

	d, err := e.policy.Attempt(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeRetryable, d.Outcome)

	source.err = nil
	source.payload = []byte("ok")
	d, err = e.policy.Attempt(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, d.Outcome)
	assert.Equal(t, 1, d.Job.RetryCount)
	assert.Nil(t, d.Job.NextAttemptAt)
	assert.Len(t, e.statistics(t, job.ID), 2)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "terminal", OutcomeTerminal.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
