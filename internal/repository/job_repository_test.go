package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobColumnNames = []string{
	"id", "name", "source_type", "source_format", "source_location",
	"transformation_type", "transformation_config", "destination_type", "destination_location",
	"status", "created_at", "updated_at", "completed_at", "retry_count", "max_retries", "next_attempt_at", "version",
}

func newMockJobRepository(t *testing.T, now time.Time) (*jobRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &jobRepository{db: db, now: func() time.Time { return now }}, mock
}

func TestJobRepositoryCreate(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo, mock := newMockJobRepository(t, now)

	mock.ExpectExec("INSERT INTO ingestion_jobs").
		WithArgs(
			sqlmock.AnyArg(), "orders", "FILE", "CSV", "/data/orders.csv",
			sql.NullString{}, sql.NullString{}, "LOCAL", "out/orders.csv",
			"CREATED", now, now, sql.NullTime{}, 0, 3, sql.NullTime{}, int64(1),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := repo.Create(context.Background(), models.Job{
		Name:                "orders",
		SourceType:          "FILE",
		SourceFormat:        "CSV",
		SourceLocation:      "/data/orders.csv",
		DestinationType:     "LOCAL",
		DestinationLocation: "out/orders.csv",
		MaxRetries:          -1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusCreated, job.Status)
	assert.Equal(t, models.DefaultMaxRetries, job.MaxRetries)
	assert.Equal(t, int64(1), job.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryGet(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo, mock := newMockJobRepository(t, now)

	rows := sqlmock.NewRows(jobColumnNames).AddRow(
		"job-1", "orders", "FILE", "CSV", "/data/orders.csv",
		"CSV", `{"fieldsToRemove":["id"]}`, "LOCAL", "out/orders.csv",
		"COMPLETED", now, now, now, 1, 3, nil, int64(4),
	)
	mock.ExpectQuery("SELECT (.+) FROM ingestion_jobs WHERE id = \\$1").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "CSV", job.TransformationType)
	require.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.NextAttemptAt)
	assert.Equal(t, int64(4), job.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryGetNotFound(t *testing.T) {
	repo, mock := newMockJobRepository(t, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM ingestion_jobs WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestJobRepositoryListByStatus(t *testing.T) {
	now := time.Now().UTC()
	repo, mock := newMockJobRepository(t, now)

	rows := sqlmock.NewRows(jobColumnNames).
		AddRow("a", "a", "API", "JSON", "http://x", nil, nil, "LOCAL", "a.json", "QUEUED", now, now, nil, 0, 3, nil, int64(2)).
		AddRow("b", "b", "API", "JSON", "http://y", nil, nil, "LOCAL", "b.json", "QUEUED", now, now, nil, 0, 3, nil, int64(2))
	mock.ExpectQuery("WHERE status = \\$1").WithArgs("QUEUED").WillReturnRows(rows)

	jobs, err := repo.ListByStatus(context.Background(), models.JobStatusQueued)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[1].ID)
	assert.False(t, jobs[0].HasTransform())
}

func TestJobRepositoryUpdateBumpsVersion(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo, mock := newMockJobRepository(t, now)

	mock.ExpectExec("UPDATE ingestion_jobs").
		WithArgs("job-1", int64(2), "RUNNING", now, sql.NullTime{}, 0, sql.NullTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := repo.Update(context.Background(), models.Job{
		ID:        "job-1",
		Status:    models.JobStatusRunning,
		UpdatedAt: now.Add(-time.Minute),
		Version:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), job.Version)
	assert.Equal(t, now, job.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryUpdateStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo, mock := newMockJobRepository(t, now)

	mock.ExpectExec("UPDATE ingestion_jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM ingestion_jobs WHERE id = \\$1").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			"job-1", "orders", "FILE", "CSV", "/in.csv", nil, nil, "LOCAL", "out.csv",
			"RUNNING", now, now, nil, 0, 3, nil, int64(5),
		))

	_, err := repo.Update(context.Background(), models.Job{ID: "job-1", Status: models.JobStatusQueued, Version: 2})
	assert.ErrorIs(t, err, ErrStaleJob)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobLogRepositoryAppendAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewJobLogRepository(db)

	detail := "stack"
	mock.ExpectExec("INSERT INTO job_logs").
		WithArgs(sqlmock.AnyArg(), "job-1", "ERROR", "boom", sql.NullString{String: detail, Valid: true}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry, err := repo.Append(context.Background(), models.JobLog{JobID: "job-1", Level: models.LogLevelError, Message: "boom", Detail: &detail})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	ts := time.Now().UTC()
	mock.ExpectQuery("FROM job_logs").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_id", "level", "message", "detail", "timestamp"}).
			AddRow("l1", "job-1", "INFO", "Job execution started", nil, ts).
			AddRow("l2", "job-1", "ERROR", "boom", "stack", ts))

	logs, err := repo.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Nil(t, logs[0].Detail)
	require.NotNil(t, logs[1].Detail)
	assert.Equal(t, "stack", *logs[1].Detail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatisticsRepositoryAppendAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewStatisticsRepository(db)

	mock.ExpectExec("INSERT INTO job_statistics").
		WithArgs(sqlmock.AnyArg(), "job-1", int64(2), int64(0), int64(64), int64(15), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = repo.Append(context.Background(), models.JobStatistics{JobID: "job-1", RecordsProcessed: 2, BytesProcessed: 64, ProcessingTimeMs: 15})
	require.NoError(t, err)

	mock.ExpectQuery("FROM job_statistics").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_id", "records_processed", "records_failed", "bytes_processed", "processing_time_ms", "timestamp"}).
			AddRow("s1", "job-1", 2, 0, 64, 15, time.Now()))

	stats, err := repo.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(64), stats[0].BytesProcessed)
	require.NoError(t, mock.ExpectationsWereMet())
}
