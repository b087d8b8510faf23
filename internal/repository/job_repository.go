package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/models"
)

// ErrStaleJob is returned by Update when the row changed since it was read.
var ErrStaleJob = errors.New("job was modified concurrently")

type JobRepository interface {
	Create(ctx context.Context, job models.Job) (models.Job, error)
	Get(ctx context.Context, id string) (models.Job, error)
	List(ctx context.Context) ([]models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error)
	// Update persists job if its Version still matches the stored row and returns
	// the job with the bumped version.
	Update(ctx context.Context, job models.Job) (models.Job, error)
}

type jobRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db, now: time.Now}
}

const jobColumns = `id, name, source_type, source_format, source_location,
		transformation_type, transformation_config, destination_type, destination_location,
		status, created_at, updated_at, completed_at, retry_count, max_retries, next_attempt_at, version`

func (r *jobRepository) Create(ctx context.Context, job models.Job) (models.Job, error) {
	models.PrepareNewJob(&job, r.now())

	query := `
		INSERT INTO ingestion_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Name,
		job.SourceType,
		job.SourceFormat,
		job.SourceLocation,
		nullString(job.TransformationType),
		nullString(job.TransformationConfig),
		job.DestinationType,
		job.DestinationLocation,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
		nullTime(job.CompletedAt),
		job.RetryCount,
		job.MaxRetries,
		nullTime(job.NextAttemptAt),
		job.Version,
	)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (r *jobRepository) Get(ctx context.Context, id string) (models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, apperrors.NotFound("job %s not found", id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (r *jobRepository) List(ctx context.Context) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs ORDER BY created_at ASC`
	return r.query(ctx, query)
}

func (r *jobRepository) ListByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE status = $1 ORDER BY created_at ASC`
	return r.query(ctx, query, status)
}

func (r *jobRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) Update(ctx context.Context, job models.Job) (models.Job, error) {
	models.TouchJob(&job, r.now())

	query := `
		UPDATE ingestion_jobs
		SET status = $3,
			updated_at = $4,
			completed_at = $5,
			retry_count = $6,
			next_attempt_at = $7,
			version = version + 1
		WHERE id = $1 AND version = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Version,
		job.Status,
		job.UpdatedAt,
		nullTime(job.CompletedAt),
		job.RetryCount,
		nullTime(job.NextAttemptAt),
	)
	if err != nil {
		return models.Job{}, fmt.Errorf("update job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Job{}, fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if affected == 0 {
		if _, err := r.Get(ctx, job.ID); err != nil {
			return models.Job{}, err
		}
		return models.Job{}, ErrStaleJob
	}
	job.Version++
	return job, nil
}

func scanJob(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Job, error) {
	var (
		job             models.Job
		transformType   sql.NullString
		transformConfig sql.NullString
		completedAt     sql.NullTime
		nextAttemptAt   sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Name,
		&job.SourceType,
		&job.SourceFormat,
		&job.SourceLocation,
		&transformType,
		&transformConfig,
		&job.DestinationType,
		&job.DestinationLocation,
		&job.Status,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
		&job.RetryCount,
		&job.MaxRetries,
		&nextAttemptAt,
		&job.Version,
	); err != nil {
		return models.Job{}, err
	}
	job.TransformationType = transformType.String
	job.TransformationConfig = transformConfig.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		job.NextAttemptAt = &t
	}
	return job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
