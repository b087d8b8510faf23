package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stanstork/stratum-ingest/internal/models"
)

type JobLogRepository interface {
	Append(ctx context.Context, entry models.JobLog) (models.JobLog, error)
	ListByJob(ctx context.Context, jobID string) ([]models.JobLog, error)
}

type jobLogRepository struct {
	db *sql.DB
}

func NewJobLogRepository(db *sql.DB) JobLogRepository {
	return &jobLogRepository{db: db}
}

func (r *jobLogRepository) Append(ctx context.Context, entry models.JobLog) (models.JobLog, error) {
	prepareLog(&entry)
	query := `
		INSERT INTO job_logs (id, job_id, level, message, detail, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var detail sql.NullString
	if entry.Detail != nil {
		detail = sql.NullString{String: *entry.Detail, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.JobID, entry.Level, entry.Message, detail, entry.Timestamp); err != nil {
		return models.JobLog{}, fmt.Errorf("insert job log: %w", err)
	}
	return entry, nil
}

func (r *jobLogRepository) ListByJob(ctx context.Context, jobID string) ([]models.JobLog, error) {
	query := `
		SELECT id, job_id, level, message, detail, timestamp
		FROM job_logs
		WHERE job_id = $1
		ORDER BY timestamp ASC, seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	logs := []models.JobLog{}
	for rows.Next() {
		var (
			entry  models.JobLog
			detail sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Level, &entry.Message, &detail, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		if detail.Valid {
			d := detail.String
			entry.Detail = &d
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func prepareLog(entry *models.JobLog) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
}
