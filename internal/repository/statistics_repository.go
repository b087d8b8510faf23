package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stanstork/stratum-ingest/internal/models"
)

type StatisticsRepository interface {
	Append(ctx context.Context, stat models.JobStatistics) (models.JobStatistics, error)
	ListByJob(ctx context.Context, jobID string) ([]models.JobStatistics, error)
}

type statisticsRepository struct {
	db *sql.DB
}

func NewStatisticsRepository(db *sql.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

func (r *statisticsRepository) Append(ctx context.Context, stat models.JobStatistics) (models.JobStatistics, error) {
	prepareStatistics(&stat)
	query := `
		INSERT INTO job_statistics (id, job_id, records_processed, records_failed, bytes_processed, processing_time_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		stat.ID,
		stat.JobID,
		stat.RecordsProcessed,
		stat.RecordsFailed,
		stat.BytesProcessed,
		stat.ProcessingTimeMs,
		stat.Timestamp,
	)
	if err != nil {
		return models.JobStatistics{}, fmt.Errorf("insert job statistics: %w", err)
	}
	return stat, nil
}

func (r *statisticsRepository) ListByJob(ctx context.Context, jobID string) ([]models.JobStatistics, error) {
	query := `
		SELECT id, job_id, records_processed, records_failed, bytes_processed, processing_time_ms, timestamp
		FROM job_statistics
		WHERE job_id = $1
		ORDER BY timestamp ASC, seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job statistics: %w", err)
	}
	defer rows.Close()

	stats := []models.JobStatistics{}
	for rows.Next() {
		var s models.JobStatistics
		if err := rows.Scan(&s.ID, &s.JobID, &s.RecordsProcessed, &s.RecordsFailed, &s.BytesProcessed, &s.ProcessingTimeMs, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan job statistics: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func prepareStatistics(stat *models.JobStatistics) {
	if stat.ID == "" {
		stat.ID = uuid.NewString()
	}
	if stat.Timestamp.IsZero() {
		stat.Timestamp = time.Now().UTC()
	}
}
