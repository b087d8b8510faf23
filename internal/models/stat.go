package models

import "time"

// JobStatistics is the metrics row written for one execution attempt.
type JobStatistics struct {
	ID               string    `json:"id" db:"id"`
	JobID            string    `json:"jobId" db:"job_id"`
	RecordsProcessed int64     `json:"recordsProcessed" db:"records_processed"`
	RecordsFailed    int64     `json:"recordsFailed" db:"records_failed"`
	BytesProcessed   int64     `json:"bytesProcessed" db:"bytes_processed"`
	ProcessingTimeMs int64     `json:"processingTimeMs" db:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
}
