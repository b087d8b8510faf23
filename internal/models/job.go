package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusCreated   JobStatus = "CREATED"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusRetrying  JobStatus = "RETRYING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// DefaultMaxRetries applies when a job is created without an explicit budget.
const DefaultMaxRetries = 3

var jobStatuses = []JobStatus{
	JobStatusCreated,
	JobStatusQueued,
	JobStatusRunning,
	JobStatusRetrying,
	JobStatusCompleted,
	JobStatusFailed,
}

// ParseJobStatus accepts the status name in any case.
func ParseJobStatus(s string) (JobStatus, bool) {
	for _, status := range jobStatuses {
		if strings.EqualFold(string(status), s) {
			return status, true
		}
	}
	return "", false
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type Job struct {
	ID                   string     `json:"id" db:"id"`
	Name                 string     `json:"name" db:"name"`
	SourceType           string     `json:"sourceType" db:"source_type"`
	SourceFormat         string     `json:"sourceFormat" db:"source_format"`
	SourceLocation       string     `json:"sourceLocation" db:"source_location"`
	TransformationType   string     `json:"transformationType,omitempty" db:"transformation_type"`
	TransformationConfig string     `json:"transformationConfig,omitempty" db:"transformation_config"`
	DestinationType      string     `json:"destinationType" db:"destination_type"`
	DestinationLocation  string     `json:"destinationLocation" db:"destination_location"`
	Status               JobStatus  `json:"status" db:"status"`
	CreatedAt            time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time  `json:"updatedAt" db:"updated_at"`
	CompletedAt          *time.Time `json:"completedAt" db:"completed_at"`
	RetryCount           int        `json:"retryCount" db:"retry_count"`
	MaxRetries           int        `json:"maxRetries" db:"max_retries"`
	NextAttemptAt        *time.Time `json:"nextAttemptAt,omitempty" db:"next_attempt_at"`
	Version              int64      `json:"-" db:"version"`
}

// HasTransform reports whether the job runs the optional transform stage.
func (j Job) HasTransform() bool {
	return j.TransformationType != ""
}

// PrepareNewJob stamps identity, defaults and creation timestamps. Stores call it
// exactly once, before the first insert. A negative MaxRetries selects the default.
func PrepareNewJob(job *Job, now time.Time) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobStatusCreated
	}
	if job.MaxRetries < 0 {
		job.MaxRetries = DefaultMaxRetries
	}
	now = now.UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.RetryCount = 0
	job.CompletedAt = nil
	job.NextAttemptAt = nil
	job.Version = 1
}

// TouchJob advances UpdatedAt without ever moving it backwards.
func TouchJob(job *Job, now time.Time) {
	now = now.UTC()
	if now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}
}
