package models

import "time"

type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "info"
	NotificationSeverityWarning NotificationSeverity = "warning"
	NotificationSeverityError   NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventStatusChanged    NotificationEvent = "job_status_changed"
	NotificationEventAttemptSucceeded NotificationEvent = "job_attempt_succeeded"
	NotificationEventAttemptFailed    NotificationEvent = "job_attempt_failed"
	NotificationEventJobFailed        NotificationEvent = "job_failed"
)

// Notification is a job lifecycle event as delivered to notifiers.
type Notification struct {
	ID             string                 `json:"id"`
	JobID          string                 `json:"jobId"`
	JobName        string                 `json:"jobName"`
	EventType      NotificationEvent      `json:"eventType"`
	Severity       NotificationSeverity   `json:"severity"`
	Status         JobStatus              `json:"status"`
	PreviousStatus JobStatus              `json:"previousStatus,omitempty"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}
