// Package notification turns job lifecycle events into outbound notifications.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/models"
)

// Service receives engine events and fans them out to every notifier. Delivery
// errors are logged and dropped.
type Service struct {
	logger    zerolog.Logger
	notifiers []Notifier
	now       func() time.Time
}

func NewService(logger zerolog.Logger, notifiers ...Notifier) *Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &Service{
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
		now:       time.Now,
	}
}

func (s *Service) StatusChanged(ctx context.Context, job models.Job, from models.JobStatus) {
	name := fallbackName(job.Name, job.ID)
	n := models.Notification{
		JobID:          job.ID,
		JobName:        name,
		EventType:      models.NotificationEventStatusChanged,
		Severity:       models.NotificationSeverityInfo,
		Status:         job.Status,
		PreviousStatus: from,
		Title:          fmt.Sprintf("Job %s: %s", strings.ToLower(string(job.Status)), name),
		Message:        fmt.Sprintf("Job %s moved from %s to %s.", name, from, job.Status),
		Metadata: map[string]interface{}{
			"retryCount": job.RetryCount,
			"maxRetries": job.MaxRetries,
		},
	}
	switch job.Status {
	case models.JobStatusRetrying:
		n.Severity = models.NotificationSeverityWarning
		if job.NextAttemptAt != nil {
			n.Metadata["nextAttemptAt"] = job.NextAttemptAt.UTC()
		}
	case models.JobStatusFailed:
		n.EventType = models.NotificationEventJobFailed
		n.Severity = models.NotificationSeverityError
		n.Message = fmt.Sprintf("Job %s failed after %d retry attempts.", name, job.RetryCount)
	}
	s.Publish(ctx, n)
}

func (s *Service) AttemptFinished(ctx context.Context, job models.Job, stat models.JobStatistics, err error) {
	name := fallbackName(job.Name, job.ID)
	n := models.Notification{
		JobID:     job.ID,
		JobName:   name,
		EventType: models.NotificationEventAttemptSucceeded,
		Severity:  models.NotificationSeverityInfo,
		Status:    job.Status,
		Title:     fmt.Sprintf("Attempt succeeded: %s", name),
		Message:   fmt.Sprintf("Job %s processed %d records (%d bytes) in %dms.", name, stat.RecordsProcessed, stat.BytesProcessed, stat.ProcessingTimeMs),
		Metadata: map[string]interface{}{
			"recordsProcessed": stat.RecordsProcessed,
			"recordsFailed":    stat.RecordsFailed,
			"bytesProcessed":   stat.BytesProcessed,
			"processingTimeMs": stat.ProcessingTimeMs,
		},
	}
	if err != nil {
		n.EventType = models.NotificationEventAttemptFailed
		n.Severity = models.NotificationSeverityWarning
		n.Title = fmt.Sprintf("Attempt failed: %s", name)
		n.Message = fmt.Sprintf("Job %s attempt failed: %v", name, err)
		n.Metadata["reason"] = err.Error()
	}
	s.Publish(ctx, n)
}

// Publish stamps n and hands it to every notifier.
func (s *Service) Publish(ctx context.Context, n models.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), n)
		}
	}
}

func fallbackName(name, fallback string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fallback
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
