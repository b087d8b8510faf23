package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/models"
)

// EmailNotifier mails the alert recipients when a job fails for good. Other events
// are ignored.
type EmailNotifier struct {
	mailer     Mailer
	recipients []string
	logger     zerolog.Logger
}

func NewEmailNotifier(mailer Mailer, recipients []string, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		mailer:     mailer,
		recipients: sanitizeRecipients(recipients),
		logger:     logger.With().Str("notifier", "email").Logger(),
	}
}

func (n *EmailNotifier) Notify(_ context.Context, notif models.Notification) error {
	if notif.EventType != models.NotificationEventJobFailed || len(n.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[Stratum] %s", strings.TrimSpace(notif.Title))
	if subject == "[Stratum] " {
		subject = "[Stratum] Job failed"
	}

	body := strings.Builder{}
	body.WriteString(strings.TrimSpace(notif.Message))
	body.WriteString("\n\n")
	body.WriteString(fmt.Sprintf("Job: %s (%s)\n", notif.JobName, notif.JobID))
	body.WriteString(fmt.Sprintf("Severity: %s\n", notif.Severity))
	body.WriteString(fmt.Sprintf("Created: %s\n", notif.CreatedAt.Format("2006-01-02 15:04:05 MST")))
	if len(notif.Metadata) > 0 {
		keys := make([]string, 0, len(notif.Metadata))
		for k := range notif.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			body.WriteString(fmt.Sprintf("%s: %v\n", k, notif.Metadata[k]))
		}
	}

	if err := n.mailer.Send(n.recipients, subject, body.String()); err != nil {
		return err
	}

	n.logger.Info().
		Str("job_id", notif.JobID).
		Str("event_type", string(notif.EventType)).
		Strs("recipients", n.recipients).
		Msg("email notification sent")
	return nil
}

func (n *EmailNotifier) String() string {
	return "EmailNotifier"
}
