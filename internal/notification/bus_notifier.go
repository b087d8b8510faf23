package notification

import (
	"context"

	"github.com/stanstork/stratum-ingest/internal/bus"
	"github.com/stanstork/stratum-ingest/internal/models"
)

// BusNotifier publishes status changes to job-status-updates and attempt results
// to job-results, keyed by job id.
type BusNotifier struct {
	publisher bus.Publisher
}

func NewBusNotifier(publisher bus.Publisher) *BusNotifier {
	return &BusNotifier{publisher: publisher}
}

func (n *BusNotifier) Notify(ctx context.Context, notif models.Notification) error {
	topic := bus.TopicStatusUpdates
	switch notif.EventType {
	case models.NotificationEventAttemptSucceeded, models.NotificationEventAttemptFailed:
		topic = bus.TopicJobResults
	}
	return bus.PublishJSON(ctx, n.publisher, topic, notif.JobID, notif)
}

func (n *BusNotifier) String() string {
	return "BusNotifier"
}
