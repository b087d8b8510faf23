package notification

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/models"
)

const (
	defaultAsyncBuffer  = 256
	asyncDeliverTimeout = 30 * time.Second
)

var (
	ErrNotifierClosed     = errors.New("notifier closed")
	ErrNotifierBacklogged = errors.New("notifier backlog full")
)

// AsyncNotifier queues notifications and delivers them to inner from a single
// background goroutine, in order. Notify never waits on inner; when the buffer is
// full the notification is rejected.
type AsyncNotifier struct {
	inner  Notifier
	queue  chan models.Notification
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncNotifier(inner Notifier, buffer int, logger zerolog.Logger) *AsyncNotifier {
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}
	n := &AsyncNotifier{
		inner:  inner,
		queue:  make(chan models.Notification, buffer),
		logger: logger.With().Str("component", "async_notifier").Str("channel", notifierChannelName(inner)).Logger(),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *AsyncNotifier) Notify(_ context.Context, notif models.Notification) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}
	select {
	case n.queue <- notif:
		return nil
	default:
		return ErrNotifierBacklogged
	}
}

func (n *AsyncNotifier) run() {
	defer close(n.done)
	for notif := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), asyncDeliverTimeout)
		err := n.inner.Notify(ctx, notif)
		cancel()
		logNotifyError(n.logger, err, notifierChannelName(n.inner), notif)
	}
}

// Close stops accepting notifications and waits until the queued ones are delivered.
func (n *AsyncNotifier) Close() error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
	return nil
}

func (n *AsyncNotifier) String() string {
	return notifierChannelName(n.inner)
}
