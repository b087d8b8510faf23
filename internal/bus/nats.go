package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const keyHeader = "Stratum-Key"

type NATSConfig struct {
	URL        string `mapstructure:"url"`
	QueueGroup string `mapstructure:"queue_group"`
}

type NATSBus struct {
	nc     *nats.Conn
	queue  string
	logger zerolog.Logger
}

func NewNATSBus(cfg NATSConfig, logger zerolog.Logger) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	logger = logger.With().Str("component", "nats").Logger()

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	queue := cfg.QueueGroup
	if queue == "" {
		queue = "stratum-ingest"
	}
	return &NATSBus{nc: nc, queue: queue, logger: logger}, nil
}

func (b *NATSBus) Publish(_ context.Context, msg Message) error {
	m := nats.NewMsg(msg.Topic)
	m.Data = msg.Value
	if msg.Key != "" {
		m.Header.Set(keyHeader, msg.Key)
	}
	return b.nc.PublishMsg(m)
}

// Subscribe joins the queue group on topic so each message reaches one instance.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	sub, err := b.nc.QueueSubscribe(topic, b.queue, func(m *nats.Msg) {
		hctx, cancel := handlerContext()
		defer cancel()
		msg := Message{Topic: m.Subject, Value: m.Data}
		if m.Header != nil {
			msg.Key = m.Header.Get(keyHeader)
		}
		if err := h(hctx, msg); err != nil {
			b.logger.Warn().Err(err).Str("subject", m.Subject).Msg("message handler failed")
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	b.logger.Info().Str("subject", topic).Str("queue", b.queue).Msg("nats consumer started")

	<-ctx.Done()
	return sub.Unsubscribe()
}

func (b *NATSBus) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
