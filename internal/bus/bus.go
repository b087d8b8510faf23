// Package bus moves job requests and job events over Kafka or NATS.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	TopicIngestionJobs = "ingestion-jobs"
	TopicStatusUpdates = "job-status-updates"
	TopicJobResults    = "job-results"
)

type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Handler processes one message. A returned error is logged; the message is not
// redelivered.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Bus is a publisher that can also consume. Subscribe blocks until ctx is done.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, topic string, h Handler) error
	Close() error
}

type Config struct {
	Driver    string      `mapstructure:"driver"`
	AutoQueue bool        `mapstructure:"auto_queue"`
	Kafka     KafkaConfig `mapstructure:"kafka"`
	NATS      NATSConfig  `mapstructure:"nats"`
}

// Open returns the bus selected by cfg.Driver. "none" or "" disables it.
func Open(cfg Config, logger zerolog.Logger) (Bus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return NopBus{}, nil
	case "kafka":
		return NewKafkaBus(cfg.Kafka, logger)
	case "nats":
		return NewNATSBus(cfg.NATS, logger)
	}
	return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
}

// PublishJSON marshals v and publishes it with key.
func PublishJSON(ctx context.Context, p Publisher, topic, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: b})
}

// NopBus drops everything it is given.
type NopBus struct{}

func (NopBus) Publish(context.Context, Message) error { return nil }

func (NopBus) Subscribe(ctx context.Context, _ string, _ Handler) error {
	<-ctx.Done()
	return nil
}

func (NopBus) Close() error { return nil }

func handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
