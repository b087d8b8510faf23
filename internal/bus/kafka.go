package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	ClientID     string        `mapstructure:"client_id"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

func (c *KafkaConfig) defaults() {
	if c.GroupID == "" {
		c.GroupID = "stratum-ingest"
	}
	if c.WriteTimeout < 1 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
}

type KafkaBus struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	logger zerolog.Logger
}

func NewKafkaBus(cfg KafkaConfig, logger zerolog.Logger) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	cfg.defaults()
	logger = logger.With().Str("component", "kafka").Logger()

	transport := &kafka.Transport{ClientID: cfg.ClientID}
	return &KafkaBus{
		cfg:    cfg,
		logger: logger,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           cfg.WriteTimeout,
			MaxAttempts:            cfg.MaxAttempts,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			Transport:              transport,
			Logger:                 kafkaLogger(logger, zerolog.DebugLevel),
			ErrorLogger:            kafkaLogger(logger, zerolog.ErrorLevel),
		},
	}, nil
}

func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.WriteTimeout)
		defer cancel()
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Value,
		Time:  time.Now(),
	})
}

// Subscribe consumes topic as part of the configured consumer group. Offsets are
// committed after the handler returns, whether or not it failed.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		GroupID:     b.cfg.GroupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		Logger:      kafkaLogger(b.logger, zerolog.DebugLevel),
		ErrorLogger: kafkaLogger(b.logger, zerolog.ErrorLevel),
	})
	defer reader.Close()

	b.logger.Info().Str("topic", topic).Str("group_id", b.cfg.GroupID).Msg("kafka consumer started")
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch from %s: %w", topic, err)
		}

		hctx, cancel := handlerContext()
		if err := h(hctx, Message{Topic: m.Topic, Key: string(m.Key), Value: m.Value}); err != nil {
			b.logger.Warn().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("message handler failed")
		}
		cancel()

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			b.logger.Error().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("failed to commit offset")
		}
	}
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

// kafkaLogger routes kafka-go's printf logging into zerolog.
func kafkaLogger(logger zerolog.Logger, level zerolog.Level) kafka.LoggerFunc {
	return func(msg string, args ...interface{}) {
		logger.WithLevel(level).Msgf(msg, args...)
	}
}
