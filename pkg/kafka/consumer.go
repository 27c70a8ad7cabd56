// Package kafka provides the producer and consumer the vectorizer uses for
// run events, backed by segmentio/kafka-go. The producer serialises events
// as JSON; the consumer hands raw messages to a MessageHandler and commits
// a message only once the handler has accepted it.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	"github.com/Ajaynegi0204/Search-Engine/pkg/resilience"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// messageReader is the part of *kafka.Reader the consume loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler, one at a time.
type Consumer struct {
	reader     messageReader
	logger     *slog.Logger
	handler    MessageHandler
	retryDelay time.Duration
	maxDelay   time.Duration
}

// NewConsumer creates a group consumer for topic. Only messages produced
// after the group first joins are seen.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1e6,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:     r,
		logger:     slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler:    handler,
		retryDelay: time.Second,
		maxDelay:   time.Minute,
	}
}

// Start enters the consume loop until ctx is cancelled. A message the
// handler rejects is retried with backoff before the next one is fetched,
// so the group offset never moves past it.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)
		if !c.handle(ctx, msg) {
			c.logger.Info("consumer stopping with message uncommitted", "offset", msg.Offset)
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handle runs the handler until it accepts msg. It returns false when ctx
// ends first.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg.Key, msg.Value)
		if err == nil {
			return true
		}
		delay := resilience.ComputeDelay(min(attempt, 16), resilience.RetryConfig{BaseDelay: c.retryDelay / 2})
		delay = min(delay, c.maxDelay)
		c.logger.Error("failed to process message, retrying",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"next_delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}
}

// DecodeJSON unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
