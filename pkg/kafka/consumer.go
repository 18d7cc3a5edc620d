// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Item change events, task events and search events all
// travel as JSON with their type in the event-type header.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/resilience"
)

// MessageHandler is called once per accepted message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ErrPermanent marks handler errors that retrying cannot fix, such as a
// message that does not decode.
var ErrPermanent = errors.New("permanent message failure")

// Permanent wraps err so the consumer skips the message without retrying.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// DecodeJSON unmarshals a message value into T. Decode failures are
// permanent.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, Permanent(fmt.Errorf("decoding kafka message: %w", err))
	}
	return result, nil
}

type ConsumerOption func(*Consumer)

// WithEventTypes limits the handler to messages whose event-type header is
// one of types. Messages without the header are always handled.
func WithEventTypes(types ...string) ConsumerOption {
	return func(c *Consumer) { c.types = types }
}

// WithRetry sets the backoff used when the handler fails.
func WithRetry(cfg resilience.RetryConfig) ConsumerOption {
	return func(c *Consumer) { c.retry = cfg }
}

// Consumer reads one topic in a consumer group. A message is committed once
// the handler accepts it, or once retries are exhausted; a poison message
// never blocks its partition.
type Consumer struct {
	reader  *kafka.Reader
	topic   string
	handler MessageHandler
	types   []string
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// NewConsumer reads topic in the configured consumer group.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	return NewGroupConsumer(cfg, topic, cfg.ConsumerGroup, handler, opts...)
}

// NewGroupConsumer is NewConsumer with an explicit group, for services that
// read a topic another service already consumes.
func NewGroupConsumer(cfg config.KafkaConfig, topic, group string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := newConsumer(topic, group, handler, opts...)
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return c
}

func newConsumer(topic, group string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		topic:   topic,
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			Retryable:   func(err error) bool { return !errors.Is(err, ErrPermanent) },
		},
		logger: slog.Default().With("component", "kafka-consumer", "topic", topic, "group", group),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start consumes until ctx is cancelled and closes the reader on return.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("consumer started")
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
		if !c.process(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// process runs the handler for msg. It returns false only when ctx ended
// before the message was dealt with, in which case it must not be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	typ := eventType(msg)
	if typ != "" && len(c.types) > 0 && !slices.Contains(c.types, typ) {
		return true
	}
	err := resilience.Retry(ctx, "handle "+c.topic, c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	c.logger.Error("dropping message",
		"type", typ,
		"key", string(msg.Key),
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", err,
	)
	return true
}

func eventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == TypeHeader {
			return string(h.Value)
		}
	}
	return ""
}
