// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The node publishes merge events and consumes the
// document feed that fills its local index. Payloads are JSON.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is called once per message. An error wrapping
// apperrors.ErrInvalidInput marks the message as malformed: it is committed
// and skipped, since redelivering it cannot help. Any other error leaves the
// offset uncommitted.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts messages by outcome since the consumer started.
type ConsumerStats struct {
	Processed int64 `json:"processed"`
	Malformed int64 `json:"malformed"`
	Failed    int64 `json:"failed"`
}

// Consumer reads one topic and dispatches every message to a MessageHandler.
type Consumer struct {
	reader    messageReader
	topic     string
	handler   MessageHandler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	processed atomic.Int64
	malformed atomic.Int64
	failed    atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// NewConsumer creates a group Consumer for topic. New groups start at the
// latest offset; the node only cares about events from now on.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		topic:   topic,
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// WithMetrics counts message outcomes on m.
func (c *Consumer) WithMetrics(m *metrics.Metrics) *Consumer {
	c.metrics = m
	return c
}

// Start fetches and handles messages until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return c.Close()
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
	log.Debug("message received", "kind", headerValue(msg, HeaderKind), "key", string(msg.Key), "value_size", len(msg.Value))

	err := c.handler(ctx, msg.Key, msg.Value)
	switch {
	case err == nil:
		c.processed.Add(1)
		c.count("processed")
	case errors.Is(err, apperrors.ErrInvalidInput):
		c.malformed.Add(1)
		c.count("malformed")
		log.Warn("skipping malformed message", "error", err)
	default:
		c.failed.Add(1)
		c.count("failed")
		log.Error("failed to process message", "error", err)
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("failed to commit message", "error", err)
	}
}

func (c *Consumer) count(outcome string) {
	if c.metrics != nil {
		c.metrics.KafkaMessages.WithLabelValues(c.topic, outcome).Inc()
	}
}

// Stats returns the outcome counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Processed: c.processed.Load(),
		Malformed: c.malformed.Load(),
		Failed:    c.failed.Load(),
	}
}

// Close closes the reader. It is safe to call after Start has returned.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.reader.Close() })
	return c.closeErr
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// DecodeJSON unmarshals a message value into T. Decoding errors wrap
// apperrors.ErrInvalidInput so the consumer skips the message.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: decoding kafka message: %v", apperrors.ErrInvalidInput, err)
	}
	return result, nil
}
