package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/segmentio/kafka-go"
)

// Header names stamped on every message.
const (
	HeaderKind        = "kind"
	HeaderContentType = "content-type"
)

// Event is one payload for the topic. Key picks the partition: merge events
// use the session id, document events the domain hash so one host's
// documents stay ordered. Kind labels the payload for consumers that share
// a topic across event types.
type Event struct {
	Key   string
	Kind  string
	Value any
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON events to one topic.
type Producer struct {
	writer  messageWriter
	topic   string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProducer creates a synchronous Producer for topic that waits for all
// in-sync replicas.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}, topic)
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// WithMetrics counts published and failed messages on m.
func (p *Producer) WithMetrics(m *metrics.Metrics) *Producer {
	p.metrics = m
	return p
}

// Publish writes one event and waits for the broker to acknowledge it.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	msg, err := p.encode(event)
	if err != nil {
		p.count("encode_failed", 1)
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.count("publish_failed", 1)
		p.logger.Error("failed to publish message", "key", event.Key, "kind", event.Kind, "error", err)
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}
	p.count("published", 1)
	p.logger.Debug("message published", "key", event.Key, "kind", event.Kind, "value_size", len(msg.Value))
	return nil
}

// PublishBatch writes events in one call. An event that cannot be encoded
// is logged and left out so the rest of the batch still goes through; the
// returned error only reports a failed write.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := p.encode(event)
		if err != nil {
			p.count("encode_failed", 1)
			p.logger.Warn("dropping unencodable event", "key", event.Key, "kind", event.Kind, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.count("publish_failed", len(messages))
		p.logger.Error("failed to publish batch", "count", len(messages), "error", err)
		return fmt.Errorf("publishing batch of %d to %s: %w", len(messages), p.topic, err)
	}
	p.count("published", len(messages))
	p.logger.Debug("batch published", "count", len(messages))
	return nil
}

func (p *Producer) encode(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding %s event %q: %w", event.Kind, event.Key, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderContentType, Value: []byte("application/json")},
		},
	}
	if event.Kind != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: HeaderKind, Value: []byte(event.Kind)})
	}
	return msg, nil
}

func (p *Producer) count(outcome string, n int) {
	if p.metrics == nil || n == 0 {
		return
	}
	p.metrics.KafkaMessages.WithLabelValues(p.topic, outcome).Add(float64(n))
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
