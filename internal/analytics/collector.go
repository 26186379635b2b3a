package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/kafka"
)

// Publisher is the part of the Kafka producer the collector needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers events and publishes them in batches, when batchSize
// events are pending or flushInterval has passed. Track never blocks.
type Collector struct {
	publisher     Publisher
	eventCh       chan MergeEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

func NewCollector(publisher Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		eventCh:       make(chan MergeEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "merge-event-collector"),
		done:          make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		buffer := make([]kafka.Event, 0, c.batchSize)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.flush(context.Background(), buffer)
					return
				}
				buffer = append(buffer, kafka.Event{Key: event.SessionID, Kind: KindMergeEvent, Value: event})
				if len(buffer) >= c.batchSize {
					buffer = c.flush(ctx, buffer)
				}
			case <-ticker.C:
				buffer = c.flush(ctx, buffer)
			case <-ctx.Done():
				buffer = c.drainRemaining(buffer)
				c.flush(context.Background(), buffer)
				return
			}
		}
	}()
	c.logger.Info("merge event collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track queues event for publishing. It drops the event when the buffer is
// full.
func (c *Collector) Track(event MergeEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("merge event dropped (buffer full)", "session_id", event.SessionID)
	}
}

// Close publishes what is still buffered and stops the collector. Start must
// have been called.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) flush(ctx context.Context, buffer []kafka.Event) []kafka.Event {
	if len(buffer) == 0 {
		return buffer
	}
	if err := c.publisher.PublishBatch(ctx, buffer); err != nil {
		c.logger.Error("failed to publish merge events", "count", len(buffer), "error", err)
	}
	return buffer[:0]
}

func (c *Collector) drainRemaining(buffer []kafka.Event) []kafka.Event {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return buffer
			}
			buffer = append(buffer, kafka.Event{Key: event.SessionID, Kind: KindMergeEvent, Value: event})
		default:
			return buffer
		}
	}
}
