// Package consumer feeds documents published on Kafka into the local index.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/kafka"
)

// Kinds stamped on document feed messages.
const (
	KindDocument = "document"
	KindDelete   = "document-delete"
)

// DocumentEvent is one message of the document feed. Deleted events remove
// the url from the index.
type DocumentEvent struct {
	index.Document
	Deleted bool `json:"deleted,omitempty"`
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// Indexer is the part of the local index the consumer writes to.
type Indexer interface {
	AddDocument(doc index.Document) (string, error)
	Remove(urlHash string) bool
}

// HandleMessage returns a Kafka MessageHandler that applies every document
// event to idx. Undecodable events and documents the index rejects come back
// as apperrors.ErrInvalidInput, which the consumer commits and skips so they
// do not block the partition.
func HandleMessage(idx Indexer) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[DocumentEvent](value)
		if err != nil {
			return fmt.Errorf("document event %q: %w", key, err)
		}
		if event.URL == "" {
			return fmt.Errorf("%w: document event %q has no url", apperrors.ErrInvalidInput, key)
		}

		if event.Deleted {
			removed := idx.Remove(posting.URLHash(event.URL))
			logger.Debug("document removed", "url", event.URL, "found", removed)
			return nil
		}

		urlHash, err := idx.AddDocument(event.Document)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", event.URL, err)
		}

		logger.Debug("document indexed",
			"url", event.URL,
			"url_hash", urlHash,
		)
		return nil
	}
}
