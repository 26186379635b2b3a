// Package publisher turns feed requests into document events on Kafka.
// Events are keyed by domain hash so the documents of one host stay ordered
// on a single partition.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/kafka"
)

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Publisher struct {
	producer EventPublisher
	now      func() time.Time
	logger   *slog.Logger
}

func New(producer EventPublisher) *Publisher {
	return &Publisher{
		producer: producer,
		now:      time.Now,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Publish queues req for indexing. A zero Modified time is stamped with the
// current time.
func (p *Publisher) Publish(ctx context.Context, req *ingestion.FeedRequest) (*ingestion.FeedResponse, error) {
	modified := req.Modified
	if modified.IsZero() {
		modified = p.now().UTC()
	}
	event := consumer.DocumentEvent{
		Document: index.Document{
			URL:      req.URL,
			Title:    req.Title,
			Body:     req.Body,
			Quality:  req.Quality,
			Modified: modified,
			Language: req.Language,
			DocType:  req.DocType,
		},
	}
	urlHash, err := p.send(ctx, event)
	if err != nil {
		return nil, err
	}
	return &ingestion.FeedResponse{URLHash: urlHash, Status: ingestion.StatusQueued}, nil
}

// Delete queues the removal of rawURL from every consuming index.
func (p *Publisher) Delete(ctx context.Context, rawURL string) (*ingestion.FeedResponse, error) {
	event := consumer.DocumentEvent{
		Document: index.Document{URL: rawURL},
		Deleted:  true,
	}
	urlHash, err := p.send(ctx, event)
	if err != nil {
		return nil, err
	}
	return &ingestion.FeedResponse{URLHash: urlHash, Status: ingestion.StatusDeleted}, nil
}

func (p *Publisher) send(ctx context.Context, event consumer.DocumentEvent) (string, error) {
	urlHash := posting.URLHash(event.URL)
	kind := consumer.KindDocument
	if event.Deleted {
		kind = consumer.KindDelete
	}
	err := p.producer.Publish(ctx, kafka.Event{
		Key:   posting.DomainHash(posting.Host(event.URL)),
		Kind:  kind,
		Value: event,
	})
	if err != nil {
		p.logger.Error("failed to publish document event",
			"url", event.URL,
			"deleted", event.Deleted,
			"error", err,
		)
		return "", fmt.Errorf("publishing document event: %w", err)
	}
	return urlHash, nil
}
