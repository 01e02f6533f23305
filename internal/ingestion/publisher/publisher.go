// Package publisher registers documents in PostgreSQL and publishes ingest
// events to Kafka for the indexer. Document IDs are supplied by the caller,
// so a repeated ID is rejected rather than silently re-indexed.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
)

// DocumentRegistry is the part of the registry the publisher writes to.
type DocumentRegistry interface {
	Register(ctx context.Context, doc registry.Document) error
	Remove(ctx context.Context, id uint32) error
}

// EventPublisher sends events to the ingest topic.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher coordinates document registration and Kafka event production.
type Publisher struct {
	registry DocumentRegistry
	producer EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

func New(reg DocumentRegistry, producer EventPublisher) *Publisher {
	return &Publisher{
		registry: reg,
		producer: producer,
		logger:   logger.WithComponent("publisher"),
		now:      time.Now,
	}
}

// Ingest registers the document as PENDING and publishes an IngestEvent
// keyed by document ID. If the event cannot be published the registration
// is rolled back so the caller can retry with the same ID.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	id := *req.DocumentID
	err := p.registry.Register(ctx, registry.Document{
		ID:        id,
		ImagePath: req.ImagePath,
		WordCount: len(req.Words),
	})
	if err != nil {
		return nil, fmt.Errorf("registering document: %w", err)
	}

	event := kafka.Event{
		Key:  strconv.FormatUint(uint64(id), 10),
		Type: "document-ingest",
		Value: ingestion.IngestEvent{
			DocumentID: id,
			ImagePath:  req.ImagePath,
			Words:      req.Words,
			IngestedAt: p.now().UTC(),
		},
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish ingest event, rolling back registration",
			"doc_id", id,
			"error", err,
		)
		if rmErr := p.registry.Remove(context.WithoutCancel(ctx), id); rmErr != nil {
			p.logger.Error("rollback failed, document stuck in PENDING", "doc_id", id, "error", rmErr)
		}
		return nil, apperrors.Newf(apperrors.ErrUnavailable, 503, "ingest queue unavailable: %v", err)
	}

	return &ingestion.IngestResponse{
		DocumentID: id,
		Status:     string(registry.StatusPending),
		Words:      len(req.Words),
	}, nil
}
