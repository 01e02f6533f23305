// Package consumer reads ingest events from Kafka and inserts them into the
// indexer engine, recording each document's outcome in the registry.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
)

// DocumentIndexer inserts one document.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, id voctree.DocID, words []voctree.Word) error
}

// StatusRecorder records the indexing outcome of a document.
type StatusRecorder interface {
	UpdateStatus(ctx context.Context, id uint32, status registry.Status, reason string) error
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
		logger:   logger.WithComponent("index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that indexes every ingest
// event. Duplicates are acknowledged, since a redelivered event finds its
// document already present. Documents with words outside the vocabulary are
// marked FAILED and acknowledged. Any other error leaves the message
// uncommitted. statuses may be nil.
func HandleMessage(engine DocumentIndexer, statuses StatusRecorder) kafka.MessageHandler {
	log := logger.WithComponent("index-consumer")
	record := func(ctx context.Context, id uint32, status registry.Status, reason string) {
		if statuses == nil {
			return
		}
		if err := statuses.UpdateStatus(ctx, id, status, reason); err != nil {
			log.Error("failed to update document status",
				"doc_id", id,
				"status", status,
				"error", err,
			)
		}
	}

	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.IngestEvent](value)
		if err != nil {
			log.Error("failed to decode ingest event",
				"error", err,
				"key", string(key),
			)
			return err
		}
		log.Debug("processing ingest event",
			"doc_id", event.DocumentID,
			"words", len(event.Words),
		)

		err = engine.IndexDocument(ctx, voctree.DocID(event.DocumentID), event.Words)
		switch {
		case err == nil:
			record(ctx, event.DocumentID, registry.StatusIndexed, "")
			log.Info("document indexed", "doc_id", event.DocumentID)
			return nil
		case errors.Is(err, apperrors.ErrDuplicateDocument):
			log.Warn("document already indexed, acknowledging", "doc_id", event.DocumentID)
			record(ctx, event.DocumentID, registry.StatusIndexed, "")
			return nil
		case errors.Is(err, apperrors.ErrInvalidWord), errors.Is(err, apperrors.ErrInvalidInput):
			log.Warn("document rejected", "doc_id", event.DocumentID, "error", err)
			record(ctx, event.DocumentID, registry.StatusFailed, err.Error())
			return nil
		default:
			return fmt.Errorf("indexing document %d: %w", event.DocumentID, err)
		}
	}
}
