// Package ingestion defines the request/response types and Kafka event schema
// used by the document ingestion pipeline.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
)

// IngestRequest is the JSON body accepted by the ingestion HTTP endpoint.
// Words are the quantized visual words of one image, in any order.
type IngestRequest struct {
	DocumentID *uint32        `json:"document_id"`
	ImagePath  string         `json:"image_path"`
	Words      []voctree.Word `json:"words"`
}

// IngestResponse is returned to the caller after a document is accepted.
type IngestResponse struct {
	DocumentID uint32 `json:"document_id"`
	Status     string `json:"status"`
	Words      int    `json:"words"`
}

// IngestEvent is the Kafka message payload produced after a document is
// registered and ready for indexing.
type IngestEvent struct {
	DocumentID uint32         `json:"document_id"`
	ImagePath  string         `json:"image_path"`
	Words      []voctree.Word `json:"words"`
	IngestedAt time.Time      `json:"ingested_at"`
}
