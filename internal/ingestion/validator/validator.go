// Package validator checks ingestion requests before anything is persisted
// and reports every failing field at once.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion"
)

// Limits bounds what a single request may carry.
type Limits struct {
	WordSpace     uint32
	MaxWords      int
	MaxPathLength int
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateIngestRequest checks the document ID, image path and words of req.
// An empty word list is allowed: such an image is registered but can never
// match a query.
func ValidateIngestRequest(req *ingestion.IngestRequest, limits Limits) error {
	errs := make(map[string]string)

	if req.DocumentID == nil {
		errs["document_id"] = "document_id is required"
	}
	if len(req.ImagePath) > limits.MaxPathLength {
		errs["image_path"] = fmt.Sprintf("image_path must be at most %d characters", limits.MaxPathLength)
	}
	if limits.MaxWords > 0 && len(req.Words) > limits.MaxWords {
		errs["words"] = fmt.Sprintf("at most %d words per document", limits.MaxWords)
	} else {
		for i, w := range req.Words {
			if uint32(w) >= limits.WordSpace {
				errs["words"] = fmt.Sprintf("word %d at position %d is outside the vocabulary of %d words", w, i, limits.WordSpace)
				break
			}
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
