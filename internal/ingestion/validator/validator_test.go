package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
)

var limits = Limits{WordSpace: 100, MaxWords: 4, MaxPathLength: 16}

func id(v uint32) *uint32 { return &v }

func TestValidateIngestRequest(t *testing.T) {
	tests := []struct {
		name   string
		req    ingestion.IngestRequest
		fields []string
	}{
		{"valid", ingestion.IngestRequest{DocumentID: id(1), ImagePath: "a.jpg", Words: []voctree.Word{0, 99}}, nil},
		{"empty words allowed", ingestion.IngestRequest{DocumentID: id(0)}, nil},
		{"missing id", ingestion.IngestRequest{Words: []voctree.Word{1}}, []string{"document_id"}},
		{"word out of range", ingestion.IngestRequest{DocumentID: id(2), Words: []voctree.Word{5, 100}}, []string{"words"}},
		{"too many words", ingestion.IngestRequest{DocumentID: id(3), Words: []voctree.Word{1, 2, 3, 4, 5}}, []string{"words"}},
		{"long path and missing id", ingestion.IngestRequest{ImagePath: "images/very/long/path.jpg"}, []string{"document_id", "image_path"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIngestRequest(&tt.req, limits)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Len(t, verr.Fields, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}
		})
	}
}
