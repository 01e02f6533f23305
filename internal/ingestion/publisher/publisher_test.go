package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/voctree"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/kafka"
)

type memoryRegistry struct {
	docs map[uint32]registry.Document
}

func (m *memoryRegistry) Register(ctx context.Context, doc registry.Document) error {
	if _, ok := m.docs[doc.ID]; ok {
		return apperrors.New(apperrors.ErrDuplicateDocument, http.StatusConflict, "duplicate")
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *memoryRegistry) Remove(ctx context.Context, id uint32) error {
	delete(m.docs, id)
	return nil
}

type capturePublisher struct {
	events []kafka.Event
	err    error
}

func (c *capturePublisher) Publish(ctx context.Context, event kafka.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func request(id uint32, words ...voctree.Word) *ingestion.IngestRequest {
	return &ingestion.IngestRequest{DocumentID: &id, ImagePath: "img.jpg", Words: words}
}

func TestIngest_RegistersAndPublishes(t *testing.T) {
	reg := &memoryRegistry{docs: map[uint32]registry.Document{}}
	pub := &capturePublisher{}
	p := New(reg, pub)

	resp, err := p.Ingest(context.Background(), request(42, 3, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), resp.DocumentID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, 3, reg.docs[42].WordCount)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "42", pub.events[0].Key)
	assert.Equal(t, "document-ingest", pub.events[0].Type)
	raw, err := json.Marshal(pub.events[0].Value)
	require.NoError(t, err)
	event, err := kafka.DecodeJSON[ingestion.IngestEvent](raw)
	require.NoError(t, err)
	assert.Equal(t, []voctree.Word{3, 1, 3}, event.Words)
}

func TestIngest_DuplicateID(t *testing.T) {
	reg := &memoryRegistry{docs: map[uint32]registry.Document{}}
	pub := &capturePublisher{}
	p := New(reg, pub)

	_, err := p.Ingest(context.Background(), request(7, 1))
	require.NoError(t, err)
	_, err = p.Ingest(context.Background(), request(7, 2))
	require.ErrorIs(t, err, apperrors.ErrDuplicateDocument)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatusCode(err))
	assert.Len(t, pub.events, 1)
}

func TestIngest_PublishFailureRollsBack(t *testing.T) {
	reg := &memoryRegistry{docs: map[uint32]registry.Document{}}
	p := New(reg, &capturePublisher{err: errors.New("leader not available")})

	_, err := p.Ingest(context.Background(), request(9, 1))
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatusCode(err))
	assert.NotContains(t, reg.docs, uint32(9))
}
