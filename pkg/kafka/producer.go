package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// EventTypeHeader carries Event.Type on the wire.
const EventTypeHeader = "event-type"

// Event is one JSON message. Key picks the partition, so ingest events for a
// document and weight announcements for a generation stay ordered.
type Event struct {
	Key   string
	Type  string
	Value any
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes events to a single topic and waits for every in-sync
// replica to acknowledge.
type Producer struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

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
		logger: logger.WithComponent("kafka-producer").With("topic", topic),
	}
}

// Publish encodes event.Value as JSON and blocks until the write is
// acknowledged or ctx ends.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("encoding %s event %q: %w", event.Type, event.Key, err)
	}
	msg := kafka.Message{Key: []byte(event.Key), Value: value}
	if event.Type != "" {
		msg.Headers = []kafka.Header{{Key: EventTypeHeader, Value: []byte(event.Type)}}
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("publish failed", "type", event.Type, "key", event.Key, "error", err)
		return fmt.Errorf("publishing %s event to %s: %w", event.Type, p.topic, err)
	}
	p.logger.Debug("event published", "type", event.Type, "key", event.Key, "value_size", len(value))
	return nil
}

func (p *Producer) Topic() string { return p.topic }

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}
