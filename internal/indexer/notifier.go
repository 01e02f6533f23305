package indexer

import (
	"context"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/kafka"
)

// KafkaNotifier publishes WeightsEvents to the weights-updated topic.
type KafkaNotifier struct {
	producer *kafka.Producer
}

func NewKafkaNotifier(producer *kafka.Producer) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

func (n *KafkaNotifier) WeightsUpdated(ctx context.Context, event WeightsEvent) error {
	return n.producer.Publish(ctx, kafka.Event{
		Key:   strconv.FormatUint(event.Generation, 10),
		Type:  "weights-updated",
		Value: event,
	})
}
