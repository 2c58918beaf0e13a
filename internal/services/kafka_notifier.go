package services

import (
	"context"
	"encoding/json"
	"fmt"

	kafka_infra "github.com/example/paygate/internal/infrastructure/kafka"
	"github.com/example/paygate/internal/models"
)

// KafkaNotifier publishes payment events as JSON, keyed by order id so
// events of one order stay on one partition.
type KafkaNotifier struct {
	publisher kafka_infra.Publisher
}

// NewKafkaNotifier wraps a publisher bound to the payment events topic.
func NewKafkaNotifier(publisher kafka_infra.Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

// NotifyPayment implements PaymentNotifier.
func (n *KafkaNotifier) NotifyPayment(ctx context.Context, event models.PaymentEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}
	key := event.OrderID
	if key == "" {
		key = event.ResourceID
	}
	return n.publisher.Publish(ctx, kafka_infra.Message{
		Key:   key,
		Value: value,
		Headers: map[string]string{
			"event_id":   event.ID,
			"event_type": event.Type,
			"gateway":    event.Gateway,
		},
	})
}
