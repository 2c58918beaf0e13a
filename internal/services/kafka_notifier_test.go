package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafka_infra "github.com/example/paygate/internal/infrastructure/kafka"
	"github.com/example/paygate/internal/models"
)

type fakePublisher struct {
	messages []kafka_infra.Message
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, msg kafka_infra.Message) error {
	p.messages = append(p.messages, msg)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func TestKafkaNotifier_KeysByOrder(t *testing.T) {
	publisher := &fakePublisher{}
	n := NewKafkaNotifier(publisher)

	require.NoError(t, n.NotifyPayment(context.Background(), models.PaymentEvent{
		ID: "evt-1", Gateway: "stripe", Type: EventPaymentProcessed, OrderID: "ORD-1001", ResourceID: "pi_123",
	}))
	require.NoError(t, n.NotifyPayment(context.Background(), models.PaymentEvent{
		ID: "evt-2", Gateway: "paypal", Type: "PAYMENT.CAPTURE.COMPLETED", ResourceID: "CAP-9",
	}))

	require.Len(t, publisher.messages, 2)
	assert.Equal(t, "ORD-1001", publisher.messages[0].Key)
	assert.Equal(t, "CAP-9", publisher.messages[1].Key)
	assert.Equal(t, map[string]string{
		"event_id":   "evt-1",
		"event_type": EventPaymentProcessed,
		"gateway":    "stripe",
	}, publisher.messages[0].Headers)

	var decoded models.PaymentEvent
	require.NoError(t, json.Unmarshal(publisher.messages[0].Value, &decoded))
	assert.Equal(t, "pi_123", decoded.ResourceID)
}

func TestKafkaNotifier_PublishErrorIsReturned(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker down")}
	n := NewKafkaNotifier(publisher)

	err := n.NotifyPayment(context.Background(), models.PaymentEvent{OrderID: "ORD-1"})
	assert.EqualError(t, err, "broker down")
}
