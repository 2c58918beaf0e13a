package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

// PaymentNotifier receives payment events.
type PaymentNotifier interface {
	NotifyPayment(ctx context.Context, event models.PaymentEvent) error
}

// Notifiers fans payment events out to every configured sink. Sink
// failures are logged and never reach the caller.
type Notifiers struct {
	sinks  []PaymentNotifier
	logger *zap.Logger
}

// NewNotifiers builds a fan-out over sinks; nil sinks are skipped.
func NewNotifiers(logger *zap.Logger, sinks ...PaymentNotifier) *Notifiers {
	n := &Notifiers{logger: logger}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	for _, sink := range sinks {
		if sink != nil {
			n.sinks = append(n.sinks, sink)
		}
	}
	return n
}

// Publish stamps the event and delivers it to every sink.
func (n *Notifiers) Publish(ctx context.Context, event models.PaymentEvent) {
	if n == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	n.logger.Info("payment event",
		zap.String("event_id", event.ID),
		zap.String("gateway", event.Gateway),
		zap.String("type", event.Type),
		zap.String("order_id", event.OrderID),
		zap.String("status", event.Status),
	)

	for _, sink := range n.sinks {
		if err := sink.NotifyPayment(ctx, event); err != nil {
			n.logger.Warn("payment event delivery failed",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
}

// Event types published for process-payment results.
const (
	EventPaymentProcessed = "payment.processed"
	EventSessionCreated   = "session.created"
)

// PaymentProcessedEvent describes a successful process-payment result. A
// Klarna session has authorized nothing yet and is reported as
// session.created.
func PaymentProcessedEvent(result *models.PaymentResult) models.PaymentEvent {
	resourceID := result.TransactionID
	switch {
	case result.PaymentIntent != nil:
		resourceID = result.PaymentIntent.ID
	case result.Payment != nil:
		resourceID = result.Payment.ID
	case result.PayPalOrderID != "":
		resourceID = result.PayPalOrderID
	case result.SessionID != "":
		resourceID = result.SessionID
	}
	eventType := EventPaymentProcessed
	if result.SessionID != "" {
		eventType = EventSessionCreated
	}
	return models.PaymentEvent{
		Gateway:    result.Gateway,
		Type:       eventType,
		OrderID:    result.OrderID,
		ResourceID: resourceID,
		Status:     result.Status,
		Amount:     FormatAmount(result.Amount),
		Currency:   result.Currency,
	}
}
