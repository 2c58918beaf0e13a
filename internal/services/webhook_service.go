package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
)

// WebhookService verifies and dispatches gateway webhook events. Handled
// events are logged and published; nothing is persisted.
type WebhookService struct {
	notifier *Notifiers
	logger   *zap.Logger
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(notifier *Notifiers, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{notifier: notifier, logger: logger}
}

// VerifyStripeSignature checks the Stripe-Signature header. The header is
// always required; the signature itself is only checked when a secret is
// configured.
func (s *WebhookService) VerifyStripeSignature(payload []byte, sigHeader, secret string) error {
	if strings.TrimSpace(sigHeader) == "" {
		return validationError(stripeGateway, "No signature found", "Stripe-Signature")
	}
	if secret == "" {
		s.logger.Warn("stripe webhook secret not configured, skipping signature verification")
		return nil
	}
	if err := webhook.ValidatePayload(payload, sigHeader, secret); err != nil {
		return &GatewayError{Kind: KindValidation, Gateway: stripeGateway, Op: "verify_signature", Message: "Invalid signature", Err: err}
	}
	return nil
}

type stripeEventObject struct {
	ID               string            `json:"id"`
	Object           string            `json:"object"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	AmountRefunded   int64             `json:"amount_refunded"`
	Currency         string            `json:"currency"`
	PaymentIntent    string            `json:"payment_intent"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// HandleStripeEvent decodes and dispatches a verified Stripe event. It
// reports whether the event type has a handler.
func (s *WebhookService) HandleStripeEvent(ctx context.Context, payload []byte) (bool, error) {
	var event models.StripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return false, &GatewayError{Kind: KindValidation, Gateway: stripeGateway, Op: "webhook", Message: "Invalid payload", Err: err}
	}

	var obj stripeEventObject
	if len(event.Data.Object) > 0 {
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil {
			return false, &GatewayError{Kind: KindValidation, Gateway: stripeGateway, Op: "webhook", Message: "Invalid event object", Err: err}
		}
	}

	log := s.logger.With(
		zap.String("gateway", stripeGateway),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("object_id", obj.ID),
	)

	evt := models.PaymentEvent{
		Gateway:    stripeGateway,
		Type:       event.Type,
		OrderID:    obj.Metadata["order_id"],
		ResourceID: obj.ID,
		Status:     obj.Status,
		Currency:   strings.ToUpper(obj.Currency),
	}

	switch event.Type {
	case "payment_intent.succeeded":
		log.Info("payment succeeded", zap.Int64("amount", obj.Amount))
		evt.Amount = FormatAmount(FromMinorUnits(obj.Amount, obj.Currency))
	case "payment_intent.payment_failed":
		reason := ""
		if obj.LastPaymentError != nil {
			reason = obj.LastPaymentError.Message
		}
		log.Warn("payment failed", zap.String("reason", reason))
		evt.Amount = FormatAmount(FromMinorUnits(obj.Amount, obj.Currency))
	case "payment_intent.canceled":
		log.Info("payment canceled")
	case "charge.refunded":
		log.Info("charge refunded",
			zap.String("payment_intent_id", obj.PaymentIntent),
			zap.Int64("amount_refunded", obj.AmountRefunded),
		)
		evt.Amount = FormatAmount(FromMinorUnits(obj.AmountRefunded, obj.Currency))
	default:
		log.Info("unhandled stripe event")
		return false, nil
	}

	s.notifier.Publish(ctx, evt)
	return true, nil
}

type paypalEventResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
	CustomID      string `json:"custom_id"`
	InvoiceID     string `json:"invoice_id"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
	} `json:"purchase_units"`
}

func (r paypalEventResource) orderID() string {
	if r.CustomID != "" {
		return r.CustomID
	}
	if r.InvoiceID != "" {
		return r.InvoiceID
	}
	for _, pu := range r.PurchaseUnits {
		if pu.CustomID != "" {
			return pu.CustomID
		}
		if pu.ReferenceID != "" {
			return pu.ReferenceID
		}
	}
	return ""
}

// HandlePayPalEvent branches on the PayPal event type. Every payload is
// accepted; no signature is checked.
func (s *WebhookService) HandlePayPalEvent(ctx context.Context, event models.PayPalWebhookEvent) bool {
	var res paypalEventResource
	if len(event.Resource) > 0 {
		if err := json.Unmarshal(event.Resource, &res); err != nil {
			s.logger.Warn("paypal webhook resource not decodable", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	log := s.logger.With(
		zap.String("gateway", "paypal"),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("resource_id", res.ID),
	)

	evt := models.PaymentEvent{
		Gateway:    "paypal",
		Type:       event.EventType,
		OrderID:    res.orderID(),
		ResourceID: res.ID,
		Status:     res.Status,
	}
	if res.Amount != nil {
		evt.Amount = res.Amount.Value
		evt.Currency = res.Amount.CurrencyCode
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		log.Info("payment capture completed")
	case "PAYMENT.CAPTURE.DENIED":
		log.Warn("payment capture denied")
	case "CHECKOUT.ORDER.APPROVED":
		log.Info("checkout order approved")
	default:
		log.Info("unhandled paypal event")
		return true
	}

	s.notifier.Publish(ctx, evt)
	return true
}

// HandleKlarnaNotification publishes a Klarna merchant notification, such
// as FRAUD_RISK_ACCEPTED, as klarna.<event type>.
func (s *WebhookService) HandleKlarnaNotification(ctx context.Context, n models.KlarnaNotification) {
	eventType := strings.ToLower(strings.TrimSpace(n.EventType))
	if eventType == "" {
		eventType = "notification"
	}
	s.logger.Info("klarna notification",
		zap.String("gateway", klarnaGateway),
		zap.String("klarna_order_id", n.OrderID),
		zap.String("event_type", n.EventType),
	)
	s.notifier.Publish(ctx, models.PaymentEvent{
		Gateway:    klarnaGateway,
		Type:       "klarna." + eventType,
		ResourceID: n.OrderID,
		Status:     n.EventType,
	})
}
