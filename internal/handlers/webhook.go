package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/store"
)

// WebhookHandler receives gateway webhooks.
type WebhookHandler struct {
	webhooks     *services.WebhookService
	stripeSecret string
	creds        storedCredentials
	logger       *zap.Logger
}

// NewWebhookHandler constructs WebhookHandler. stripeSecret comes from
// STRIPE_WEBHOOK_SECRET; the stored stripe webhook_secret is the fallback.
func NewWebhookHandler(webhooks *services.WebhookService, stripeSecret string, gateways store.GatewayStore, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks:     webhooks,
		stripeSecret: stripeSecret,
		creds:        storedCredentials{store: gateways},
		logger:       logger,
	}
}

func (h *WebhookHandler) stripeWebhookSecret(c *fiber.Ctx) (string, error) {
	if h.stripeSecret != "" {
		return h.stripeSecret, nil
	}
	creds, err := h.creds.resolve(c.UserContext(), "stripe", nil)
	if err != nil {
		return "", err
	}
	return creds.Str("webhook_secret"), nil
}

// Stripe verifies the Stripe-Signature header and dispatches the event.
func (h *WebhookHandler) Stripe(c *fiber.Ctx) error {
	secret, err := h.stripeWebhookSecret(c)
	if err != nil {
		return err
	}
	payload := c.Body()
	if err := h.webhooks.VerifyStripeSignature(payload, c.Get("Stripe-Signature"), secret); err != nil {
		return err
	}
	if _, err := h.webhooks.HandleStripeEvent(c.UserContext(), payload); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Webhook received",
	})
}

// PayPal accepts any PayPal event. Signatures are not verified.
func (h *WebhookHandler) PayPal(c *fiber.Ctx) error {
	var event models.PayPalWebhookEvent
	if err := json.Unmarshal(c.Body(), &event); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON")
	}
	h.logger.Info("paypal webhook received",
		zap.String("transmission_id", c.Get("Paypal-Transmission-Id")),
		zap.String("event_type", event.EventType),
	)
	h.webhooks.HandlePayPalEvent(c.UserContext(), event)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Webhook received and processed",
	})
}

// Klarna receives the merchant notifications advertised in merchant_urls.
func (h *WebhookHandler) Klarna(c *fiber.Ctx) error {
	var n models.KlarnaNotification
	if err := json.Unmarshal(c.Body(), &n); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON")
	}
	h.webhooks.HandleKlarnaNotification(c.UserContext(), n)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Notification received",
	})
}
