package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/store"
)

// storedCredentials falls back to the admin-managed credentials of a
// gateway when a request carries none.
type storedCredentials struct {
	store store.GatewayStore
}

func (s storedCredentials) resolve(ctx context.Context, configKey string, inline map[string]any) (services.Credentials, error) {
	creds := services.Credentials(inline)
	if len(creds) > 0 && !creds.Empty() {
		return creds, nil
	}
	if s.store == nil {
		return services.Credentials{}, nil
	}
	rec, err := s.store.Get(ctx, configKey)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return services.Credentials{}, nil
	}
	return services.Credentials(rec.CredentialMap()), nil
}

// PaymentHandler serves the direct card gateways.
type PaymentHandler struct {
	registry *services.Registry
	stripe   *services.StripeService
	square   *services.SquareService
	creds    storedCredentials
	notifier *services.Notifiers
	logger   *zap.Logger
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(
	registry *services.Registry,
	stripe *services.StripeService,
	square *services.SquareService,
	gateways store.GatewayStore,
	notifier *services.Notifiers,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		registry: registry,
		stripe:   stripe,
		square:   square,
		creds:    storedCredentials{store: gateways},
		notifier: notifier,
		logger:   logger,
	}
}

func (h *PaymentHandler) gateway(c *fiber.Ctx) (services.Gateway, error) {
	name := strings.ToLower(c.Params("gateway"))
	gw, ok := h.registry.Lookup(name)
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "unsupported payment gateway: "+name)
	}
	return gw, nil
}

// ProcessPayment charges the order through the gateway named in the path.
func (h *PaymentHandler) ProcessPayment(c *fiber.Ctx) error {
	gw, err := h.gateway(c)
	if err != nil {
		return err
	}
	return h.process(c, gw)
}

// ProcessKlarna is the /checkout/klarna/session alias.
func (h *PaymentHandler) ProcessKlarna(c *fiber.Ctx) error {
	gw, ok := h.registry.Lookup("klarna")
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "klarna is not enabled")
	}
	return h.process(c, gw)
}

func (h *PaymentHandler) process(c *fiber.Ctx, gw services.Gateway) error {
	var req models.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ctx := c.UserContext()
	creds, err := h.creds.resolve(ctx, gw.ConfigKey(), req.PaymentConfig)
	if err != nil {
		return err
	}

	last4 := req.PaymentMethod.LastFour()
	h.logger.Info("processing payment",
		zap.String("gateway", gw.Name()),
		zap.String("order_id", req.OrderID),
		zap.String("card_last4", last4),
	)

	result, err := gw.ProcessPayment(ctx, &req, creds)
	if err != nil {
		return err
	}
	if result.CardLast4 == "" {
		result.CardLast4 = last4
	}
	if !result.Success {
		return c.Status(fiber.StatusBadRequest).JSON(result)
	}

	h.notifier.Publish(ctx, services.PaymentProcessedEvent(result))
	return c.JSON(result)
}

// credentialBody reads a test-connection body: either the credentials
// themselves or {"payment_config": {...}}.
func credentialBody(c *fiber.Ctx) (map[string]any, error) {
	body := map[string]any{}
	if len(c.Body()) == 0 {
		return body, nil
	}
	if err := c.BodyParser(&body); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if nested, ok := body["payment_config"].(map[string]any); ok {
		return nested, nil
	}
	return body, nil
}

// TestConnection checks the gateway credentials from the body, or the
// stored ones when the body is empty.
func (h *PaymentHandler) TestConnection(c *fiber.Ctx) error {
	gw, err := h.gateway(c)
	if err != nil {
		return err
	}
	return h.testConnection(c, gw)
}

// TestKlarna is the /checkout/klarna/test-connection alias.
func (h *PaymentHandler) TestKlarna(c *fiber.Ctx) error {
	gw, ok := h.registry.Lookup("klarna")
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "klarna is not enabled")
	}
	return h.testConnection(c, gw)
}

func (h *PaymentHandler) testConnection(c *fiber.Ctx, gw services.Gateway) error {
	body, err := credentialBody(c)
	if err != nil {
		return err
	}
	creds, err := h.creds.resolve(c.UserContext(), gw.ConfigKey(), body)
	if err != nil {
		return err
	}
	result, err := gw.TestConnection(c.UserContext(), creds)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type stripeConfirmRequest struct {
	PaymentIntentID string         `json:"payment_intent_id"`
	PaymentMethodID string         `json:"payment_method_id"`
	ReturnURL       string         `json:"return_url"`
	APIKey          string         `json:"api_key"`
	PaymentConfig   map[string]any `json:"payment_config"`
}

func (r stripeConfirmRequest) inlineCredentials() map[string]any {
	if len(r.PaymentConfig) > 0 {
		return r.PaymentConfig
	}
	if r.APIKey != "" {
		return map[string]any{"api_key": r.APIKey}
	}
	return nil
}

// ConfirmStripePayment confirms a payment intent that required action.
func (h *PaymentHandler) ConfirmStripePayment(c *fiber.Ctx) error {
	var req stripeConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	creds, err := h.creds.resolve(c.UserContext(), h.stripe.ConfigKey(), req.inlineCredentials())
	if err != nil {
		return err
	}
	result, err := h.stripe.ConfirmPayment(c.UserContext(), creds, req.PaymentIntentID, req.PaymentMethodID, req.ReturnURL)
	if err != nil {
		return err
	}
	if result.Success {
		h.notifier.Publish(c.UserContext(), services.PaymentProcessedEvent(result))
	}
	return c.JSON(result)
}

// RefundStripePayment refunds a succeeded payment intent.
func (h *PaymentHandler) RefundStripePayment(c *fiber.Ctx) error {
	var req services.StripeRefundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	creds, err := h.creds.resolve(c.UserContext(), h.stripe.ConfigKey(), req.PaymentConfig)
	if err != nil {
		return err
	}
	result, err := h.stripe.Refund(c.UserContext(), creds, &req)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// GetStripePaymentIntent looks up a payment intent with the stored key.
func (h *PaymentHandler) GetStripePaymentIntent(c *fiber.Ctx) error {
	creds, err := h.creds.resolve(c.UserContext(), h.stripe.ConfigKey(), nil)
	if err != nil {
		return err
	}
	result, err := h.stripe.GetPaymentIntent(c.UserContext(), creds, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// RefundSquarePayment refunds a Square payment.
func (h *PaymentHandler) RefundSquarePayment(c *fiber.Ctx) error {
	var req services.SquareRefundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	creds, err := h.creds.resolve(c.UserContext(), h.square.ConfigKey(), req.PaymentConfig)
	if err != nil {
		return err
	}
	result, err := h.square.Refund(c.UserContext(), creds, &req)
	if err != nil {
		return err
	}
	return c.JSON(result)
}
