package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/store"
)

// CheckoutHandler serves the PayPal redirect checkout.
type CheckoutHandler struct {
	checkout *services.CheckoutService
	creds    storedCredentials
	logger   *zap.Logger
}

// NewCheckoutHandler constructs CheckoutHandler.
func NewCheckoutHandler(checkout *services.CheckoutService, gateways store.GatewayStore, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		creds:    storedCredentials{store: gateways},
		logger:   logger,
	}
}

// paypalCredentials prefers inline credentials, then the PAYPAL_* env
// client, then the stored paypal configuration.
func (h *CheckoutHandler) paypalCredentials(c *fiber.Ctx, inline map[string]any) (services.Credentials, error) {
	creds := services.Credentials(inline)
	if !creds.Empty() || h.checkout.Configured() {
		return creds, nil
	}
	return h.creds.resolve(c.UserContext(), "paypal", nil)
}

// ProcessPayPal creates a PayPal order and returns the approval link.
func (h *CheckoutHandler) ProcessPayPal(c *fiber.Ctx) error {
	var req models.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if !strings.EqualFold(req.PaymentMethod.Type, "paypal") {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid payment method. Expected 'paypal'")
	}

	creds, err := h.paypalCredentials(c, req.PaymentConfig)
	if err != nil {
		return err
	}
	req.PaymentConfig = creds

	h.logger.Info("processing paypal checkout", zap.String("order_id", req.OrderID))

	res, err := h.checkout.ProcessCheckout(c.UserContext(), &req)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

type captureRequest struct {
	PayPalOrderID string         `json:"paypal_order_id"`
	OrderID       string         `json:"order_id"`
	PaymentConfig map[string]any `json:"payment_config"`
}

// CapturePayPal captures an order the buyer approved.
func (h *CheckoutHandler) CapturePayPal(c *fiber.Ctx) error {
	var req captureRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.PayPalOrderID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "paypal_order_id is required")
	}

	creds, err := h.paypalCredentials(c, req.PaymentConfig)
	if err != nil {
		return err
	}
	res, err := h.checkout.CapturePayment(c.UserContext(), req.PayPalOrderID, req.OrderID, creds)
	if err != nil {
		return err
	}
	if !res.Success {
		return c.Status(fiber.StatusBadRequest).JSON(res)
	}
	return c.JSON(res)
}

// GetPayPalOrder returns PayPal's view of an order.
func (h *CheckoutHandler) GetPayPalOrder(c *fiber.Ctx) error {
	creds, err := h.paypalCredentials(c, nil)
	if err != nil {
		return err
	}
	order, err := h.checkout.GetOrderDetails(c.UserContext(), c.Params("id"), creds)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"order":   order,
	})
}

// TestPayPalConnection fetches an OAuth token with the posted credentials.
func (h *CheckoutHandler) TestPayPalConnection(c *fiber.Ctx) error {
	body, err := credentialBody(c)
	if err != nil {
		return err
	}
	creds, err := h.paypalCredentials(c, body)
	if err != nil {
		return err
	}
	res, err := h.checkout.TestConnection(c.UserContext(), creds)
	if err != nil {
		return err
	}
	return c.JSON(res)
}
