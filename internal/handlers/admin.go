package handlers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/store"
)

// AdminHandler manages payment gateway configuration.
type AdminHandler struct {
	store    store.GatewayStore
	registry *services.Registry
	logger   *zap.Logger
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(gateways store.GatewayStore, registry *services.Registry, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{store: gateways, registry: registry, logger: logger}
}

// Health reports that admin routes are reachable.
func (h *AdminHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Admin endpoints are healthy",
		"status":  "operational",
	})
}

// ListGateways returns every gateway configuration.
func (h *AdminHandler) ListGateways(c *fiber.Ctx) error {
	gateways, err := h.store.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"gateways": gateways,
	})
}

// SaveGateway creates or updates a configuration by gateway_name.
func (h *AdminHandler) SaveGateway(c *fiber.Ctx) error {
	var req models.GatewayConfig
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.GatewayName = strings.TrimSpace(req.GatewayName)
	if err := services.ValidateStruct("admin", &req); err != nil {
		return err
	}

	saved, err := h.store.Save(c.UserContext(), &req)
	if err != nil {
		return err
	}

	h.logger.Info("gateway configuration saved",
		zap.String("gateway", saved.GatewayName),
		zap.Int64("version", saved.Version),
		zap.Bool("active", saved.IsActive),
	)

	return c.JSON(fiber.Map{
		"success": true,
		"message": fmt.Sprintf("%s credentials saved successfully", saved.DisplayName),
		"gateway": saved,
	})
}

func (h *AdminHandler) find(c *fiber.Ctx) (*models.GatewayConfig, error) {
	name := c.Params("name")
	rec, err := h.store.Get(c.UserContext(), name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("Payment gateway '%s' not found", name))
	}
	return rec, nil
}

// GetGateway returns one configuration.
func (h *AdminHandler) GetGateway(c *fiber.Ctx) error {
	rec, err := h.find(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"gateway": rec,
	})
}

// TestGateway runs the adapter's connection test against the stored
// credentials and records the outcome as connection_status.
func (h *AdminHandler) TestGateway(c *fiber.Ctx) error {
	rec, err := h.find(c)
	if err != nil {
		return err
	}
	gw, ok := h.registry.ForConfig(rec.GatewayName)
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("No connection test available for '%s'", rec.GatewayName))
	}

	ctx := c.UserContext()
	result, testErr := gw.TestConnection(ctx, services.Credentials(rec.CredentialMap()))

	rec.ConnectionStatus = models.ConnectionConnected
	if testErr != nil {
		rec.ConnectionStatus = models.ConnectionFailed
	}
	saved, err := h.store.Save(ctx, rec)
	if err != nil {
		return err
	}

	h.logger.Info("gateway connection tested",
		zap.String("gateway", saved.GatewayName),
		zap.String("connection_status", saved.ConnectionStatus),
	)

	if testErr != nil {
		return testErr
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": result.Message,
		"result":  result,
		"gateway": saved,
	})
}
