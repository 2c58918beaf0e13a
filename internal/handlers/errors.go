package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/store"
)

// ErrorHandler renders every error returned by a handler as
// {success:false, message, ...}. Gateway errors keep the provider reply.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if gwErr, ok := services.AsGatewayError(err); ok {
			status := gwErr.HTTPStatus()
			log := logger.Warn
			if status >= fiber.StatusInternalServerError {
				log = logger.Error
			}
			log("gateway request failed",
				zap.String("path", c.Path()),
				zap.String("gateway", gwErr.Gateway),
				zap.String("op", gwErr.Op),
				zap.String("kind", string(gwErr.Kind)),
				zap.Int("upstream_status", gwErr.UpstreamStatus),
				zap.Error(err),
			)
			return c.Status(status).JSON(gatewayErrorBody(gwErr))
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"success": false,
				"message": fiberErr.Message,
			})
		}

		if errors.Is(err, store.ErrVersionConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}

		logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Internal server error",
		})
	}
}

func gatewayErrorBody(e *services.GatewayError) fiber.Map {
	body := fiber.Map{
		"success":    false,
		"message":    e.Message,
		"error_kind": e.Kind,
	}
	if e.Gateway != "" {
		body["gateway"] = e.Gateway
	}
	if e.Code != "" {
		body["error_code"] = e.Code
	}
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	if e.UpstreamStatus != 0 {
		body["gateway_status"] = e.UpstreamStatus
	}
	if len(e.Body) > 0 {
		if json.Valid(e.Body) {
			body["gateway_response"] = json.RawMessage(e.Body)
		} else {
			body["gateway_response"] = string(e.Body)
		}
	}
	return body
}
