package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// SystemHandler serves the root and liveness routes.
type SystemHandler struct {
	appName string
}

func NewSystemHandler(appName string) *SystemHandler {
	return &SystemHandler{appName: appName}
}

func (h *SystemHandler) Welcome(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": fmt.Sprintf("Welcome to %s server", h.appName)})
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "Server is running!",
		"status":  "healthy",
	})
}

// Hello greets :name, or the world.
func (h *SystemHandler) Hello(c *fiber.Ctx) error {
	return greet(c, c.Params("name"))
}

type helloRequest struct {
	Name string `json:"name"`
}

// HelloPost greets the name sent in the JSON body.
func (h *SystemHandler) HelloPost(c *fiber.Ctx) error {
	var req helloRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	return greet(c, req.Name)
}

func greet(c *fiber.Ctx, name string) error {
	if name == "" {
		name = "World"
	}
	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Hello, %s!", name),
		"status":  "success",
	})
}
