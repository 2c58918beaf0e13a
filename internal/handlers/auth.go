package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/utils"
)

// AuthHandler issues admin tokens.
type AuthHandler struct {
	cfg *config.Config
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates the admin and returns a bearer token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if !h.cfg.AdminAuthEnabled() {
		return fiber.NewError(fiber.StatusNotFound, "admin authentication is disabled")
	}

	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required fields")
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.AdminUsername)) == 1
	if !utils.CheckPassword(h.cfg.AdminPasswordHash, req.Password) || !userOK {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, h.cfg.AdminUsername, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"token":      token,
		"expires_in": int(h.cfg.TokenExpires.Seconds()),
	})
}
