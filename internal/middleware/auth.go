package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/utils"
)

const adminContextKey = "currentAdmin"

// AdminAuth validates admin JWTs. It lets every request through when
// ADMIN_PASSWORD_HASH is not configured.
func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.AdminAuthEnabled() {
			return c.Next()
		}

		token, err := bearerToken(c.Get("Authorization"))
		if err != nil {
			return err
		}

		subject, err := utils.ParseToken(cfg.JWTSecret, token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(adminContextKey, subject)
		return c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || token == "" || !strings.EqualFold(scheme, "Bearer") {
		return "", fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
	}
	return token, nil
}

// CurrentAdmin returns the authenticated admin name, if any.
func CurrentAdmin(c *fiber.Ctx) (string, bool) {
	name, ok := c.Locals(adminContextKey).(string)
	return name, ok && name != ""
}
