// middleware/service_auth.go
package middleware

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ServiceTokenMiddleware guards operator routes with a static Bearer token.
// An empty expected token disables the routes instead of leaving them open.
func ServiceTokenMiddleware(expectedToken string) fiber.Handler {
	if expectedToken == "" {
		log.Println("⚠️  SERVICE_TOKEN not set, admin routes are disabled")
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin routes are disabled",
			})
		}
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			authHeader = c.Get("X-Service-Token")
		}
		if authHeader == "" {
			log.Printf("🚫 [SERVICE_AUTH] Missing token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "service token missing",
			})
		}

		// "Bearer <token>" or the raw token
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			log.Printf("❌ [SERVICE_AUTH] Invalid token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service token",
			})
		}
		return c.Next()
	}
}
