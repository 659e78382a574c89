package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// KeyAdminUser holds the authenticated admin name in Locals.
const KeyAdminUser = "ADMIN_USER"

// RequireAdmin protects operator routes with HTTP basic auth checked against
// a bcrypt hash. Without a configured hash every request is refused.
func RequireAdmin(user, passwordHash string) fiber.Handler {
	if passwordHash == "" {
		log.Warn("[Auth] ADMIN_PASSWORD_HASH is empty, admin routes are disabled")
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "admin_disabled",
				"message": "admin access is not configured",
			})
		}
	}

	hash := []byte(passwordHash)
	return basicauth.New(basicauth.Config{
		Realm: "PayFox Admin",
		Authorizer: func(name, password string) bool {
			if subtle.ConstantTimeCompare([]byte(name), []byte(user)) != 1 {
				return false
			}
			return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="PayFox Admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "admin credentials required",
			})
		},
		ContextUsername: KeyAdminUser,
	})
}

// RequireJSON rejects bodies that do not declare a JSON content type.
func RequireJSON(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodGet || len(c.Body()) == 0 {
		return c.Next()
	}
	if !c.Is("json") {
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error":   "unsupported_media_type",
			"message": "content type must be application/json",
		})
	}
	return c.Next()
}
