package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"mdrag/app/api"
)

const APIKeyHeader = "X-Api-Key"

// RequireAPIKey rejects requests whose X-Api-Key header does not match key.
// An empty key rejects every request.
func RequireAPIKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		given := c.Get(APIKeyHeader)
		if key == "" || given == "" {
			return api.ErrUnAuthorized("missing API key")
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			return api.ErrUnAuthorized("invalid API key")
		}
		return c.Next()
	}
}
