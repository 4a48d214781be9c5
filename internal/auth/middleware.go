package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"permhub/internal/directory"
	"permhub/internal/engine"
)

// Middleware validates the bearer token and sets the caller identity on
// the request. When the subject is a tracked directory user the live
// registry entry wins over the token claims, so an admin demotion takes
// effect on the very next request instead of at token expiry.
func Middleware(secret string, reg *directory.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.NotAuthenticatedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.NotAuthenticatedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return engine.NotAuthenticatedError("Invalid or expired token")
		}

		user := directory.User{
			ID:      claims.Subject,
			Name:    claims.Name,
			IsAdmin: claims.Admin,
		}
		if live, ok := reg.GetUser(claims.Subject); ok {
			user = live
		}
		c.Locals("user", &user)

		return c.Next()
	}
}
