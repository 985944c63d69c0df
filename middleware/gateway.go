package middleware

import (
	"crypto/subtle"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"trick-battle/apperrors"
)

// GatewayAuthMiddleware accepts only requests carrying the gateway's bearer
// token. publicPaths (exact matches, e.g. "/health") bypass the check.
func GatewayAuthMiddleware(expectedToken string, publicPaths ...string) fiber.Handler {
	if expectedToken == "" {
		log.Fatal("❌ GAME_SERVICE_TOKEN is not set: service cannot authenticate Gateway")
	}

	return func(c *fiber.Ctx) error {
		if slices.Contains(publicPaths, c.Path()) {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			log.Warnf("🚫 [GATEWAY_AUTH] Missing Authorization header for %s", c.Path())
			return respond(c, apperrors.New(apperrors.CodeUnauthenticated, "gateway authentication token missing"))
		}

		// The gateway sends "Bearer <token>", older callers the raw token.
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			log.Warnf("❌ [GATEWAY_AUTH] Invalid token for %s", c.Path())
			return respond(c, apperrors.New(apperrors.CodeUnauthenticated, "invalid gateway authentication token"))
		}
		return c.Next()
	}
}

func respond(c *fiber.Ctx, e *apperrors.Error) error {
	return c.Status(e.Code.HTTPStatus()).JSON(fiber.Map{
		"error": e.Message,
		"code":  e.Code,
		"kind":  e.Kind,
	})
}
