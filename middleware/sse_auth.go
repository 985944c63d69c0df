package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"trick-battle/apperrors"
	"trick-battle/services"
)

// TokenValidator resolves a player access token to an identity.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// SSEAuthMiddleware authenticates EventSource requests, which cannot set
// headers, from the `token` and `device_id` query parameters.
//
// Usage:
//
//	app.Get("/stream/games/:id", middleware.SSEAuthMiddleware(authClient), h.StreamGame)
func SSEAuthMiddleware(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))
		if accessToken == "" || deviceID == "" {
			log.Warnf("[SSEAuth] ❌ Missing token or device_id on %s", c.Path())
			return respond(c, apperrors.New(apperrors.CodeInvalidPayload, "missing token or device_id in query"))
		}

		resp, err := validator.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			log.Warnf("[SSEAuth] ❌ Validation failed for device %s: %v", deviceID, err)
			return respond(c, apperrors.New(apperrors.CodeUnauthenticated, "unauthorized"))
		}

		c.Locals(userIDKey, resp.UserID)
		c.Locals(deviceIDKey, resp.DeviceID)
		c.Locals(userRolesKey, resp.Roles)
		log.Infof("[SSEAuth] ✅ Authenticated user %s (device %s)", resp.UserID, resp.DeviceID)
		return c.Next()
	}
}
