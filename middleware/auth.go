package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"trick-battle/apperrors"
)

const (
	userIDKey    = "user_id"
	userRolesKey = "user_roles"
	deviceIDKey  = "device_id"
)

// UserContextMiddleware trusts the identity the gateway attached in X-User-ID
// and X-User-Roles. Requests without a user are rejected.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warnf("❌ [USER_CTX] X-User-ID missing on %s %s", c.Method(), c.Path())
			return respond(c, apperrors.New(apperrors.CodeUnauthenticated,
				"missing X-User-ID, request must come through gateway with auth context"))
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(userIDKey, userID)
		c.Locals(userRolesKey, roles)
		return c.Next()
	}
}

// UserID returns the player identity attached by one of the auth middlewares.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}

// UserRoles returns the roles forwarded by the gateway, if any.
func UserRoles(c *fiber.Ctx) []string {
	roles, _ := c.Locals(userRolesKey).([]string)
	return roles
}
