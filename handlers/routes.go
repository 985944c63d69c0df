package handlers

import (
	"github.com/gofiber/fiber/v2"

	"trick-battle/middleware"
)

// SetupRoutes registers the JSON routes behind the gateway user context and
// the SSE routes behind query-token auth. With no validator the streams fall
// back to the gateway user context as well.
func SetupRoutes(app *fiber.App, h *Handler, validator middleware.TokenValidator) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	streamAuth := middleware.UserContextMiddleware()
	if validator != nil {
		streamAuth = middleware.SSEAuthMiddleware(validator)
	}
	stream := app.Group("/stream", streamAuth)
	stream.Get("/games/:id", h.StreamGame)
	stream.Get("/matchmaking/:queue_id", h.StreamQueue)

	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/matchmaking/quick", h.QuickMatch)
	secured.Delete("/matchmaking/:queue_id", h.CancelQuickMatch)

	// /games/active must be registered before /games/:id
	secured.Get("/games/active", h.GetActiveGames)
	secured.Get("/games/:id", h.GetGame)
	secured.Post("/games/:id/actions", h.SubmitAction)
	secured.Post("/games/:id/setter-missed", h.SetterMissed)
}
