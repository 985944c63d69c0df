package handlers

import (
	"github.com/gofiber/fiber/v2"

	"trick-battle/middleware"
	"trick-battle/services"
)

// QuickMatch pairs the caller with a waiting player or queues them.
func (h *Handler) QuickMatch(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req services.QuickMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return badPayload(c, err)
	}

	res, err := h.Matchmaking.RequestQuickMatch(c.UserContext(), userID, req)
	if err != nil {
		return respondError(c, err)
	}

	if res.IsWaiting {
		return c.Status(fiber.StatusAccepted).JSON(res)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// CancelQuickMatch removes the caller's queue entry. Cancelling an entry that
// is already gone succeeds.
func (h *Handler) CancelQuickMatch(c *fiber.Ctx) error {
	if err := h.Matchmaking.CancelMatchmaking(c.UserContext(), c.Params("queue_id"), middleware.UserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
