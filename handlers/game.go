package handlers

import (
	"github.com/gofiber/fiber/v2"

	"trick-battle/middleware"
	"trick-battle/models"
	"trick-battle/services"
)

type actionRequest struct {
	Action string `json:"action"`
	services.ActionPayload
}

// GetActiveGames lists the caller's ACTIVE games, newest first.
func (h *Handler) GetActiveGames(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	matches, err := h.Games.GetActiveGames(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}

	views := make([]services.PlayerView, 0, len(matches))
	for _, m := range matches {
		view, err := services.Project(m, userID)
		if err != nil {
			return respondError(c, err)
		}
		views = append(views, view)
	}
	return c.JSON(fiber.Map{"games": views})
}

// GetGame returns the caller's view of one game.
func (h *Handler) GetGame(c *fiber.Ctx) error {
	view, err := h.Games.GetGame(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}

// SubmitAction applies SET, LAND, BAIL or FORFEIT and returns the new view.
func (h *Handler) SubmitAction(c *fiber.Ctx) error {
	var req actionRequest
	if err := c.BodyParser(&req); err != nil {
		return badPayload(c, err)
	}
	action, err := services.ParseAction(req.Action)
	if err != nil {
		return respondError(c, err)
	}

	userID := middleware.UserID(c)
	m, err := h.Games.SubmitAction(c.UserContext(), c.Params("id"), userID, action, req.ActionPayload)
	if err != nil {
		return respondError(c, err)
	}
	return h.respondView(c, m, userID)
}

// SetterMissed records that the setter failed their own trick.
func (h *Handler) SetterMissed(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	m, err := h.Games.SetterMissed(c.UserContext(), c.Params("id"), userID)
	if err != nil {
		return respondError(c, err)
	}
	return h.respondView(c, m, userID)
}

func (h *Handler) respondView(c *fiber.Ctx, m models.Match, userID string) error {
	view, err := services.Project(m, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}
