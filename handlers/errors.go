package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"trick-battle/apperrors"
)

// retryAfterSeconds is advertised on RETRY_LATER responses.
const retryAfterSeconds = "1"

func errorBody(e *apperrors.Error) fiber.Map {
	body := fiber.Map{
		"error": e.Message,
		"code":  e.Code,
		"kind":  e.Kind,
	}
	if len(e.Metadata) > 0 {
		body["metadata"] = e.Metadata
	}
	return body
}

// respondError renders err with the status its code maps to. Foreign errors
// are logged and surface as INTERNAL.
func respondError(c *fiber.Ctx, err error) error {
	e := apperrors.From(err)
	switch e.Kind {
	case apperrors.KindInternal:
		log.Errorf("❌ [%s %s] %v", c.Method(), c.Path(), err)
	case apperrors.KindConflict:
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
	}
	return c.Status(e.Code.HTTPStatus()).JSON(errorBody(e))
}

func badPayload(c *fiber.Ctx, err error) error {
	return respondError(c, apperrors.Wrap(apperrors.CodeInvalidPayload, "invalid request body", err))
}
