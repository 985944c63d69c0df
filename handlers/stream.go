package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"trick-battle/apperrors"
	"trick-battle/middleware"
	"trick-battle/services"
)

func setStreamHeaders(c *fiber.Ctx) {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx
}

// writeEvent writes one SSE frame and flushes it. A flush error means the
// client went away.
func writeEvent(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

func writeComment(w *bufio.Writer) error {
	if _, err := w.WriteString(":\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeGameUpdate(w *bufio.Writer, gameID string, u services.GameUpdate) error {
	switch {
	case u.Err != nil:
		return writeEvent(w, "error", errorBody(apperrors.From(u.Err)))
	case u.NotFound:
		return writeEvent(w, "not_found", fiber.Map{"gameId": gameID})
	default:
		return writeEvent(w, "game", u.View)
	}
}

// StreamGame pushes the caller's view of a game: the current state first, then
// one `game` event per change. Keepalive comments are interleaved.
func (h *Handler) StreamGame(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	gameID := c.Params("id")

	sub, err := h.Games.SubscribeToGame(h.Context, gameID, userID)
	if err != nil {
		return respondError(c, err)
	}

	setStreamHeaders(c)
	keepAlive := h.KeepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Unsubscribe()
		log.Infof("📡 [GameStream] %s watching %s", userID, gameID)

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		if err := writeComment(w); err != nil {
			return
		}
		for {
			select {
			case u, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeGameUpdate(w, gameID, u); err != nil {
					log.Infof("[GameStream] %s left %s: %v", userID, gameID, err)
					return
				}
			case <-ticker.C:
				if err := writeComment(w); err != nil {
					return
				}
			}
		}
	})
	return nil
}

// StreamQueue waits for the caller's queue entry to be consumed and sends a
// single `matched` or `error` event before closing.
func (h *Handler) StreamQueue(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	queueID := c.Params("queue_id")

	sub, err := h.Matchmaking.SubscribeToQueue(h.Context, queueID, userID)
	if err != nil {
		return respondError(c, err)
	}

	setStreamHeaders(c)
	keepAlive := h.KeepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Unsubscribe()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		if err := writeComment(w); err != nil {
			return
		}
		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if ev.Err != nil {
					_ = writeEvent(w, "error", errorBody(apperrors.From(ev.Err)))
					return
				}
				log.Infof("🛹 [QueueStream] %s matched into %s", userID, ev.GameID)
				_ = writeEvent(w, "matched", fiber.Map{"gameId": ev.GameID, "queueId": queueID})
				return
			case <-ticker.C:
				if err := writeComment(w); err != nil {
					return
				}
			}
		}
	})
	return nil
}
