// Package handlers exposes matchmaking and gameplay over HTTP and SSE.
package handlers

import (
	"context"
	"time"

	"trick-battle/services"
)

const defaultKeepAlive = 15 * time.Second

type Handler struct {
	Matchmaking *services.MatchmakingService
	Games       *services.GameService

	// KeepAlive is the interval between SSE comment frames.
	KeepAlive time.Duration
	// Context bounds every open stream; cancel it on shutdown.
	Context context.Context
}

func New(mm *services.MatchmakingService, games *services.GameService, keepAlive time.Duration) *Handler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &Handler{
		Matchmaking: mm,
		Games:       games,
		KeepAlive:   keepAlive,
		Context:     context.Background(),
	}
}
