package services

import (
	"context"
	"sync"
	"sync/atomic"

	"trick-battle/apperrors"
	"trick-battle/models"
	"trick-battle/store"
)

// GameUpdate is one snapshot of a subscribed game. Exactly one of View,
// NotFound and Err is meaningful.
type GameUpdate struct {
	View     PlayerView
	NotFound bool
	Err      error
}

// GameSubscription streams a viewer's projection of one game: the current state
// first, then one update per committed change. A slow reader only ever skips to
// the latest state.
type GameSubscription struct {
	C <-chan GameUpdate

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe stops the stream and returns once its goroutine has exited. It is
// safe to call more than once.
func (g *GameSubscription) Unsubscribe() {
	g.once.Do(g.cancel)
	<-g.done
}

// SubscribeToGame starts streaming gameID for viewerID. Viewers that are not
// players of an existing game are refused up front.
func (s *GameService) SubscribeToGame(ctx context.Context, gameID, viewerID string) (*GameSubscription, error) {
	if viewerID == "" {
		return nil, apperrors.New(apperrors.CodeUnauthenticated, "player identity is required")
	}
	m, err := readMatch(ctx, s.Store, gameID)
	switch {
	case apperrors.CodeOf(err) == apperrors.CodeGameNotFound:
	case err != nil:
		return nil, storeError(err, "read game failed")
	case !m.HasPlayer(viewerID):
		return nil, apperrors.New(apperrors.CodeNotAParticipant, "you are not a player in this game")
	}

	wctx, cancel := context.WithCancel(ctx)
	w, err := s.Store.Watch(wctx, models.MatchesCollection, gameID)
	if err != nil {
		cancel()
		return nil, storeError(err, "watch game failed")
	}

	updates := make(chan GameUpdate, 1)
	sub := &GameSubscription{C: updates, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer close(updates)
		defer w.Stop()

		for snap := range w.C() {
			update := toUpdate(snap, viewerID)
			select {
			case updates <- update:
			case <-wctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

func toUpdate(snap store.Document, viewerID string) GameUpdate {
	if !snap.Exists {
		return GameUpdate{NotFound: true}
	}
	m, err := decodeMatch(snap)
	if err != nil {
		return GameUpdate{Err: err}
	}
	view, err := Project(m, viewerID)
	if err != nil {
		return GameUpdate{Err: err}
	}
	return GameUpdate{View: view}
}

// SubscribeToGameFunc is the callback form of SubscribeToGame. fn runs on its
// own goroutine; updates still queued when unsubscribe is called are dropped.
func (s *GameService) SubscribeToGameFunc(ctx context.Context, gameID, viewerID string, fn func(GameUpdate)) (func(), error) {
	sub, err := s.SubscribeToGame(ctx, gameID, viewerID)
	if err != nil {
		return nil, err
	}
	var stopped atomic.Bool
	go func() {
		for update := range sub.C {
			if stopped.Load() {
				continue
			}
			fn(update)
		}
	}()
	return func() {
		stopped.Store(true)
		sub.Unsubscribe()
	}, nil
}
