package services

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"trick-battle/apperrors"
	"trick-battle/models"
	"trick-battle/store"
)

// ClipVerifier confirms that an uploaded clip reference exists.
type ClipVerifier interface {
	ClipExists(ctx context.Context, ref string) (bool, error)
}

// ActionPayload carries the optional fields of an action. Only SET reads it.
type ActionPayload struct {
	TrickName   string `json:"trickName"`
	Description string `json:"description"`
	ClipRef     string `json:"clipRef"`
}

type GameService struct {
	Store       store.Store
	Clips       ClipVerifier // nil skips clip checks
	RequireClip bool
	Now         func() time.Time
}

func NewGameService(s store.Store, clips ClipVerifier, requireClip bool) *GameService {
	return &GameService{
		Store:       s,
		Clips:       clips,
		RequireClip: requireClip,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// SubmitAction applies one gameplay action and returns the committed match.
func (s *GameService) SubmitAction(ctx context.Context, gameID, actorID string, action Action, payload ActionPayload) (models.Match, error) {
	var apply transition
	switch action {
	case ActionSet:
		apply = setTrick(payload, s.RequireClip)
		if ref := cleanText(payload.ClipRef); ref != "" && s.Clips != nil {
			if err := s.preview(ctx, gameID, actorID, apply); err != nil {
				return models.Match{}, err
			}
			if err := s.verifyClip(ctx, ref); err != nil {
				return models.Match{}, err
			}
		}
	case ActionLand:
		apply = land
	case ActionBail:
		apply = bail
	case ActionForfeit:
		apply = forfeit
	default:
		return models.Match{}, apperrors.WithMetadata(apperrors.CodeInvalidAction, "unknown action",
			map[string]string{"action": string(action)})
	}

	m, err := s.mutate(ctx, gameID, actorID, apply)
	if err != nil {
		return models.Match{}, err
	}
	log.Infof("[Game] %s by %s on %s: status=%s phase=%s round=%d letters=%d-%d",
		action, actorID, gameID, m.State.Status, m.State.Phase, m.State.RoundNumber, m.State.P1Letters, m.State.P2Letters)
	return m, nil
}

// SetterMissed passes the turn after the setter failed their own trick.
func (s *GameService) SetterMissed(ctx context.Context, gameID, actorID string) (models.Match, error) {
	m, err := s.mutate(ctx, gameID, actorID, setterMissed)
	if err != nil {
		return models.Match{}, err
	}
	log.Infof("[Game] setter %s missed on %s, turn passes to %s", actorID, gameID, m.State.TurnPlayerID)
	return m, nil
}

func (s *GameService) verifyClip(ctx context.Context, ref string) error {
	ok, err := s.Clips.ClipExists(ctx, ref)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "could not verify clip", err)
	}
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeClipNotFound, "clip not found", map[string]string{"clipRef": ref})
	}
	return nil
}

// preview runs apply against the current match without writing, so that
// checks with side effects only happen for actions that would be accepted.
func (s *GameService) preview(ctx context.Context, gameID, actorID string, apply transition) error {
	if err := checkIdentity(gameID, actorID); err != nil {
		return err
	}
	m, err := readMatch(ctx, s.Store, gameID)
	if err != nil {
		return storeError(err, "read game failed")
	}
	return s.step(&m, actorID, apply)
}

func checkIdentity(gameID, actorID string) error {
	if actorID == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "player identity is required")
	}
	if gameID == "" {
		return apperrors.New(apperrors.CodeGameNotFound, "game not found")
	}
	return nil
}

// step authorizes actorID, rejects terminal matches and applies the transition.
func (s *GameService) step(m *models.Match, actorID string, apply transition) error {
	if !m.HasPlayer(actorID) {
		return apperrors.New(apperrors.CodeNotAParticipant, "you are not a player in this game")
	}
	if m.State.Status.Terminal() {
		return apperrors.WithMetadata(apperrors.CodeGameOver, "game is already over",
			map[string]string{"status": string(m.State.Status)})
	}
	now := s.Now()
	if err := apply(m, actorID, now); err != nil {
		return err
	}
	m.UpdatedAt = now
	return nil
}

// mutate is the single write path for matches: read fresh inside a transaction,
// authorize, reject terminal matches, apply, validate, write.
func (s *GameService) mutate(ctx context.Context, gameID, actorID string, apply transition) (models.Match, error) {
	if err := checkIdentity(gameID, actorID); err != nil {
		return models.Match{}, err
	}

	var out models.Match
	err := s.Store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := readMatch(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if err := s.step(&m, actorID, apply); err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "transition produced an invalid game", err)
		}
		if err := tx.Set(models.MatchesCollection, m.ID, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			log.Errorf("[Game] mutation of %s by %s failed: %v", gameID, actorID, err)
		}
		return models.Match{}, storeError(err, "game update failed")
	}
	return out, nil
}

func readMatch(ctx context.Context, r store.Reader, gameID string) (models.Match, error) {
	doc, err := r.Get(ctx, models.MatchesCollection, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Match{}, apperrors.WithMetadata(apperrors.CodeGameNotFound, "game not found",
			map[string]string{"gameId": gameID})
	}
	if err != nil {
		return models.Match{}, err
	}
	return decodeMatch(doc)
}

func decodeMatch(doc store.Document) (models.Match, error) {
	var m models.Match
	if err := doc.DataTo(&m); err != nil {
		return models.Match{}, apperrors.Wrap(apperrors.CodeInternal, "stored game is unreadable", err)
	}
	if m.ID == "" {
		m.ID = doc.ID
	}
	return m, nil
}

// GetGame returns the viewer's projection of one game.
func (s *GameService) GetGame(ctx context.Context, gameID, viewerID string) (PlayerView, error) {
	if viewerID == "" {
		return PlayerView{}, apperrors.New(apperrors.CodeUnauthenticated, "player identity is required")
	}
	m, err := readMatch(ctx, s.Store, gameID)
	if err != nil {
		return PlayerView{}, storeError(err, "read game failed")
	}
	return Project(m, viewerID)
}

// GetActiveGames lists the ACTIVE matches playerID takes part in, newest first.
func (s *GameService) GetActiveGames(ctx context.Context, playerID string) ([]models.Match, error) {
	if playerID == "" {
		return nil, apperrors.New(apperrors.CodeUnauthenticated, "player identity is required")
	}
	docs, err := s.Store.Query(ctx, store.Query{
		Collection: models.MatchesCollection,
		Filters: []store.Filter{
			store.Where("players", store.OpArrayContains, playerID),
			store.Where("state.status", store.OpEqual, models.GameStatusActive),
		},
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, storeError(err, "list games failed")
	}
	matches := make([]models.Match, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeMatch(doc)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}
