package services

import (
	"time"

	"github.com/gosimple/slug"

	"trick-battle/apperrors"
	"trick-battle/models"
)

// PlayerView is a match as one participant sees it. It is derived on every
// read and never stored.
type PlayerView struct {
	GameID                string            `json:"gameId"`
	Status                models.GameStatus `json:"status"`
	Phase                 models.Phase      `json:"phase"`
	RoundNumber           int               `json:"roundNumber"`
	IsMyTurn              bool              `json:"isMyTurn"`
	IsOffense             bool              `json:"isOffense"`
	MyLetters             int               `json:"myLetters"`
	MyLettersString       string            `json:"myLettersString"`
	OpponentID            string            `json:"opponentId"`
	Opponent              models.PlayerMeta `json:"opponent"`
	OpponentLetters       int               `json:"opponentLetters"`
	OpponentLettersString string            `json:"opponentLettersString"`
	CurrentTrick          *models.Trick     `json:"currentTrick"`
	CurrentTrickSlug      string            `json:"currentTrickSlug,omitempty"`
	IsGameOver            bool              `json:"isGameOver"`
	IWon                  bool              `json:"iWon"`
	WinnerID              *string           `json:"winnerId"`
	UpdatedAt             time.Time         `json:"updatedAt"`
}

// Project derives viewerID's view of m.
func Project(m models.Match, viewerID string) (PlayerView, error) {
	if !m.HasPlayer(viewerID) {
		return PlayerView{}, apperrors.New(apperrors.CodeNotAParticipant, "you are not a player in this game")
	}
	opponent := m.Opponent(viewerID)
	mine, theirs := m.Letters(viewerID), m.Letters(opponent)
	myTurn := m.State.TurnPlayerID == viewerID

	var trickSlug string
	if m.State.CurrentTrick != nil {
		trickSlug = slug.Make(m.State.CurrentTrick.Name)
	}

	return PlayerView{
		GameID:                m.ID,
		Status:                m.State.Status,
		Phase:                 m.State.Phase,
		RoundNumber:           m.State.RoundNumber,
		IsMyTurn:              myTurn,
		IsOffense:             myTurn && m.State.Phase == models.PhaseSetterRecording,
		MyLetters:             mine,
		MyLettersString:       models.LettersString(mine),
		OpponentID:            opponent,
		Opponent:              m.PlayerMeta[opponent],
		OpponentLetters:       theirs,
		OpponentLettersString: models.LettersString(theirs),
		CurrentTrick:          m.State.CurrentTrick,
		CurrentTrickSlug:      trickSlug,
		IsGameOver:            m.State.Status == models.GameStatusCompleted || mine >= models.MaxLetters || theirs >= models.MaxLetters,
		IWon:                  m.WinnerID != nil && *m.WinnerID == viewerID,
		WinnerID:              m.WinnerID,
		UpdatedAt:             m.UpdatedAt,
	}, nil
}
