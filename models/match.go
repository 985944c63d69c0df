package models

import (
	"fmt"
	"slices"
	"time"
)

// MatchesCollection holds one document per contest, kept forever for history.
const MatchesCollection = "matches"

// MaxLetters is the number of letters (S, K, A, T, E) that eliminates a player.
const MaxLetters = 5

// GameStatus is the lifecycle status of a match.
type GameStatus string

const (
	GameStatusActive    GameStatus = "ACTIVE"
	GameStatusCompleted GameStatus = "COMPLETED" // someone collected 5 letters
	GameStatusCancelled GameStatus = "CANCELLED" // someone forfeited
)

func (s GameStatus) Valid() bool {
	switch s {
	case GameStatusActive, GameStatusCompleted, GameStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further action can be applied.
func (s GameStatus) Terminal() bool {
	return s == GameStatusCompleted || s == GameStatusCancelled
}

// Phase is the step of the current round.
type Phase string

const (
	PhaseSetterRecording    Phase = "SETTER_RECORDING"
	PhaseDefenderAttempting Phase = "DEFENDER_ATTEMPTING"
	PhaseVerification       Phase = "VERIFICATION"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseSetterRecording, PhaseDefenderAttempting, PhaseVerification:
		return true
	}
	return false
}

// PlayerMeta is the display data copied from the queue entry at pairing time.
type PlayerMeta struct {
	DisplayName string `json:"displayName"`
	Photo       string `json:"photo"`
	Stance      Stance `json:"stance"`
}

// Trick is the challenge the setter put up for the current round.
type Trick struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SetterID    string    `json:"setterId"`
	SetAt       time.Time `json:"setAt"`
}

// GameState is embedded in Match. p1Letters belongs to players[0], p2Letters to players[1].
type GameState struct {
	Status       GameStatus `json:"status"`
	Phase        Phase      `json:"phase"`
	TurnPlayerID string     `json:"turnPlayerId"`
	P1Letters    int        `json:"p1Letters"`
	P2Letters    int        `json:"p2Letters"`
	CurrentTrick *Trick     `json:"currentTrick"`
	RoundNumber  int        `json:"roundNumber"`
}

// Match is the authoritative document of one contest.
type Match struct {
	ID         string                `json:"id"`
	Players    []string              `json:"players"`
	PlayerMeta map[string]PlayerMeta `json:"playerMeta"`
	State      GameState             `json:"state"`
	WinnerID   *string               `json:"winnerId"`
	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// NewMatch pairs two players in a fresh round one with starter as the first setter.
func NewMatch(id string, first, second QueueEntry, starter string, now time.Time) Match {
	return Match{
		ID:      id,
		Players: []string{first.CreatedBy, second.CreatedBy},
		PlayerMeta: map[string]PlayerMeta{
			first.CreatedBy:  first.Meta(),
			second.CreatedBy: second.Meta(),
		},
		State: GameState{
			Status:       GameStatusActive,
			Phase:        PhaseSetterRecording,
			TurnPlayerID: starter,
			RoundNumber:  1,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasPlayer reports whether playerID participates in the match.
func (m Match) HasPlayer(playerID string) bool {
	return playerID != "" && slices.Contains(m.Players, playerID)
}

// Opponent returns the other participant, or "" if playerID is not in the match.
func (m Match) Opponent(playerID string) string {
	if len(m.Players) != 2 || !m.HasPlayer(playerID) {
		return ""
	}
	if m.Players[0] == playerID {
		return m.Players[1]
	}
	return m.Players[0]
}

// Letters returns the letter count of playerID.
func (m Match) Letters(playerID string) int {
	switch {
	case len(m.Players) == 2 && m.Players[0] == playerID:
		return m.State.P1Letters
	case len(m.Players) == 2 && m.Players[1] == playerID:
		return m.State.P2Letters
	}
	return 0
}

// AddLetter gives playerID one more letter, clamped at MaxLetters, and returns the new count.
func (m *Match) AddLetter(playerID string) int {
	switch playerID {
	case m.Players[0]:
		m.State.P1Letters = min(m.State.P1Letters+1, MaxLetters)
		return m.State.P1Letters
	case m.Players[1]:
		m.State.P2Letters = min(m.State.P2Letters+1, MaxLetters)
		return m.State.P2Letters
	}
	return 0
}

// Winner returns the winner id or "".
func (m Match) Winner() string {
	if m.WinnerID == nil {
		return ""
	}
	return *m.WinnerID
}

// Validate enforces the document invariants. Every write of a match goes through it.
func (m Match) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("match id is required")
	}
	if len(m.Players) != 2 {
		return fmt.Errorf("match %s: expected 2 players, got %d", m.ID, len(m.Players))
	}
	if m.Players[0] == "" || m.Players[1] == "" || m.Players[0] == m.Players[1] {
		return fmt.Errorf("match %s: players must be two distinct ids", m.ID)
	}
	for _, p := range m.Players {
		if _, ok := m.PlayerMeta[p]; !ok {
			return fmt.Errorf("match %s: missing playerMeta for %s", m.ID, p)
		}
	}

	s := m.State
	if !s.Status.Valid() {
		return fmt.Errorf("match %s: invalid status %q", m.ID, s.Status)
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("match %s: invalid phase %q", m.ID, s.Phase)
	}
	if !m.HasPlayer(s.TurnPlayerID) {
		return fmt.Errorf("match %s: turnPlayerId %q is not a player", m.ID, s.TurnPlayerID)
	}
	if s.P1Letters < 0 || s.P1Letters > MaxLetters || s.P2Letters < 0 || s.P2Letters > MaxLetters {
		return fmt.Errorf("match %s: letters out of range (%d, %d)", m.ID, s.P1Letters, s.P2Letters)
	}
	if s.RoundNumber < 1 {
		return fmt.Errorf("match %s: roundNumber must be positive", m.ID)
	}
	if m.WinnerID != nil && !m.HasPlayer(*m.WinnerID) {
		return fmt.Errorf("match %s: winner %q is not a player", m.ID, *m.WinnerID)
	}

	switch s.Status {
	case GameStatusActive:
		if m.WinnerID != nil {
			return fmt.Errorf("match %s: active match cannot have a winner", m.ID)
		}
		if (s.Phase == PhaseSetterRecording) != (s.CurrentTrick == nil) {
			return fmt.Errorf("match %s: phase %s inconsistent with current trick", m.ID, s.Phase)
		}
		if s.Phase == PhaseVerification {
			return fmt.Errorf("match %s: active match cannot be in %s", m.ID, s.Phase)
		}
	case GameStatusCompleted:
		if m.WinnerID == nil {
			return fmt.Errorf("match %s: completed match needs a winner", m.ID)
		}
		if m.Letters(m.Opponent(*m.WinnerID)) != MaxLetters {
			return fmt.Errorf("match %s: completed without %d letters on the loser", m.ID, MaxLetters)
		}
		fallthrough
	case GameStatusCancelled:
		if s.CurrentTrick != nil {
			return fmt.Errorf("match %s: finished match cannot hold a trick", m.ID)
		}
	}
	return nil
}
