package services

import (
	"strings"
	"time"

	"trick-battle/apperrors"
	"trick-battle/models"
)

// Action is a gameplay move submitted through SubmitAction.
type Action string

const (
	ActionSet     Action = "SET"
	ActionLand    Action = "LAND"
	ActionBail    Action = "BAIL"
	ActionForfeit Action = "FORFEIT"
)

// ParseAction accepts an action name in any case.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionSet, ActionLand, ActionBail, ActionForfeit:
		return a, nil
	}
	return "", apperrors.WithMetadata(apperrors.CodeInvalidAction, "unknown action", map[string]string{"action": s})
}

// transition mutates a fresh copy of an ACTIVE match on behalf of a participant.
type transition func(m *models.Match, actorID string, now time.Time) error

func wrongPhase(m *models.Match, want models.Phase) error {
	return apperrors.WithMetadata(apperrors.CodeWrongPhase, "action not allowed in this phase", map[string]string{
		"phase":    string(m.State.Phase),
		"expected": string(want),
	})
}

// setTrick checks the payload only once the actor is known to be the setter.
// The clip itself is verified by the caller.
func setTrick(p ActionPayload, requireClip bool) transition {
	return func(m *models.Match, actorID string, now time.Time) error {
		if m.State.Phase != models.PhaseSetterRecording {
			return wrongPhase(m, models.PhaseSetterRecording)
		}
		if actorID != m.State.TurnPlayerID {
			return apperrors.New(apperrors.CodeNotYourTurn, "it is not your turn to set")
		}
		name := cleanText(p.TrickName)
		if name == "" {
			return apperrors.New(apperrors.CodeTrickNameRequired, "trick name is required")
		}
		if err := checkLength(name, MaxTrickNameLength, apperrors.CodeTrickNameTooLong, "trick name"); err != nil {
			return err
		}
		description := cleanText(p.Description)
		if err := checkLength(description, MaxDescriptionLength, apperrors.CodeDescriptionTooLong, "description"); err != nil {
			return err
		}
		if requireClip && cleanText(p.ClipRef) == "" {
			return apperrors.New(apperrors.CodeClipRequired, "a clip of the trick is required")
		}
		m.State.Phase = models.PhaseDefenderAttempting
		m.State.CurrentTrick = &models.Trick{
			Name:        name,
			Description: description,
			SetterID:    actorID,
			SetAt:       now,
		}
		return nil
	}
}

func requireDefender(m *models.Match, actorID string) error {
	if m.State.Phase != models.PhaseDefenderAttempting {
		return wrongPhase(m, models.PhaseDefenderAttempting)
	}
	if actorID == m.State.TurnPlayerID {
		return apperrors.New(apperrors.CodeSetterCannotRespond, "the setter cannot respond to their own trick")
	}
	return nil
}

// land: the defender matched the trick, the setter keeps control.
func land(m *models.Match, actorID string, _ time.Time) error {
	if err := requireDefender(m, actorID); err != nil {
		return err
	}
	nextRound(m)
	return nil
}

// bail: the defender missed and takes a letter. The fifth letter ends the game
// with the setter as winner.
func bail(m *models.Match, actorID string, _ time.Time) error {
	if err := requireDefender(m, actorID); err != nil {
		return err
	}
	if m.AddLetter(actorID) >= models.MaxLetters {
		winner := m.State.TurnPlayerID
		m.State.Status = models.GameStatusCompleted
		m.State.Phase = models.PhaseVerification
		m.State.CurrentTrick = nil
		m.WinnerID = &winner
		return nil
	}
	nextRound(m)
	return nil
}

// forfeit: either player concedes at any point of an active match.
func forfeit(m *models.Match, actorID string, _ time.Time) error {
	winner := m.Opponent(actorID)
	m.State.Status = models.GameStatusCancelled
	m.State.CurrentTrick = nil
	m.WinnerID = &winner
	return nil
}

// setterMissed: the setter could not reproduce their own trick. The turn passes
// without anyone taking a letter.
func setterMissed(m *models.Match, actorID string, _ time.Time) error {
	if m.State.Phase != models.PhaseDefenderAttempting {
		return wrongPhase(m, models.PhaseDefenderAttempting)
	}
	if actorID != m.State.TurnPlayerID {
		return apperrors.New(apperrors.CodeNotYourTurn, "only the setter can report a missed set")
	}
	m.State.TurnPlayerID = m.Opponent(actorID)
	nextRound(m)
	return nil
}

func nextRound(m *models.Match) {
	m.State.Phase = models.PhaseSetterRecording
	m.State.CurrentTrick = nil
	m.State.RoundNumber++
}
