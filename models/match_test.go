package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMatch() Match {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := QueueEntry{CreatedBy: "alice", DisplayName: "Alice", Stance: StanceRegular}
	b := QueueEntry{CreatedBy: "bob", DisplayName: "Bob", Stance: StanceGoofy}
	return NewMatch("m1", a, b, "alice", now)
}

func TestNewMatchIsValid(t *testing.T) {
	m := testMatch()
	require.NoError(t, m.Validate())

	assert.Equal(t, []string{"alice", "bob"}, m.Players)
	assert.Equal(t, GameStatusActive, m.State.Status)
	assert.Equal(t, PhaseSetterRecording, m.State.Phase)
	assert.Equal(t, 1, m.State.RoundNumber)
	assert.Nil(t, m.State.CurrentTrick)
	assert.Nil(t, m.WinnerID)
	assert.Equal(t, StanceGoofy, m.PlayerMeta["bob"].Stance)
}

func TestOpponentAndLetters(t *testing.T) {
	m := testMatch()
	m.State.P2Letters = 3

	assert.Equal(t, "bob", m.Opponent("alice"))
	assert.Equal(t, "alice", m.Opponent("bob"))
	assert.Equal(t, "", m.Opponent("mallory"))
	assert.Equal(t, 3, m.Letters("bob"))
	assert.Equal(t, 0, m.Letters("alice"))
	assert.Equal(t, 0, m.Letters("mallory"))
}

func TestAddLetterClampsAtFive(t *testing.T) {
	m := testMatch()
	m.State.P2Letters = 4

	assert.Equal(t, 5, m.AddLetter("bob"))
	assert.Equal(t, 5, m.AddLetter("bob"))
	assert.Equal(t, 1, m.AddLetter("alice"))
	assert.Equal(t, 0, m.AddLetter("mallory"))
}

func TestValidateRejectsBrokenDocuments(t *testing.T) {
	winner := "alice"
	stranger := "mallory"
	trick := &Trick{Name: "kickflip", SetterID: "alice"}

	tests := []struct {
		name   string
		mutate func(m *Match)
	}{
		{"one player", func(m *Match) { m.Players = m.Players[:1] }},
		{"same player twice", func(m *Match) { m.Players = []string{"alice", "alice"} }},
		{"missing meta", func(m *Match) { delete(m.PlayerMeta, "bob") }},
		{"turn player outside match", func(m *Match) { m.State.TurnPlayerID = stranger }},
		{"letters above five", func(m *Match) { m.State.P1Letters = 6 }},
		{"negative letters", func(m *Match) { m.State.P2Letters = -1 }},
		{"unknown status", func(m *Match) { m.State.Status = "PAUSED" }},
		{"unknown phase", func(m *Match) { m.State.Phase = "WARMUP" }},
		{"zero round", func(m *Match) { m.State.RoundNumber = 0 }},
		{"recording with trick", func(m *Match) { m.State.CurrentTrick = trick }},
		{"attempting without trick", func(m *Match) { m.State.Phase = PhaseDefenderAttempting }},
		{"active with winner", func(m *Match) { m.WinnerID = &winner }},
		{"completed without winner", func(m *Match) {
			m.State.Status = GameStatusCompleted
			m.State.Phase = PhaseVerification
			m.State.P2Letters = MaxLetters
		}},
		{"completed loser short of five", func(m *Match) {
			m.State.Status = GameStatusCompleted
			m.State.Phase = PhaseVerification
			m.WinnerID = &winner
			m.State.P2Letters = 4
		}},
		{"cancelled holding a trick", func(m *Match) {
			m.State.Status = GameStatusCancelled
			m.State.Phase = PhaseDefenderAttempting
			m.State.CurrentTrick = trick
			m.WinnerID = &winner
		}},
		{"winner outside match", func(m *Match) {
			m.State.Status = GameStatusCancelled
			m.WinnerID = &stranger
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMatch()
			tt.mutate(&m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestValidateAcceptsTerminalDocuments(t *testing.T) {
	winner := "alice"

	completed := testMatch()
	completed.State.Status = GameStatusCompleted
	completed.State.Phase = PhaseVerification
	completed.State.P2Letters = MaxLetters
	completed.WinnerID = &winner
	assert.NoError(t, completed.Validate())

	cancelled := testMatch()
	cancelled.State.Status = GameStatusCancelled
	cancelled.State.Phase = PhaseDefenderAttempting
	cancelled.WinnerID = &winner
	assert.NoError(t, cancelled.Validate())
}

func TestLettersString(t *testing.T) {
	for n, want := range map[int]string{-1: "", 0: "", 1: "S", 3: "SKA", 5: "SKATE", 9: "SKATE"} {
		assert.Equal(t, want, LettersString(n), "letters %d", n)
	}
}

func TestQueueEntryStaleness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := QueueEntry{CreatedAt: now.Add(-11 * time.Minute)}

	assert.True(t, entry.StaleAt(now, 10*time.Minute))
	assert.False(t, entry.StaleAt(now, time.Hour))
	assert.False(t, entry.StaleAt(now, 0))
}
