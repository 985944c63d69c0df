package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trick-battle/apperrors"
	"trick-battle/models"
	"trick-battle/services"
	"trick-battle/store"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	mem := store.NewMemory(store.Options{MaxAttempts: 50})
	t.Cleanup(func() { mem.Close() })

	mm := services.NewMatchmakingService(mem, services.MatchmakingConfig{
		LookupAttempts: 3,
		LookupDelay:    5 * time.Millisecond,
	})
	mm.Coin = func(waiting, seeker string) string { return waiting }
	games := services.NewGameService(mem, nil, false)

	app := fiber.New()
	SetupRoutes(app, New(mm, games, time.Second), nil)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, userID string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(data)
		}
		reader = strings.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := app.Test(req, 3000)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Kind  string `json:"kind"`
}

func expectError(t *testing.T, resp *http.Response, status int, code apperrors.Code) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	var body errorResponse
	decodeInto(t, resp, &body)
	assert.Equal(t, string(code), body.Code)
	assert.Equal(t, string(code.Kind()), body.Kind)
	assert.NotEmpty(t, body.Error)
}

// pair queues alice then pairs bob with her; alice sets first.
func pair(t *testing.T, app *fiber.App) (queueID, gameID string) {
	t.Helper()
	resp := call(t, app, "POST", "/matchmaking/quick", "alice", fiber.Map{"displayName": "Alice", "stance": "regular"})
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	var waiting services.QuickMatchResult
	decodeInto(t, resp, &waiting)
	require.True(t, waiting.IsWaiting)

	resp = call(t, app, "POST", "/matchmaking/quick", "bob", fiber.Map{"displayName": "Bob", "stance": "goofy"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var paired services.QuickMatchResult
	decodeInto(t, resp, &paired)
	require.False(t, paired.IsWaiting)
	require.Empty(t, paired.QueueID)
	return waiting.QueueID, paired.GameID
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	resp := call(t, app, "GET", "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRoutesRequireUser(t *testing.T) {
	app := newTestApp(t)
	expectError(t, call(t, app, "GET", "/games/active", "", nil), fiber.StatusUnauthorized, apperrors.CodeUnauthenticated)
	expectError(t, call(t, app, "GET", "/stream/games/g1", "", nil), fiber.StatusUnauthorized, apperrors.CodeUnauthenticated)
}

func TestPlayThroughHTTP(t *testing.T) {
	app := newTestApp(t)
	_, gameID := pair(t, app)

	resp := call(t, app, "GET", "/games/active", "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var active struct {
		Games []services.PlayerView `json:"games"`
	}
	decodeInto(t, resp, &active)
	require.Len(t, active.Games, 1)
	assert.Equal(t, gameID, active.Games[0].GameID)
	assert.False(t, active.Games[0].IsMyTurn)
	assert.Equal(t, "alice", active.Games[0].OpponentID)

	resp = call(t, app, "POST", "/games/"+gameID+"/actions", "alice", fiber.Map{"action": "set", "trickName": "kickflip"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var view services.PlayerView
	decodeInto(t, resp, &view)
	assert.Equal(t, models.PhaseDefenderAttempting, view.Phase)
	require.NotNil(t, view.CurrentTrick)
	assert.Equal(t, "kickflip", view.CurrentTrick.Name)
	assert.Equal(t, "kickflip", view.CurrentTrickSlug)

	resp = call(t, app, "POST", "/games/"+gameID+"/actions", "bob", fiber.Map{"action": "BAIL"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &view)
	assert.Equal(t, 1, view.MyLetters)
	assert.Equal(t, "S", view.MyLettersString)
	assert.Equal(t, models.PhaseSetterRecording, view.Phase)
	assert.False(t, view.IsMyTurn)

	resp = call(t, app, "POST", "/games/"+gameID+"/actions", "alice", fiber.Map{"action": "SET", "trickName": "tre flip"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp = call(t, app, "POST", "/games/"+gameID+"/setter-missed", "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &view)
	assert.False(t, view.IsMyTurn)

	resp = call(t, app, "GET", "/games/"+gameID, "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &view)
	assert.True(t, view.IsOffense)

	resp = call(t, app, "POST", "/games/"+gameID+"/actions", "alice", fiber.Map{"action": "FORFEIT"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &view)
	assert.False(t, view.IWon)
	assert.Equal(t, models.GameStatusCancelled, view.Status)
	require.NotNil(t, view.WinnerID)
	assert.Equal(t, "bob", *view.WinnerID)

	expectError(t, call(t, app, "POST", "/games/"+gameID+"/actions", "bob", fiber.Map{"action": "SET", "trickName": "heelflip"}),
		fiber.StatusConflict, apperrors.CodeGameOver)

	resp = call(t, app, "GET", "/games/active", "alice", nil)
	decodeInto(t, resp, &active)
	assert.Empty(t, active.Games)
}

func TestActionErrors(t *testing.T) {
	app := newTestApp(t)
	_, gameID := pair(t, app)
	path := "/games/" + gameID + "/actions"

	expectError(t, call(t, app, "POST", path, "alice", fiber.Map{"action": "OLLIE"}), fiber.StatusBadRequest, apperrors.CodeInvalidAction)
	expectError(t, call(t, app, "POST", path, "alice", `{"action":`), fiber.StatusBadRequest, apperrors.CodeInvalidPayload)
	expectError(t, call(t, app, "POST", path, "alice", fiber.Map{"action": "SET"}), fiber.StatusBadRequest, apperrors.CodeTrickNameRequired)
	expectError(t, call(t, app, "POST", path, "bob", fiber.Map{"action": "SET", "trickName": "kickflip"}), fiber.StatusBadRequest, apperrors.CodeNotYourTurn)
	expectError(t, call(t, app, "POST", path, "bob", fiber.Map{"action": "LAND"}), fiber.StatusBadRequest, apperrors.CodeWrongPhase)
	expectError(t, call(t, app, "POST", path, "carol", fiber.Map{"action": "FORFEIT"}), fiber.StatusForbidden, apperrors.CodeNotAParticipant)

	expectError(t, call(t, app, "GET", "/games/"+gameID, "carol", nil), fiber.StatusForbidden, apperrors.CodeNotAParticipant)
	expectError(t, call(t, app, "GET", "/games/missing", "alice", nil), fiber.StatusNotFound, apperrors.CodeGameNotFound)
	expectError(t, call(t, app, "POST", "/matchmaking/quick", "dave", fiber.Map{"stance": "mongo"}), fiber.StatusBadRequest, apperrors.CodeInvalidStance)
}

func TestCancelQuickMatch(t *testing.T) {
	app := newTestApp(t)

	resp := call(t, app, "POST", "/matchmaking/quick", "alice", fiber.Map{"displayName": "Alice", "stance": "regular"})
	var waiting services.QuickMatchResult
	decodeInto(t, resp, &waiting)

	expectError(t, call(t, app, "DELETE", "/matchmaking/"+waiting.QueueID, "bob", nil), fiber.StatusForbidden, apperrors.CodeNotQueueOwner)

	resp = call(t, app, "DELETE", "/matchmaking/"+waiting.QueueID, "alice", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp = call(t, app, "DELETE", "/matchmaking/"+waiting.QueueID, "alice", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	// with the entry gone bob waits instead of pairing
	resp = call(t, app, "POST", "/matchmaking/quick", "bob", fiber.Map{"displayName": "Bob", "stance": "goofy"})
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestStreamQueueReportsMatch(t *testing.T) {
	app := newTestApp(t)
	queueID, gameID := pair(t, app)

	resp := call(t, app, "GET", "/stream/matchmaking/"+queueID, "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: matched\n")
	assert.Contains(t, string(body), `"gameId":"`+gameID+`"`)
}

func TestStreamRejectsOutsiders(t *testing.T) {
	app := newTestApp(t)
	queueID, gameID := pair(t, app)

	expectError(t, call(t, app, "GET", "/stream/games/"+gameID, "carol", nil), fiber.StatusForbidden, apperrors.CodeNotAParticipant)

	resp := call(t, app, "POST", "/matchmaking/quick", "carol", fiber.Map{"displayName": "Carol", "stance": "regular"})
	var waiting services.QuickMatchResult
	decodeInto(t, resp, &waiting)
	require.NotEqual(t, queueID, waiting.QueueID)
	expectError(t, call(t, app, "GET", "/stream/matchmaking/"+waiting.QueueID, "alice", nil), fiber.StatusForbidden, apperrors.CodeNotQueueOwner)
}

func TestWriteGameUpdate(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, writeGameUpdate(w, "g1", services.GameUpdate{View: services.PlayerView{GameID: "g1", Phase: models.PhaseSetterRecording}}))
	require.NoError(t, writeGameUpdate(w, "g1", services.GameUpdate{NotFound: true}))
	require.NoError(t, writeGameUpdate(w, "g1", services.GameUpdate{Err: apperrors.New(apperrors.CodeNotAParticipant, "nope")}))
	require.NoError(t, writeComment(w))

	frames := strings.Split(strings.TrimSuffix(buf.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 4)
	assert.True(t, strings.HasPrefix(frames[0], "event: game\ndata: {"))
	assert.Contains(t, frames[0], `"phase":"SETTER_RECORDING"`)
	assert.Equal(t, "event: not_found\ndata: {\"gameId\":\"g1\"}", frames[1])
	assert.Contains(t, frames[2], "event: error\n")
	assert.Contains(t, frames[2], `"code":"NOT_A_PARTICIPANT"`)
	assert.Equal(t, ":", frames[3])
}

func TestRetryLaterAdvertisesRetryAfter(t *testing.T) {
	app := fiber.New()
	app.Get("/busy", func(c *fiber.Ctx) error {
		return respondError(c, apperrors.New(apperrors.CodeRetryLater, "try again"))
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return respondError(c, io.ErrUnexpectedEOF)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/busy", nil))
	require.NoError(t, err)
	assert.Equal(t, retryAfterSeconds, resp.Header.Get(fiber.HeaderRetryAfter))
	expectError(t, resp, fiber.StatusServiceUnavailable, apperrors.CodeRetryLater)

	resp, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	expectError(t, resp, fiber.StatusInternalServerError, apperrors.CodeInternal)
}
