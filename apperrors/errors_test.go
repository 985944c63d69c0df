package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFollowsCode(t *testing.T) {
	tests := []struct {
		code Code
		want Kind
	}{
		{CodeNotAParticipant, KindAuthorization},
		{CodeNotYourTurn, KindValidation},
		{CodeWrongPhase, KindValidation},
		{CodeGameOver, KindState},
		{CodeGameNotFound, KindState},
		{CodeRetryLater, KindConflict},
		{Code("SOMETHING_ELSE"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").Kind)
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", New(CodeNotYourTurn, "it is not your turn"))

	assert.True(t, errors.Is(err, New(CodeNotYourTurn, "")))
	assert.False(t, errors.Is(err, New(CodeWrongPhase, "")))
}

func TestFromKeepsDomainErrorsAndHidesForeignOnes(t *testing.T) {
	domain := WithMetadata(CodeGameOver, "game is over", map[string]string{"game_id": "g1"})
	got := From(fmt.Errorf("wrapped: %w", domain))
	require.NotNil(t, got)
	assert.Equal(t, CodeGameOver, got.Code)
	assert.Equal(t, "g1", got.Metadata["game_id"])

	cause := errors.New("connection reset by peer")
	internal := From(cause)
	assert.Equal(t, CodeInternal, internal.Code)
	assert.Equal(t, "internal error", internal.Message)
	assert.ErrorIs(t, internal, cause)

	assert.Nil(t, From(nil))
}

func TestRetryableOnlyForConflicts(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeRetryLater, "try again")))
	assert.False(t, IsRetryable(New(CodeNotYourTurn, "no")))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 401, CodeUnauthenticated.HTTPStatus())
	assert.Equal(t, 403, CodeNotAParticipant.HTTPStatus())
	assert.Equal(t, 400, CodeSetterCannotRespond.HTTPStatus())
	assert.Equal(t, 404, CodeGameNotFound.HTTPStatus())
	assert.Equal(t, 409, CodeGameOver.HTTPStatus())
	assert.Equal(t, 503, CodeRetryLater.HTTPStatus())
	assert.Equal(t, 500, CodeInternal.HTTPStatus())
}
