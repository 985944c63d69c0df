package apperrors

import "github.com/gofiber/fiber/v2"

// Kind groups codes by how a caller should react.
type Kind string

const (
	KindAuthorization Kind = "AUTHORIZATION"
	KindValidation    Kind = "VALIDATION"
	KindState         Kind = "STATE"
	KindConflict      Kind = "CONFLICT"
	KindInternal      Kind = "INTERNAL"
)

// Code is a machine-readable error code.
type Code string

const (
	// Authorization
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeNotAParticipant Code = "NOT_A_PARTICIPANT"
	CodeNotQueueOwner   Code = "NOT_QUEUE_OWNER"

	// Validation
	CodeInvalidAction       Code = "INVALID_ACTION"
	CodeInvalidPayload      Code = "INVALID_PAYLOAD"
	CodeInvalidStance       Code = "INVALID_STANCE"
	CodeTrickNameRequired   Code = "TRICK_NAME_REQUIRED"
	CodeTrickNameTooLong    Code = "TRICK_NAME_TOO_LONG"
	CodeDescriptionTooLong  Code = "DESCRIPTION_TOO_LONG"
	CodeClipRequired        Code = "CLIP_REQUIRED"
	CodeClipNotFound        Code = "CLIP_NOT_FOUND"
	CodeWrongPhase          Code = "WRONG_PHASE"
	CodeNotYourTurn         Code = "NOT_YOUR_TURN"
	CodeSetterCannotRespond Code = "SETTER_CANNOT_RESPOND"

	// State
	CodeGameNotFound   Code = "GAME_NOT_FOUND"
	CodeGameOver       Code = "GAME_OVER"
	CodeQueueEntryGone Code = "QUEUE_ENTRY_GONE"

	// Conflict
	CodeRetryLater Code = "RETRY_LATER"

	CodeInternal Code = "INTERNAL"
)

// Kind maps a code to its taxonomy group.
func (c Code) Kind() Kind {
	switch c {
	case CodeUnauthenticated,
		CodeNotAParticipant,
		CodeNotQueueOwner:
		return KindAuthorization

	case CodeInvalidAction,
		CodeInvalidPayload,
		CodeInvalidStance,
		CodeTrickNameRequired,
		CodeTrickNameTooLong,
		CodeDescriptionTooLong,
		CodeClipRequired,
		CodeClipNotFound,
		CodeWrongPhase,
		CodeNotYourTurn,
		CodeSetterCannotRespond:
		return KindValidation

	case CodeGameNotFound,
		CodeGameOver,
		CodeQueueEntryGone:
		return KindState

	case CodeRetryLater:
		return KindConflict

	default:
		return KindInternal
	}
}

// HTTPStatus maps a code to the status the dispatcher answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case CodeGameNotFound:
		return fiber.StatusNotFound
	case CodeGameOver, CodeQueueEntryGone:
		return fiber.StatusConflict
	case CodeRetryLater:
		return fiber.StatusServiceUnavailable
	}

	switch c.Kind() {
	case KindAuthorization:
		return fiber.StatusForbidden
	case KindValidation:
		return fiber.StatusBadRequest
	case KindState:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
