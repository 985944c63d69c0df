// Package apperrors carries reason-coded errors from the game core out to callers.
package apperrors

import "errors"

// Error is the domain error type: a machine-readable code plus the kind that
// decides how callers should react to it.
type Error struct {
	Kind     Kind              // Authorization, Validation, State, Conflict, Internal
	Code     Code              // Machine-readable reason
	Message  string            // Human-readable reason, safe to show to players
	Metadata map[string]string // Extra context (game id, phase, ...)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error; the kind is derived from the code.
func New(code Code, message string) *Error {
	return &Error{
		Kind:    code.Kind(),
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error carrying extra context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Kind:     code.Kind(),
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Kind:    code.Kind(),
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// From extracts the domain error from err. Anything that is not a domain error
// becomes INTERNAL so the original message never leaks to players.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(CodeInternal, "internal error", err)
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

// IsRetryable reports whether the caller may simply try the same request again.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}
