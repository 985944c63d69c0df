package services

import (
	"errors"

	"trick-battle/apperrors"
	"trick-battle/store"
)

// storeError turns what comes out of a store call into a domain error. Domain
// errors raised inside a transaction pass through untouched.
func storeError(err error, what string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, store.ErrConflict) {
		return apperrors.Wrap(apperrors.CodeRetryLater, "the game is busy, try again", err)
	}
	return apperrors.Wrap(apperrors.CodeInternal, what, err)
}
