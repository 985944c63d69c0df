package services

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"trick-battle/apperrors"
)

const (
	MaxTrickNameLength   = 80
	MaxDescriptionLength = 280
	MaxDisplayNameLength = 40
)

// cleanText trims and NFC-normalizes user supplied text so length limits count
// what players see rather than how it was encoded.
func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func checkLength(s string, limit int, code apperrors.Code, field string) error {
	if n := utf8.RuneCountInString(s); n > limit {
		return apperrors.WithMetadata(code, field+" is too long", map[string]string{
			"max": strconv.Itoa(limit),
		})
	}
	return nil
}
