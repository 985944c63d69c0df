package models

const skate = "SKATE"

// LettersString renders a letter count as the spelled prefix of SKATE: 3 -> "SKA".
func LettersString(n int) string {
	n = max(0, min(n, MaxLetters))
	return skate[:n]
}
