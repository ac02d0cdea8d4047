package models

import "regexp"

// Symbol grammar: uppercase alphanumeric with optional '.' or '-' after the
// first character, 1-10 chars total (covers listings like BRK.B and BF-B).
var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.-]{0,9}$`)

func ValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}
