package protocol

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const MaxNameLen = 32

// CleanName normalizes a display alias: NFC, control characters removed,
// whitespace collapsed, at most MaxNameLen runes.
func CleanName(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > MaxNameLen {
		s = string(r[:MaxNameLen])
	}
	return s
}

// CleanRoomCode folds a user-typed room code to the canonical form:
// compatibility-normalized, trimmed, upper case.
func CleanRoomCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(s)))
}
