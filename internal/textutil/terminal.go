package textutil

import (
	"strings"
	"unicode"
)

// SanitizeTerminal strips control characters (including the ESC that starts
// ANSI sequences) and bidi marks from s so untrusted chat names and paths
// can be printed to a terminal. Tabs become spaces.
func SanitizeTerminal(s string) string {
	s = SanitizeUTF8(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case unicode.IsControl(r), r == '‎', r == '‏':
			return -1
		default:
			return r
		}
	}, s)
}

// TruncateRunes truncates s to maxRunes runes, adding "..." if truncated.
// This is UTF-8 safe and won't split multi-byte characters.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
