package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CleanText trims free text, drops control characters other than newlines
// and tabs, and cuts it to at most maxLen bytes without splitting a rune.
func CleanText(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, strings.TrimSpace(input))

	if maxLen <= 0 || len(cleaned) <= maxLen {
		return cleaned
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
		cut--
	}
	return strings.TrimSpace(cleaned[:cut])
}
