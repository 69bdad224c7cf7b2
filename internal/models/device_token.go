package models

import (
	"strings"
	"unicode"
)

// NormalizeToken canonicalizes a hex device token for comparison and cache
// keys: whitespace stripped, lowercased. Producers frequently copy tokens
// with embedded spaces out of debug logs.
func NormalizeToken(token string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, token)
	return strings.ToLower(stripped)
}
