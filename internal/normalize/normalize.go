package normalize

import (
	"crypto/sha256"
	"fmt"
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.StrictPolicy()

// Text strips markup and collapses whitespace so equal content from
// different sources normalizes to the same string. Deterministic: repeated
// calls on the same input always return the same output.
func Text(raw string) string {
	clean := policy.Sanitize(raw)
	clean = html.UnescapeString(clean)
	return strings.Join(strings.Fields(clean), " ")
}

// Tokens returns the lowercased unique word set of s, punctuation stripped.
// Order follows first occurrence so token comparisons stay deterministic.
func Tokens(s string) []string {
	seen := make(map[string]bool)
	var tokens []string

	for _, field := range strings.Fields(strings.ToLower(s)) {
		token := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens
}

// ContentHash is a stable key for cache lookups over normalized text.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}
