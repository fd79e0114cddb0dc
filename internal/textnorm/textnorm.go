// Package textnorm canonicalizes free-text chat lines so they compare and display consistently.
package textnorm

import (
	"strings"
	"unicode"
)

// stripped lists every rune removed by Normalize: straight and typographic quotes,
// backticks, periods, em-dashes and commas.
const stripped = "'\"`‘’“”.—,"

// Normalize lowercases s, drops quote/period/em-dash/comma runes and collapses whitespace.
// Passes repeat until the text stops changing, so Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	for {
		next := pass(s)
		if next == s {
			return next
		}
		s = next
	}
}

// Equal reports whether a and b are the same after normalization.
func Equal(a, b string) bool { return Normalize(a) == Normalize(b) }

func pass(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if strings.ContainsRune(stripped, r) {
			continue
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
