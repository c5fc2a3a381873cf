package alpr

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize maps raw OCR text to canonical plate form: NFD-decompose and
// strip combining marks, uppercase, then keep only A-Z and 0-9. Two reads
// of one physical plate must normalize identically or deduplication breaks.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range norm.NFD.String(raw) {
		if unicode.In(r, unicode.Mn) {
			continue
		}
		r = unicode.ToUpper(r)
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
