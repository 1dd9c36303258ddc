package ocr

import (
	"regexp"
	"strings"
)

var (
	// a Cyrillic letter separated from the next by stray whitespace
	reLetterGap  = regexp.MustCompile(`([а-яА-ЯЁё])\s+([а-яА-ЯЁё])`)
	reSpacePunct = regexp.MustCompile(`\s+([,.;:])`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
)

// Normalize repairs known recognition artifacts in extracted text. It is
// idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return s
	}

	// collapse inter-letter spacing to a fixpoint; a single pass leaves
	// every other gap of an "а б в" run untouched. The fixpoint also
	// recovers split tokens like "р уб" and "о т", so no per-word repair
	// table is needed.
	for {
		next := reLetterGap.ReplaceAllString(s, "$1$2")
		if next == s {
			break
		}
		s = next
	}

	s = reSpacePunct.ReplaceAllString(s, "$1")
	s = reMultiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
