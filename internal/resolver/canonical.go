package resolver

import (
	"regexp"
	"strings"
	"unicode"
)

// stopwords are connective/filler tokens that carry no product identity.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "and": {}, "or": {},
	"with": {}, "in": {}, "per": {}, "for": {}, "new": {},
	"pack": {}, "pcs": {}, "pieces": {}, "each": {},
}

// sizeRegexp strips package-size fragments ("1L", "6 x 330ml", "500 g") so
// that differently-sized renderings of the same name canonicalize together.
var sizeRegexp = regexp.MustCompile(`(?i)(?:\d+\s*[x×]\s*)?\d+(?:[.,]\d+)?\s*(?:kg|g|grams?|l|liters?|litres?|ml|cl|oz|lb)\b`)

// Canonicalize reduces a listing name to its identity form: lowercase, no
// punctuation, no package sizes, no stopwords, single spaces.
func Canonicalize(name string) string {
	s := strings.ToLower(name)
	s = sizeRegexp.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		if isNumeric(f) {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// Tokens returns the blocking tokens of a canonical name: every word of at
// least two runes. Candidate products must share at least one.
func Tokens(canonical string) []string {
	fields := strings.Fields(canonical)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		out = append(out, f)
	}
	if len(out) == 0 && canonical != "" {
		out = append(out, canonical)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
