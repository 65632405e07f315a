// Package normalize implements text normalization for Spanish clinical
// free-text queries and ICD-10 code fragments: accent folding, tokenization,
// stopword stripping, and code-shape coercion.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// spanishStopwords is the fixed stopword set stripped by NormalizeForNL.
var spanishStopwords = map[string]struct{}{
	"de": {}, "la": {}, "del": {}, "el": {}, "los": {}, "las": {}, "y": {},
	"en": {}, "con": {}, "por": {}, "para": {}, "al": {}, "un": {}, "una": {},
	"unos": {}, "unas": {}, "a": {}, "o": {}, "u": {}, "que": {}, "se": {},
	"su": {},
}

var tokenPattern = regexp.MustCompile(`[a-z0-9.]+`)
var compactICDPattern = regexp.MustCompile(`^[A-Z]\d{3}$`)

// Normalize trims, lowercases, strips diacritics, extracts
// `[a-z0-9.]+` tokens, and collapses whitespace to single spaces.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	s = stripDiacritics(s)
	tokens := tokenPattern.FindAllString(s, -1)
	return strings.Join(tokens, " ")
}

// NormalizeForNL additionally strips the fixed Spanish stopword set,
// falling back to the unfiltered tokens if filtering would leave nothing
// (safety fallback: stopword-only queries must not vanish).
func NormalizeForNL(s string) string {
	base := Normalize(s)
	if base == "" {
		return base
	}

	tokens := strings.Split(base, " ")
	filtered := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, stop := spanishStopwords[tok]; stop {
			continue
		}
		filtered = append(filtered, tok)
	}

	if len(filtered) == 0 {
		return base
	}
	return strings.Join(filtered, " ")
}

// NormalizeICDInput uppercases the input and, if its space-compacted form
// matches a bare 4-character code like "E119", inserts the dot that makes
// it "E11.9". Any other shape is returned uppercased as-is.
func NormalizeICDInput(s string) string {
	compact := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if compactICDPattern.MatchString(compact) {
		return compact[:3] + "." + compact[3:]
	}
	return compact
}

// Tokens splits an already-normalized string on single spaces, discarding
// empty tokens.
func Tokens(normalized string) []string {
	if normalized == "" {
		return nil
	}
	parts := strings.Split(normalized, " ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stripDiacritics NFKD-decomposes s and drops combining marks, the Go
// equivalent of Python's unicodedata NFKD + category-M filter.
func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, dropMarks{})
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// dropMarks is a transform.Transformer that removes Unicode combining
// marks (category Mn) left behind by NFKD decomposition.
type dropMarks struct{ transform.NopResetter }

func (dropMarks) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && size <= 1 {
			if !atEOF && !utf8.FullRune(src[nSrc:]) {
				return nDst, nSrc, transform.ErrShortSrc
			}
		}
		if !unicode.Is(unicode.Mn, r) {
			if nDst+size > len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			n := copy(dst[nDst:], src[nSrc:nSrc+size])
			nDst += n
		}
		nSrc += size
	}
	return nDst, nSrc, nil
}
