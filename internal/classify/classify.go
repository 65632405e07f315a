// Package classify decides whether a query is an ICD-10 code fragment or
// Spanish free text, and detects a coarse clinical intent from free text.
package classify

import (
	"regexp"
	"strings"
)

// codeShapePattern matches a query whose space-compacted form looks like
// an ICD-10 code: a letter, 2-4 digits, and an optional dotted suffix.
var codeShapePattern = regexp.MustCompile(`^[A-Za-z]\d{2,4}(\.\d{0,2})?$`)

// codePrefixPattern matches queries that merely start like a code (the
// user is still typing).
var codePrefixPattern = regexp.MustCompile(`^[A-Za-z]\d`)

// IsCodeQuery reports whether q should be treated as an ICD-10 code
// fragment rather than natural language. Code queries bypass natural
// language normalization and intent detection entirely.
func IsCodeQuery(q string) bool {
	compact := strings.ReplaceAll(strings.TrimSpace(q), " ", "")
	if compact == "" {
		return false
	}
	if codeShapePattern.MatchString(compact) {
		return true
	}
	return codePrefixPattern.MatchString(compact)
}

// intentKeywords is an ordered list, not a map, so "ties broken by
// iteration order" is a concrete, deterministic property rather than an
// accident of Go's randomized map iteration.
var intentKeywords = []struct {
	Intent   string
	Keywords []string
}{
	{"infection", []string{"infeccion", "fiebre", "sepsis", "absceso", "viral", "bacteriana"}},
	{"cardiometabolic", []string{"diabetes", "hipertension", "colesterol", "cardiaco", "infarto", "hta", "dm2"}},
	{"respiratory", []string{"neumonia", "asma", "bronquitis", "tos", "disnea", "respiratorio"}},
	{"gastrointestinal", []string{"gastrico", "estomago", "diarrea", "nausea", "vomito", "abdominal"}},
	{"musculoskeletal", []string{"dolor articular", "fractura", "artritis", "muscular", "lumbar"}},
	{"neurological", []string{"cefalea", "migrana", "convulsion", "neurologico", "mareo"}},
	{"mental_health", []string{"ansiedad", "depresion", "estres", "insomnio", "panico"}},
	{"oncology", []string{"cancer", "tumor", "oncologico", "neoplasia", "metastasis"}},
	{"renal", []string{"renal", "rinon", "nefropatia", "dialisis"}},
	{"endocrine", []string{"tiroides", "hormonal", "endocrino", "suprarrenal"}},
}

// DetectIntent returns the intent with the most keyword hits (substring
// or whole-token match) against the normalized query, or "" if none hit.
// Ties are broken by the declaration order of intentKeywords above.
func DetectIntent(normalizedQuery string) string {
	if normalizedQuery == "" {
		return ""
	}

	tokens := make(map[string]struct{})
	for _, tok := range strings.Split(normalizedQuery, " ") {
		if tok != "" {
			tokens[tok] = struct{}{}
		}
	}

	best := ""
	bestHits := 0
	for _, entry := range intentKeywords {
		hits := 0
		for _, kw := range entry.Keywords {
			if _, wholeToken := tokens[kw]; wholeToken {
				hits++
				continue
			}
			if strings.Contains(normalizedQuery, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = entry.Intent
		}
	}
	return best
}
