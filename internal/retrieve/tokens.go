// Package retrieve builds candidate rows for one search attempt: it
// derives scoring tokens from a normalized query, drives the store's
// extended search behind a circuit breaker, and falls back to a
// code-only lookup when the primary path is unhealthy.
package retrieve

import "strings"

// minScoringTokenLength is the shortest token considered for
// token_hit_count (spec section 4.4).
const minScoringTokenLength = 4

// maxScoringTokens caps how many tokens feed token_hit_count.
const maxScoringTokens = 5

// ExtractScoringTokens derives the scoring-token set from an
// already-normalized query: tokens of length >= 4, capped at 5, order
// preserved. normalize.Normalize/NormalizeForNL always rebuild their
// output via strings.Join(tokens, " "), so a normalized query never
// carries a meaningful trailing space for this function to key off of.
func ExtractScoringTokens(normalizedQuery string) []string {
	fields := strings.Fields(normalizedQuery)
	if len(fields) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= minScoringTokenLength {
			tokens = append(tokens, f)
		}
	}

	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) > maxScoringTokens {
		tokens = tokens[:maxScoringTokens]
	}
	return tokens
}
