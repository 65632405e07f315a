package store

import (
	"sort"
	"strconv"
	"strings"

	"github.com/davidguzman1991/clinical-core/internal/domain"
)

// compactCode uppercases and strips whitespace and dot separators, used
// for the exact/prefix code comparisons that only apply to code
// queries (mirrors sql_store.go's upper(replace(code, '.', '')) so the
// in-memory and Postgres paths agree on what "compact" means).
func compactCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ".", "")
	return s
}

// computeSignals evaluates the per-candidate match signals of spec
// section 4.4 for a single extended row against one search attempt.
// similarity(a, b) is the store's trigram-similarity primitive; pass a
// function that always returns 0 when the store does not support
// trigrams (spec section 4.3's trigram-similarity contract).
func computeSignals(row domain.ICD10Code, p ExtendedSearchParams, similarity func(a, b string) float64) domain.Candidate {
	c := domain.Candidate{
		Code:                  row.Code,
		Description:           row.Description,
		DescriptionNormalized: row.DescriptionNormalized,
		SearchText:            row.SearchText,
		Priority:              row.Priority,
		Tags:                  row.Tags,
		Source:                domain.SourceExtended,
	}

	compactRowCode := compactCode(row.Code)

	if p.QueryIsCode {
		c.ExactCodeMatch = compactRowCode == p.CompactQuery
		c.PrefixMatch = strings.HasPrefix(compactRowCode, p.CompactQuery)
		return c
	}

	haystack := row.DescriptionNormalized + " " + row.SearchText
	c.DescriptionMatch = p.NormalizedQuery != "" && strings.Contains(haystack, p.NormalizedQuery)

	if p.UseSimilarity && len(p.NormalizedQuery) >= 3 {
		simDesc := similarity(p.NormalizedQuery, row.DescriptionNormalized)
		simSearch := similarity(p.NormalizedQuery, row.SearchText)
		c.Similarity = maxFloat(simDesc, simSearch)
	}

	hits := 0
	for _, tok := range p.ScoringTokens {
		if strings.Contains(haystack, tok) {
			hits++
		}
	}
	c.TokenHitCount = hits

	return c
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// admits applies spec section 4.4's admission predicate (WHERE clause)
// to a computed candidate.
func admits(c domain.Candidate, p ExtendedSearchParams, similarityThreshold float64) bool {
	if p.QueryIsCode {
		return c.ExactCodeMatch || c.PrefixMatch
	}

	scoringTokenCount := len(p.ScoringTokens)
	minHits := p.MinTokenHits
	if minHits <= 0 {
		minHits = 2
	}

	switch {
	case scoringTokenCount >= 2:
		return c.DescriptionMatch ||
			c.TokenHitCount >= minHits ||
			(c.Similarity >= similarityThreshold && c.TokenHitCount >= minHits)
	default:
		return c.DescriptionMatch || c.Similarity >= similarityThreshold
	}
}

// sortCandidatesCode orders code-query results by
// (3*exact + 2*prefix + 0.1*priority) desc, code asc.
func sortCandidatesCode(cands []domain.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		si := codeOrderScore(cands[i])
		sj := codeOrderScore(cands[j])
		if si != sj {
			return si > sj
		}
		return cands[i].Code < cands[j].Code
	})
}

func codeOrderScore(c domain.Candidate) float64 {
	score := 0.0
	if c.ExactCodeMatch {
		score += 3
	}
	if c.PrefixMatch {
		score += 2
	}
	score += 0.1 * float64(c.Priority)
	return score
}

// sortCandidatesNL orders natural-language results by
// (3*exact + 2*prefix + 1.5*desc + 0.8*hits + similarity + 0.1*priority)
// desc, code asc.
func sortCandidatesNL(cands []domain.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		si := nlOrderScore(cands[i])
		sj := nlOrderScore(cands[j])
		if si != sj {
			return si > sj
		}
		return cands[i].Code < cands[j].Code
	})
}

func nlOrderScore(c domain.Candidate) float64 {
	score := 0.0
	if c.ExactCodeMatch {
		score += 3
	}
	if c.PrefixMatch {
		score += 2
	}
	if c.DescriptionMatch {
		score += 1.5
	}
	score += 0.8 * float64(c.TokenHitCount)
	score += c.Similarity
	score += 0.1 * float64(c.Priority)
	return score
}

// filterByTags excludes candidates whose Tags do not contain any of the
// requested tags. Despite the source docstring calling this "bonus, not
// exclusion", observed behavior is exclusion; see DESIGN.md.
func filterByTags(cands []domain.Candidate, tagsFilter []string) []domain.Candidate {
	if len(tagsFilter) == 0 {
		return cands
	}
	out := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		if hasAnyTag(c.Tags, tagsFilter) {
			out = append(out, c)
		}
	}
	return out
}

func hasAnyTag(tags string, wanted []string) bool {
	for _, w := range wanted {
		if strings.Contains(tags, w) {
			return true
		}
	}
	return false
}

// priorityFromAny coerces the three storage shapes observed in the
// source system (integer, categorical label, float) to a single
// domain.Priority field at the adapter boundary.
func priorityFromAny(v any) domain.Priority {
	switch t := v.(type) {
	case nil:
		return domain.PriorityEmpty
	case float64:
		return domain.Priority(t)
	case int:
		return domain.Priority(float64(t))
	case int32:
		return domain.Priority(float64(t))
	case int64:
		return domain.Priority(float64(t))
	case string:
		if t == "" {
			return domain.PriorityEmpty
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return domain.Priority(f)
		}
		return domain.PriorityFromLabel(strings.ToLower(t))
	default:
		return domain.PriorityEmpty
	}
}
