// Package rank scores and orders retrieved ICD-10 candidates. It
// collapses the two overlapping scoring engines the source codebase
// carried (spec section 9's "scoring engine duplication" note) into a
// single ScoringEngine that branches on whether the query was a code
// query.
package rank

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidguzman1991/clinical-core/internal/config"
	"github.com/davidguzman1991/clinical-core/internal/domain"
)

// ScoringEngine turns candidates into explainable, sorted results.
type ScoringEngine struct {
	weights             config.RankWeights
	similarityThreshold float64
}

// New creates a ScoringEngine from the resolved configuration.
func New(cfg *config.SearchConfig) *ScoringEngine {
	return &ScoringEngine{weights: cfg.Weights, similarityThreshold: cfg.SimilarityThreshold}
}

// Rank scores every candidate per spec section 4.5's formula, sorts by
// score desc then code asc, and returns the explainable result set.
// intent is the empty string when intent detection is disabled or
// nothing was detected; label is used verbatim as the display label.
func (e *ScoringEngine) Rank(candidates []domain.Candidate, isCodeQuery bool, intent string) []domain.RankedResult {
	results := make([]domain.RankedResult, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, e.score(c, isCodeQuery, intent))
	}
	sortResults(results)
	return results
}

func (e *ScoringEngine) score(c domain.Candidate, isCodeQuery bool, intent string) domain.RankedResult {
	intentAligned := intent != "" && strings.Contains(c.Tags, intent)
	tagMatched := strings.TrimSpace(c.Tags) != ""

	features := domain.MatchFeatures{
		ExactCodeMatch:     c.ExactCodeMatch,
		PrefixMatch:        c.PrefixMatch,
		DescriptionMatch:   c.DescriptionMatch,
		Similarity:         c.Similarity,
		TokenHitCount:      c.TokenHitCount,
		Priority:           c.Priority,
		Tags:               c.Tags,
		IntentAligned:      intentAligned,
		TagMatched:         tagMatched,
		Intent:             intent,
		DictionaryMatched:  c.DictionaryPriority > 0,
		DictionaryPriority: c.DictionaryPriority,
	}

	return domain.RankedResult{
		Code:          c.Code,
		Label:         c.Description,
		Score:         e.computeScore(features),
		Source:        c.Source,
		MatchFeatures: features,
		Explanation:   explain(features),
	}
}

func (e *ScoringEngine) computeScore(f domain.MatchFeatures) float64 {
	w := e.weights
	score := 0.0
	if f.ExactCodeMatch {
		score += w.ExactMatch
	}
	if f.PrefixMatch {
		score += w.PrefixMatch
	}
	if f.DescriptionMatch {
		score += w.DescriptionMatch
	}
	score += w.Similarity * 100 * f.Similarity
	score += w.PriorityBoost * float64(f.Priority)
	if f.IntentAligned {
		score += w.IntentBonus
	}
	if f.TagMatched {
		score += w.TagMatch
	}
	score += w.DictionaryBoost * float64(f.DictionaryPriority)
	return score
}

// explain renders the comma-separated list of rule names that fired,
// per spec section 4.5, falling back to "fuzzy" when nothing did.
func explain(f domain.MatchFeatures) string {
	var parts []string
	if f.ExactCodeMatch {
		parts = append(parts, "exact code")
	}
	if f.PrefixMatch {
		parts = append(parts, "prefix")
	}
	if f.DescriptionMatch {
		parts = append(parts, "description")
	}
	if f.Similarity > 0 {
		parts = append(parts, fmt.Sprintf("similarity=%.2f", f.Similarity))
	}
	if f.Priority > 0 {
		parts = append(parts, fmt.Sprintf("priority=%.0f", float64(f.Priority)*10))
	}
	if f.IntentAligned {
		parts = append(parts, "intent="+f.Intent)
	}
	if f.DictionaryMatched {
		parts = append(parts, fmt.Sprintf("dictionary_priority=%d", f.DictionaryPriority))
	}
	if len(parts) == 0 {
		return "fuzzy"
	}
	return strings.Join(parts, ", ")
}

func sortResults(results []domain.RankedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Code < results[j].Code
	})
}

// anatomicalBoostDelta is added to a candidate's similarity signal when
// its tags align with the query's detected anatomical system (spec
// section 4.5, "applied after ranking, not during SQL").
const anatomicalBoostDelta = 0.15

// ApplyAnatomicalBoost adds anatomicalBoostDelta to the similarity
// signal (and therefore the score) of every result whose tags contain
// the detected anatomical system, then re-sorts. It is a dedicated
// post-ranking pass, never folded into Rank/Score, matching the
// original_source anatomical_boost_service's separation of concerns.
func (e *ScoringEngine) ApplyAnatomicalBoost(results []domain.RankedResult, anatomicalSystem string) []domain.RankedResult {
	if anatomicalSystem == "" {
		return results
	}

	for i := range results {
		if !strings.Contains(results[i].MatchFeatures.Tags, anatomicalSystem) {
			continue
		}
		results[i].MatchFeatures.Similarity += anatomicalBoostDelta
		results[i].Score += e.weights.Similarity * 100 * anatomicalBoostDelta
		results[i].Explanation = explain(results[i].MatchFeatures)
	}

	sortResults(results)
	return results
}

// frequencyCap bounds how much a single code's selection history can
// contribute, so a handful of historically popular codes cannot drown
// out the primary text-match signal.
const frequencyCap = 20

// ApplyFrequencyBoost adds a small, capped term proportional to global
// and user-specific selection frequency (component table's "used by
// ranking for global/user-frequency boosts"), then re-sorts. stats is
// keyed by uppercased code; codes with no entry are untouched.
func (e *ScoringEngine) ApplyFrequencyBoost(results []domain.RankedResult, stats map[string]domain.UsageStats) []domain.RankedResult {
	if len(stats) == 0 {
		return results
	}

	for i := range results {
		u, ok := stats[strings.ToUpper(results[i].Code)]
		if !ok {
			continue
		}
		global := capFrequency(u.GlobalFrequency)
		user := capFrequency(u.UserFrequency)
		results[i].Score += e.weights.FrequencyBoost * (float64(global)/frequencyCap + 2*float64(user)/frequencyCap)
	}

	sortResults(results)
	return results
}

func capFrequency(f int64) int64 {
	if f > frequencyCap {
		return frequencyCap
	}
	return f
}
