package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/davidguzman1991/clinical-core/internal/domain"
	"github.com/davidguzman1991/clinical-core/internal/store"
)

// Attempt parameterizes one retrieval call within a search's retry plan
// (internal/search drives the loop; Retriever executes one step of it).
type Attempt struct {
	NormalizedQuery string
	CompactQuery    string
	QueryIsCode     bool
	Limit           int
	TagsFilter      []string
	UseSimilarity   bool
	MinTokenHits    int
}

// Result is what one retrieval attempt produced, plus which path
// served it (spec section 4.4's "code-only fallback" path).
type Result struct {
	Candidates []domain.Candidate
	Fallback   bool
}

// Retriever wraps a store.Store with the resilience the primary
// extended-search path needs: a circuit breaker so a struggling
// database degrades to the code-only fallback instead of queuing every
// request behind a slow query, per the teacher's
// pkg/external/circuit_breaker.go ResilientExternalClient pattern.
type Retriever struct {
	store   store.Store
	log     *logrus.Logger
	breaker *gobreaker.CircuitBreaker
}

// New creates a Retriever backed by st, logging through log.
func New(st store.Store, log *logrus.Logger) *Retriever {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "icd10-extended-search",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name, "from": from.String(), "to": to.String(),
			}).Warn("retrieval circuit breaker state change")
		},
	})

	return &Retriever{store: st, log: log, breaker: breaker}
}

// Retrieve runs one attempt of the retry plan. It always computes the
// scoring tokens itself from the normalized query so callers only
// describe intent, not signal plumbing.
func (r *Retriever) Retrieve(ctx context.Context, a Attempt) (Result, error) {
	tokens := ExtractScoringTokens(a.NormalizedQuery)

	params := store.ExtendedSearchParams{
		NormalizedQuery: a.NormalizedQuery,
		CompactQuery:    a.CompactQuery,
		Limit:           a.Limit,
		TagsFilter:      a.TagsFilter,
		QueryIsCode:     a.QueryIsCode,
		UseSimilarity:   a.UseSimilarity,
		MinTokenHits:    a.MinTokenHits,
		ScoringTokens:   tokens,
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.store.ExtendedSearch(ctx, params)
	})
	if err == nil {
		return Result{Candidates: dedupeCandidates(out.([]domain.Candidate))}, nil
	}

	r.log.WithFields(logrus.Fields{
		"query": a.NormalizedQuery,
		"error": err,
	}).Warn("primary retrieval unavailable, falling back to code-only search")

	compact := a.CompactQuery
	if compact == "" {
		compact = strings.ToUpper(strings.TrimSpace(a.NormalizedQuery))
		compact = strings.ReplaceAll(compact, " ", "")
		compact = strings.ReplaceAll(compact, ".", "")
	}

	fallback, fbErr := r.store.CodeOnlyFallback(ctx, compact, a.Limit)
	if fbErr != nil {
		r.log.WithFields(logrus.Fields{
			"query": a.NormalizedQuery,
			"error": fbErr,
		}).Error("code-only fallback also failed")
		return Result{Fallback: true}, nil
	}

	return Result{Candidates: dedupeCandidates(fallback), Fallback: true}, nil
}

// dedupeCandidates merges same-code rows from different sources by
// ORing boolean signals and taking the max of continuous signals, per
// spec section 9's candidate-deduplication note — a code's score is
// never counted twice.
func dedupeCandidates(cands []domain.Candidate) []domain.Candidate {
	if len(cands) < 2 {
		return cands
	}

	order := make([]string, 0, len(cands))
	merged := make(map[string]domain.Candidate, len(cands))

	for _, c := range cands {
		key := strings.ToUpper(c.Code)
		existing, ok := merged[key]
		if !ok {
			merged[key] = c
			order = append(order, key)
			continue
		}

		existing.ExactCodeMatch = existing.ExactCodeMatch || c.ExactCodeMatch
		existing.PrefixMatch = existing.PrefixMatch || c.PrefixMatch
		existing.DescriptionMatch = existing.DescriptionMatch || c.DescriptionMatch
		if c.Similarity > existing.Similarity {
			existing.Similarity = c.Similarity
		}
		if c.TokenHitCount > existing.TokenHitCount {
			existing.TokenHitCount = c.TokenHitCount
		}
		if c.DictionaryPriority > existing.DictionaryPriority {
			existing.DictionaryPriority = c.DictionaryPriority
		}
		merged[key] = existing
	}

	out := make([]domain.Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, merged[key])
	}
	return out
}

// MergeCandidates combines candidate sets retrieved from independent
// paths (the primary extended search and the dictionary boost lookup)
// into one deduplicated slice, exported so internal/search can fold
// DictionaryBoost's output back into a retry plan's results without
// reaching into this package's unexported merge logic.
func MergeCandidates(groups ...[]domain.Candidate) []domain.Candidate {
	var all []domain.Candidate
	for _, g := range groups {
		all = append(all, g...)
	}
	return dedupeCandidates(all)
}

// DictionaryBoost resolves normalizedQuery (and its scoring tokens, for
// queries too short to trust trigram similarity) against
// clinical_dictionary, mirroring original_source's
// find_dictionary_exact/find_dictionary_synonyms -> synonym_terms/
// synonym_codes/synonym_code_priorities -> get_icd10_by_codes merge.
// Exact-term matches are resolved first so their codes can be passed as
// preferredCodes into the synonym lookup; every resolved code keeps its
// highest dictionary priority, and the result is sorted by
// -dictionary_priority, matching the Python merge order.
func (r *Retriever) DictionaryBoost(ctx context.Context, normalizedQuery string, tokens []string, limit int) ([]domain.Candidate, error) {
	if normalizedQuery == "" {
		return nil, nil
	}

	exact, err := r.store.DictionaryExact(ctx, normalizedQuery)
	if err != nil {
		return nil, fmt.Errorf("dictionary exact lookup: %w", err)
	}

	preferred := make([]string, 0, len(exact))
	for _, e := range exact {
		preferred = append(preferred, e.ICD10Code)
	}

	synonyms, err := r.store.DictionarySynonyms(ctx, normalizedQuery, tokens, preferred, limit)
	if err != nil {
		return nil, fmt.Errorf("dictionary synonyms lookup: %w", err)
	}

	priorities := make(map[string]int, len(exact)+len(synonyms))
	for _, e := range exact {
		key := strings.ToUpper(e.ICD10Code)
		if e.Priority > priorities[key] {
			priorities[key] = e.Priority
		}
	}
	for _, e := range synonyms {
		key := strings.ToUpper(e.ICD10Code)
		if e.Priority > priorities[key] {
			priorities[key] = e.Priority
		}
	}
	if len(priorities) == 0 {
		return nil, nil
	}

	codes := make([]string, 0, len(priorities))
	for code := range priorities {
		codes = append(codes, code)
	}

	rows, err := r.store.CodesByCodes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("resolving dictionary codes: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(rows))
	for code, priority := range priorities {
		row, ok := rows[code]
		if !ok {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Code:                  row.Code,
			Description:           row.Description,
			DescriptionNormalized: row.DescriptionNormalized,
			SearchText:            row.SearchText,
			Priority:              row.Priority,
			Tags:                  row.Tags,
			Source:                domain.SourceExtended,
			DictionaryPriority:    priority,
		})
	}

	sortByDictionaryPriority(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// sortByDictionaryPriority orders candidates by descending dictionary
// priority (ties broken by code) so the highest-priority curated match
// leads before scoring ever runs, matching the Python service's
// sorted(..., key=lambda x: -x.dictionary_priority).
func sortByDictionaryPriority(cands []domain.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].DictionaryPriority != cands[j].DictionaryPriority {
			return cands[i].DictionaryPriority > cands[j].DictionaryPriority
		}
		return cands[i].Code < cands[j].Code
	})
}
