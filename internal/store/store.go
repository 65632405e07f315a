// Package store exposes the narrow read-mostly interface the search
// pipeline uses against the icd10_extended, icd10, clinical_dictionary,
// clinical_ontology, and search_logs tables. Callers never see raw rows,
// only the typed shapes in internal/domain.
package store

import (
	"context"
	"time"

	"github.com/davidguzman1991/clinical-core/internal/domain"
)

// ExtendedSearchParams parameterizes a single extended-table retrieval
// attempt. One Retriever attempt (base query, a variant, or a relaxed
// min-hits reattempt) maps onto one ExtendedSearchParams value.
type ExtendedSearchParams struct {
	NormalizedQuery string
	CompactQuery    string // uppercased, spaces and dots stripped; only meaningful for code queries
	Limit           int
	TagsFilter      []string
	QueryIsCode     bool
	UseSimilarity   bool
	MinTokenHits    int
	ScoringTokens   []string
}

// Store is the read-mostly interface the rest of the core depends on.
// Production code talks to Postgres through SQLStore; tests and local
// development can use MemStore, an in-memory fixture-backed stand-in
// that implements the identical admission/ordering contract.
type Store interface {
	ExtendedSearch(ctx context.Context, params ExtendedSearchParams) ([]domain.Candidate, error)
	ExtendedLookup(ctx context.Context, code string) (*domain.ICD10Code, error)
	ExtendedExpandRoot(ctx context.Context, rootCode string, limit int) ([]domain.ICD10Code, error)
	BaseSearch(ctx context.Context, normalizedQuery string, limit int) ([]domain.Candidate, error)
	CodeOnlyFallback(ctx context.Context, compactQuery string, limit int) ([]domain.Candidate, error)

	DictionaryExact(ctx context.Context, normalizedQuery string) ([]domain.DictionaryEntry, error)
	DictionarySynonyms(ctx context.Context, normalizedQuery string, tokens []string, preferredCodes []string, limit int) ([]domain.DictionaryEntry, error)
	CodesByCodes(ctx context.Context, codes []string) (map[string]domain.ICD10Code, error)

	OntologyDetect(ctx context.Context, normalizedQuery string) (string, error)
	UsageStats(ctx context.Context, codes []string, userID string) (map[string]domain.UsageStats, error)

	InsertSearchLog(ctx context.Context, entry domain.SearchLogEntry) error
	InsertSelectionLog(ctx context.Context, entry domain.SearchLogEntry) error
	SuggestByPrefix(ctx context.Context, prefix string, limit int) ([]domain.SuggestionEntry, error)

	SupportsTrigrams() bool
}

// ExpectedDictionarySchema is the canonical clinical_dictionary column
// set. Bootstrap rebuilds any table found with a different shape (see
// the dictionary schema drift note in the design notes).
var ExpectedDictionarySchema = []string{"id", "term", "icd10_code", "priority", "created_at"}

// searchTextCoverageQuery computes the fraction of icd10_extended rows
// with a populated search_text. Nothing in this package references it;
// internal/bootstrap runs its own coverage query.
const searchTextCoverageQuery = `
	SELECT
		count(*) FILTER (WHERE search_text IS NOT NULL AND search_text <> '')::float8
		/ NULLIF(count(*), 0)::float8
	FROM icd10_extended
`

// defaultStatementTimeout is a per-call timeout value. No store method
// applies it; store calls are bounded only by the caller's context.
const defaultStatementTimeout = 2 * time.Second
