package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/davidguzman1991/clinical-core/internal/domain"
)

// SQLStore is the Postgres-backed Store implementation. It expects
// pg_trgm to be installed (see the original migration
// 20260213_0002_pg_trgm_icd10 this pipeline was distilled from) and
// reports SupportsTrigrams accordingly.
type SQLStore struct {
	pool       *pgxpool.Pool
	log        *logrus.Logger
	trigramsOn bool
}

// NewSQLStore creates a Postgres-backed store. trigramsOn should be
// determined once at bootstrap by probing pg_extension for pg_trgm.
func NewSQLStore(pool *pgxpool.Pool, logger *logrus.Logger, trigramsOn bool) *SQLStore {
	return &SQLStore{pool: pool, log: logger, trigramsOn: trigramsOn}
}

func (s *SQLStore) SupportsTrigrams() bool { return s.trigramsOn }

// ExtendedSearch issues the column-bag query of spec section 4.4
// against icd10_extended, pushing the admission predicate and the
// tie-break ordering down into SQL so Postgres does the filtering.
func (s *SQLStore) ExtendedSearch(ctx context.Context, p ExtendedSearchParams) ([]domain.Candidate, error) {
	useSimilarity := p.UseSimilarity && s.trigramsOn

	query, args := buildExtendedSearchSQL(p, useSimilarity)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"query": p.NormalizedQuery,
			"error": err,
		}).Error("extended_search failed")
		return nil, domain.NewRetrievalFailureError(p.NormalizedQuery, err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var priority any
		if err := rows.Scan(&c.Code, &c.Description, &c.DescriptionNormalized,
			&c.SearchText, &priority, &c.Tags,
			&c.ExactCodeMatch, &c.PrefixMatch, &c.DescriptionMatch,
			&c.Similarity, &c.TokenHitCount); err != nil {
			return nil, domain.NewRetrievalFailureError(p.NormalizedQuery, err)
		}
		c.Priority = priorityFromAny(priority)
		c.Source = domain.SourceExtended
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewRetrievalFailureError(p.NormalizedQuery, err)
	}
	return out, nil
}

// buildExtendedSearchSQL renders the parameterized query for one
// retrieval attempt. Kept separate from ExtendedSearch so tests can
// assert on the generated SQL shape directly, without a live pool.
func buildExtendedSearchSQL(p ExtendedSearchParams, useSimilarity bool) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT * FROM (SELECT code, description, description_normalized, search_text, priority, tags,
		`)

	args := []any{}
	argN := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if p.QueryIsCode {
		compact := argN(p.CompactQuery)
		sb.WriteString(fmt.Sprintf(`
			(upper(replace(code, '.', '')) = %s) AS exact_code_match,
			(upper(replace(code, '.', '')) LIKE %s || '%%') AS prefix_match,
			false AS description_match,
			0.0::float8 AS similarity,
			0 AS token_hit_count
			FROM icd10_extended
			WHERE (upper(replace(code, '.', '')) = %s OR upper(replace(code, '.', '')) LIKE %s || '%%')
		`, compact, compact, compact, compact))
	} else {
		q := argN(p.NormalizedQuery)
		simExpr := "0.0::float8"
		if useSimilarity {
			simExpr = fmt.Sprintf("GREATEST(similarity(description_normalized, %s), similarity(search_text, %s))", q, q)
		}
		sb.WriteString(fmt.Sprintf(`
			false AS exact_code_match,
			false AS prefix_match,
			(position(%s in description_normalized) > 0 OR position(%s in search_text) > 0) AS description_match,
			%s AS similarity,
			(SELECT count(*) FROM unnest(%s::text[]) tok WHERE position(tok in description_normalized || ' ' || search_text) > 0) AS token_hit_count
			FROM icd10_extended
			WHERE (`, q, q, simExpr, argN(p.ScoringTokens)))

		scoringTokenCount := len(p.ScoringTokens)
		minHits := p.MinTokenHits
		if minHits <= 0 {
			minHits = 2
		}
		q2 := argN(p.NormalizedQuery)
		switch {
		case scoringTokenCount >= 2:
			sb.WriteString(fmt.Sprintf(`
				(position(%s in description_normalized) > 0 OR position(%s in search_text) > 0)
				OR (SELECT count(*) FROM unnest(%s::text[]) tok WHERE position(tok in description_normalized || ' ' || search_text) > 0) >= %d
			`, q2, q2, argN(p.ScoringTokens), minHits))
			if useSimilarity {
				sb.WriteString(fmt.Sprintf(" OR (%s >= 0.20 AND (SELECT count(*) FROM unnest(%s::text[]) tok WHERE position(tok in description_normalized || ' ' || search_text) > 0) >= %d)", simExpr, argN(p.ScoringTokens), minHits))
			}
		default:
			sb.WriteString(fmt.Sprintf(`(position(%s in description_normalized) > 0 OR position(%s in search_text) > 0)`, q2, q2))
			if useSimilarity {
				sb.WriteString(fmt.Sprintf(" OR %s >= 0.20", simExpr))
			}
		}
		sb.WriteString(")")
	}

	if len(p.TagsFilter) > 0 {
		sb.WriteString(" AND (")
		for i, tag := range p.TagsFilter {
			if i > 0 {
				sb.WriteString(" OR ")
			}
			sb.WriteString(fmt.Sprintf("position(%s in tags) > 0", argN(tag)))
		}
		sb.WriteString(")")
	}
	sb.WriteString(") AS candidates")

	if p.QueryIsCode {
		sb.WriteString(" ORDER BY (3*CASE WHEN upper(replace(code,'.','')) = $1 THEN 1 ELSE 0 END + 2*CASE WHEN upper(replace(code,'.','')) LIKE $1 || '%' THEN 1 ELSE 0 END + 0.1*priority) DESC, code ASC")
	} else {
		sb.WriteString(" ORDER BY (3*exact_code_match::int + 2*prefix_match::int + 1.5*description_match::int + 0.8*token_hit_count + similarity + 0.1*priority) DESC, code ASC")
	}

	if p.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %s", argN(p.Limit)))
	}

	return sb.String(), args
}

func (s *SQLStore) ExtendedLookup(ctx context.Context, code string) (*domain.ICD10Code, error) {
	const q = `
		SELECT code, description, description_normalized, search_text, priority, tags
		FROM icd10_extended WHERE upper(code) = upper($1)
	`
	var row domain.ICD10Code
	var priority any
	err := s.pool.QueryRow(ctx, q, code).Scan(&row.Code, &row.Description,
		&row.DescriptionNormalized, &row.SearchText, &priority, &row.Tags)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.NewNotFoundError("icd10_extended", code)
		}
		return nil, domain.NewRetrievalFailureError(code, err)
	}
	row.Priority = priorityFromAny(priority)
	return &row, nil
}

func (s *SQLStore) ExtendedExpandRoot(ctx context.Context, rootCode string, limit int) ([]domain.ICD10Code, error) {
	const q = `
		SELECT code, description, description_normalized, search_text, priority, tags
		FROM icd10_extended
		WHERE upper(code) LIKE upper($1) || '.%'
		ORDER BY priority DESC, code ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, rootCode, limit)
	if err != nil {
		return nil, domain.NewRetrievalFailureError(rootCode, err)
	}
	defer rows.Close()

	var out []domain.ICD10Code
	for rows.Next() {
		var row domain.ICD10Code
		var priority any
		if err := rows.Scan(&row.Code, &row.Description, &row.DescriptionNormalized,
			&row.SearchText, &priority, &row.Tags); err != nil {
			return nil, domain.NewRetrievalFailureError(rootCode, err)
		}
		row.Priority = priorityFromAny(priority)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLStore) BaseSearch(ctx context.Context, normalizedQuery string, limit int) ([]domain.Candidate, error) {
	const q = `
		SELECT code, description
		FROM icd10
		WHERE position($1 in lower(description)) > 0 OR position($1 in lower(coalesce(search_terms, ''))) > 0
		ORDER BY code ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, normalizedQuery, limit)
	if err != nil {
		return nil, domain.NewRetrievalFailureError(normalizedQuery, err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		if err := rows.Scan(&c.Code, &c.Description); err != nil {
			return nil, domain.NewRetrievalFailureError(normalizedQuery, err)
		}
		c.Source = domain.SourceBase
		out = append(out, c)
	}
	return out, rows.Err()
}

// CodeOnlyFallback is spec section 4.4's degraded path: exact-or-prefix
// on code only, no similarity, used when the primary retrieval fails.
func (s *SQLStore) CodeOnlyFallback(ctx context.Context, compactQuery string, limit int) ([]domain.Candidate, error) {
	const q = `
		SELECT code, description, description_normalized, search_text, priority, tags,
			(upper(replace(code,'.','')) = $1) AS exact_code_match,
			(upper(replace(code,'.','')) LIKE $1 || '%') AS prefix_match
		FROM icd10_extended
		WHERE upper(replace(code,'.','')) = $1 OR upper(replace(code,'.','')) LIKE $1 || '%'
		ORDER BY exact_code_match DESC, prefix_match DESC, priority DESC, code ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, compactQuery, limit)
	if err != nil {
		return nil, domain.NewFallbackFailureError(compactQuery, err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var priority any
		if err := rows.Scan(&c.Code, &c.Description, &c.DescriptionNormalized,
			&c.SearchText, &priority, &c.Tags, &c.ExactCodeMatch, &c.PrefixMatch); err != nil {
			return nil, domain.NewFallbackFailureError(compactQuery, err)
		}
		c.Priority = priorityFromAny(priority)
		c.Source = domain.SourceExtended
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) DictionaryExact(ctx context.Context, normalizedQuery string) ([]domain.DictionaryEntry, error) {
	const q = `SELECT term, icd10_code, priority FROM clinical_dictionary WHERE term = $1`
	rows, err := s.pool.Query(ctx, q, normalizedQuery)
	if err != nil {
		return nil, domain.NewRetrievalFailureError(normalizedQuery, err)
	}
	defer rows.Close()

	var out []domain.DictionaryEntry
	for rows.Next() {
		var e domain.DictionaryEntry
		if err := rows.Scan(&e.Term, &e.ICD10Code, &e.Priority); err != nil {
			return nil, domain.NewRetrievalFailureError(normalizedQuery, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) DictionarySynonyms(ctx context.Context, normalizedQuery string, tokens []string, preferredCodes []string, limit int) ([]domain.DictionaryEntry, error) {
	var q string
	if s.trigramsOn {
		q = `
			SELECT term, icd10_code, priority FROM clinical_dictionary
			WHERE (SELECT count(*) FROM unnest($2::text[]) tok WHERE position(tok in term) > 0) > 0
				OR icd10_code = ANY($3)
				OR similarity(term, $1) > 0.25
			ORDER BY priority DESC LIMIT $4
		`
	} else {
		q = `
			SELECT term, icd10_code, priority FROM clinical_dictionary
			WHERE (SELECT count(*) FROM unnest($2::text[]) tok WHERE position(tok in term) > 0) > 0
				OR icd10_code = ANY($3)
			ORDER BY priority DESC LIMIT $4
		`
	}

	rows, err := s.pool.Query(ctx, q, normalizedQuery, tokens, preferredCodes, limit)
	if err != nil {
		return nil, domain.NewRetrievalFailureError(normalizedQuery, err)
	}
	defer rows.Close()

	var out []domain.DictionaryEntry
	for rows.Next() {
		var e domain.DictionaryEntry
		if err := rows.Scan(&e.Term, &e.ICD10Code, &e.Priority); err != nil {
			return nil, domain.NewRetrievalFailureError(normalizedQuery, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) CodesByCodes(ctx context.Context, codes []string) (map[string]domain.ICD10Code, error) {
	const q = `SELECT code, description, description_normalized, search_text, priority, tags FROM icd10_extended WHERE code = ANY($1)`
	rows, err := s.pool.Query(ctx, q, codes)
	if err != nil {
		return nil, domain.NewRetrievalFailureError(strings.Join(codes, ","), err)
	}
	defer rows.Close()

	out := make(map[string]domain.ICD10Code, len(codes))
	for rows.Next() {
		var row domain.ICD10Code
		var priority any
		if err := rows.Scan(&row.Code, &row.Description, &row.DescriptionNormalized,
			&row.SearchText, &priority, &row.Tags); err != nil {
			return nil, domain.NewRetrievalFailureError(strings.Join(codes, ","), err)
		}
		row.Priority = priorityFromAny(priority)
		out[strings.ToUpper(row.Code)] = row
	}
	return out, rows.Err()
}

func (s *SQLStore) OntologyDetect(ctx context.Context, normalizedQuery string) (string, error) {
	const q = `
		SELECT system FROM clinical_ontology
		WHERE position(normalized_term in $1) > 0
		ORDER BY weight DESC LIMIT 1
	`
	var system string
	err := s.pool.QueryRow(ctx, q, normalizedQuery).Scan(&system)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", domain.NewRetrievalFailureError(normalizedQuery, err)
	}
	return system, nil
}

func (s *SQLStore) UsageStats(ctx context.Context, codes []string, userID string) (map[string]domain.UsageStats, error) {
	const q = `
		SELECT selected_icd,
			count(*) AS global_frequency,
			count(*) FILTER (WHERE user_id = $2) AS user_frequency
		FROM search_logs
		WHERE selected_icd = ANY($1)
		GROUP BY selected_icd
	`
	rows, err := s.pool.Query(ctx, q, codes, userID)
	if err != nil {
		return nil, domain.NewRetrievalFailureError(strings.Join(codes, ","), err)
	}
	defer rows.Close()

	out := make(map[string]domain.UsageStats, len(codes))
	for rows.Next() {
		var u domain.UsageStats
		if err := rows.Scan(&u.Code, &u.GlobalFrequency, &u.UserFrequency); err != nil {
			return nil, domain.NewRetrievalFailureError(strings.Join(codes, ","), err)
		}
		out[strings.ToUpper(u.Code)] = u
	}
	return out, rows.Err()
}

func (s *SQLStore) InsertSearchLog(ctx context.Context, entry domain.SearchLogEntry) error {
	const q = `
		INSERT INTO search_logs (id, user_id, session_id, query, normalized_query, selected_term, selected_icd, specialty, created_at)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, $6, NULLIF($7,''), NULLIF($8,''), $9)
	`
	_, err := s.pool.Exec(ctx, q, entry.ID, entry.UserID, entry.SessionID, entry.Query,
		entry.NormalizedQuery, entry.SelectedTerm, entry.SelectedICD, entry.Specialty, entry.CreatedAt)
	if err != nil {
		s.log.WithFields(logrus.Fields{"query": entry.Query, "error": err}).Warn("search log write failed")
		return domain.NewLogWriteFailureError(err)
	}
	return nil
}

func (s *SQLStore) InsertSelectionLog(ctx context.Context, entry domain.SearchLogEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &domain.SelectionWriteFailureError{Cause: err}
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT true FROM icd10_extended WHERE upper(code) = upper($1)`, entry.SelectedICD).Scan(&exists); err != nil {
		if err == pgx.ErrNoRows {
			return domain.NewNotFoundError("icd10_extended", entry.SelectedICD)
		}
		return &domain.SelectionWriteFailureError{Cause: err}
	}

	const q = `
		INSERT INTO search_logs (id, user_id, session_id, query, normalized_query, selected_term, selected_icd, specialty, created_at)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, $6, $7, NULLIF($8,''), $9)
	`
	if _, err := tx.Exec(ctx, q, entry.ID, entry.UserID, entry.SessionID, entry.Query,
		entry.NormalizedQuery, entry.SelectedTerm, entry.SelectedICD, entry.Specialty, entry.CreatedAt); err != nil {
		return &domain.SelectionWriteFailureError{Cause: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.SelectionWriteFailureError{Cause: err}
	}
	return nil
}

func (s *SQLStore) SuggestByPrefix(ctx context.Context, prefix string, limit int) ([]domain.SuggestionEntry, error) {
	const q = `
		SELECT coalesce(nullif(selected_term, ''), normalized_query) AS term, count(*) AS frequency
		FROM search_logs
		WHERE $1 = '' OR coalesce(nullif(selected_term, ''), normalized_query) LIKE $1 || '%'
		GROUP BY term
		ORDER BY frequency DESC, term ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, prefix, limit)
	if err != nil {
		return nil, domain.NewRetrievalFailureError(prefix, err)
	}
	defer rows.Close()

	var out []domain.SuggestionEntry
	for rows.Next() {
		var e domain.SuggestionEntry
		if err := rows.Scan(&e.SelectedTerm, &e.Frequency); err != nil {
			return nil, domain.NewRetrievalFailureError(prefix, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
