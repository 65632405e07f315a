package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/davidguzman1991/clinical-core/internal/domain"
)

// MemStore is an in-memory reference implementation of Store, backed by
// fixture slices. It implements the identical admission-predicate and
// ordering contract SQLStore expresses in SQL, using Go's trigram
// approximation in place of Postgres's pg_trgm. It exists for unit
// tests and for local development without a database.
type MemStore struct {
	mu sync.RWMutex

	extended   map[string]domain.ICD10Code
	base       map[string]domain.ICD10BaseCode
	dictionary []domain.DictionaryEntry
	ontology   []domain.OntologyEntry

	searchLogs    []domain.SearchLogEntry
	trigramsOn    bool
}

// NewMemStore creates an empty in-memory store. trigramsOn controls
// whether SupportsTrigrams reports true and similarity is computed.
func NewMemStore(trigramsOn bool) *MemStore {
	return &MemStore{
		extended:   make(map[string]domain.ICD10Code),
		base:       make(map[string]domain.ICD10BaseCode),
		trigramsOn: trigramsOn,
	}
}

// SeedExtended loads extended ICD-10 fixture rows.
func (m *MemStore) SeedExtended(rows ...domain.ICD10Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.extended[strings.ToUpper(r.Code)] = r
	}
}

// SeedBase loads base ICD-10 fixture rows.
func (m *MemStore) SeedBase(rows ...domain.ICD10BaseCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.base[strings.ToUpper(r.Code)] = r
	}
}

// SeedDictionary loads dictionary fixture entries.
func (m *MemStore) SeedDictionary(entries ...domain.DictionaryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dictionary = append(m.dictionary, entries...)
}

// SeedOntology loads ontology fixture entries.
func (m *MemStore) SeedOntology(entries ...domain.OntologyEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ontology = append(m.ontology, entries...)
}

func (m *MemStore) SupportsTrigrams() bool { return m.trigramsOn }

func (m *MemStore) similarity(a, b string) float64 {
	if !m.trigramsOn {
		return 0
	}
	return trigramSimilarity(a, b)
}

func (m *MemStore) ExtendedSearch(ctx context.Context, p ExtendedSearchParams) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	rows := make([]domain.ICD10Code, 0, len(m.extended))
	for _, r := range m.extended {
		rows = append(rows, r)
	}
	m.mu.RUnlock()

	useSimilarity := p.UseSimilarity && m.trigramsOn

	cands := make([]domain.Candidate, 0, len(rows))
	for _, row := range rows {
		c := computeSignals(row, ExtendedSearchParams{
			NormalizedQuery: p.NormalizedQuery,
			CompactQuery:    p.CompactQuery,
			QueryIsCode:     p.QueryIsCode,
			UseSimilarity:   useSimilarity,
			MinTokenHits:    p.MinTokenHits,
			ScoringTokens:   p.ScoringTokens,
		}, m.similarity)

		if !admits(c, p, 0.20) {
			continue
		}
		cands = append(cands, c)
	}

	cands = filterByTags(cands, p.TagsFilter)

	if p.QueryIsCode {
		sortCandidatesCode(cands)
	} else {
		sortCandidatesNL(cands)
	}

	if p.Limit > 0 && len(cands) > p.Limit {
		cands = cands[:p.Limit]
	}
	return cands, nil
}

func (m *MemStore) ExtendedLookup(ctx context.Context, code string) (*domain.ICD10Code, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.extended[strings.ToUpper(code)]
	if !ok {
		return nil, domain.NewNotFoundError("icd10_extended", code)
	}
	return &row, nil
}

func (m *MemStore) ExtendedExpandRoot(ctx context.Context, rootCode string, limit int) ([]domain.ICD10Code, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	root := strings.ToUpper(rootCode)
	var children []domain.ICD10Code
	for code, row := range m.extended {
		if code != root && strings.HasPrefix(code, root) {
			children = append(children, row)
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		if children[i].Priority != children[j].Priority {
			return children[i].Priority > children[j].Priority
		}
		return children[i].Code < children[j].Code
	})
	if limit > 0 && len(children) > limit {
		children = children[:limit]
	}
	return children, nil
}

func (m *MemStore) BaseSearch(ctx context.Context, normalizedQuery string, limit int) ([]domain.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cands []domain.Candidate
	for code, row := range m.base {
		haystack := strings.ToLower(row.Description + " " + row.SearchTerms)
		if normalizedQuery == "" || strings.Contains(haystack, normalizedQuery) {
			cands = append(cands, domain.Candidate{
				Code:        code,
				Description: row.Description,
				Source:      domain.SourceBase,
			})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Code < cands[j].Code })
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	return cands, nil
}

func (m *MemStore) CodeOnlyFallback(ctx context.Context, compactQuery string, limit int) ([]domain.Candidate, error) {
	m.mu.RLock()
	rows := make([]domain.ICD10Code, 0, len(m.extended))
	for _, r := range m.extended {
		rows = append(rows, r)
	}
	m.mu.RUnlock()

	var cands []domain.Candidate
	for _, row := range rows {
		compact := compactCode(row.Code)
		exact := compact == compactQuery
		prefix := strings.HasPrefix(compact, compactQuery)
		if !exact && !prefix {
			continue
		}
		cands = append(cands, domain.Candidate{
			Code:                  row.Code,
			Description:           row.Description,
			DescriptionNormalized: row.DescriptionNormalized,
			SearchText:            row.SearchText,
			Priority:              row.Priority,
			Tags:                  row.Tags,
			Source:                domain.SourceExtended,
			ExactCodeMatch:        exact,
			PrefixMatch:           prefix,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		si := codeOrderScore(cands[i])
		sj := codeOrderScore(cands[j])
		if si != sj {
			return si > sj
		}
		return cands[i].Code < cands[j].Code
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	return cands, nil
}

func (m *MemStore) DictionaryExact(ctx context.Context, normalizedQuery string) ([]domain.DictionaryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.DictionaryEntry
	for _, e := range m.dictionary {
		if e.Term == normalizedQuery {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemStore) DictionarySynonyms(ctx context.Context, normalizedQuery string, tokens []string, preferredCodes []string, limit int) ([]domain.DictionaryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	preferred := make(map[string]struct{}, len(preferredCodes))
	for _, c := range preferredCodes {
		preferred[strings.ToUpper(c)] = struct{}{}
	}

	var out []domain.DictionaryEntry
	for _, e := range m.dictionary {
		if _, ok := preferred[strings.ToUpper(e.ICD10Code)]; ok {
			out = append(out, e)
			continue
		}
		for _, tok := range tokens {
			if tok != "" && strings.Contains(e.Term, tok) {
				out = append(out, e)
				break
			}
		}
		if m.trigramsOn && trigramSimilarity(normalizedQuery, e.Term) > 0.25 {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) CodesByCodes(ctx context.Context, codes []string) (map[string]domain.ICD10Code, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]domain.ICD10Code, len(codes))
	for _, code := range codes {
		if row, ok := m.extended[strings.ToUpper(code)]; ok {
			out[strings.ToUpper(code)] = row
		}
	}
	return out, nil
}

func (m *MemStore) OntologyDetect(ctx context.Context, normalizedQuery string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.ontology {
		if e.NormalizedTerm != "" && strings.Contains(normalizedQuery, e.NormalizedTerm) {
			return e.System, nil
		}
	}
	return "", nil
}

func (m *MemStore) UsageStats(ctx context.Context, codes []string, userID string) (map[string]domain.UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]domain.UsageStats, len(codes))
	for _, code := range codes {
		upper := strings.ToUpper(code)
		var global, user int64
		for _, e := range m.searchLogs {
			if strings.ToUpper(e.SelectedICD) != upper {
				continue
			}
			global++
			if userID != "" && e.UserID == userID {
				user++
			}
		}
		out[upper] = domain.UsageStats{Code: upper, GlobalFrequency: global, UserFrequency: user}
	}
	return out, nil
}

func (m *MemStore) InsertSearchLog(ctx context.Context, entry domain.SearchLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchLogs = append(m.searchLogs, entry)
	return nil
}

func (m *MemStore) InsertSelectionLog(ctx context.Context, entry domain.SearchLogEntry) error {
	m.mu.RLock()
	_, exists := m.extended[strings.ToUpper(entry.SelectedICD)]
	m.mu.RUnlock()
	if !exists {
		return domain.NewNotFoundError("icd10_extended", entry.SelectedICD)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchLogs = append(m.searchLogs, entry)
	return nil
}

func (m *MemStore) SuggestByPrefix(ctx context.Context, prefix string, limit int) ([]domain.SuggestionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, e := range m.searchLogs {
		term := e.SelectedTerm
		if term == "" {
			term = e.NormalizedQuery
		}
		if prefix == "" || strings.HasPrefix(term, prefix) {
			counts[term]++
		}
	}

	out := make([]domain.SuggestionEntry, 0, len(counts))
	for term, freq := range counts {
		out = append(out, domain.SuggestionEntry{SelectedTerm: term, Frequency: freq})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].SelectedTerm < out[j].SelectedTerm
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// trigramSimilarity is a Dice-coefficient character-trigram similarity
// in [0,1], the in-memory stand-in for Postgres's pg_trgm similarity().
func trigramSimilarity(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	seen := make(map[string]int, len(ta))
	for _, t := range ta {
		seen[t]++
	}
	for _, t := range tb {
		if seen[t] > 0 {
			shared++
			seen[t]--
		}
	}
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

func trigrams(s string) []string {
	padded := "  " + s + "  "
	runes := []rune(padded)
	if len(runes) < 3 {
		return nil
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}
