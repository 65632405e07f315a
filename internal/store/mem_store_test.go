package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidguzman1991/clinical-core/internal/domain"
)

func seedStore(trigramsOn bool) *MemStore {
	ms := NewMemStore(trigramsOn)
	ms.SeedExtended(
		domain.ICD10Code{
			Code: "E11.9", Description: "Diabetes mellitus tipo 2 sin complicaciones",
			DescriptionNormalized: "diabetes mellitus tipo 2 sin complicaciones",
			SearchText:            "diabetes mellitus tipo 2 sin complicaciones",
			Priority:              domain.PriorityHigh, Tags: "cardiometabolic",
		},
		domain.ICD10Code{
			Code: "J45.9", Description: "Asma no especificada",
			DescriptionNormalized: "asma no especificada",
			SearchText:            "asma no especificada",
			Priority:              domain.PriorityMedium, Tags: "respiratory",
		},
	)
	return ms
}

func TestExtendedSearchCodeQueryReturnsExactAndPrefix(t *testing.T) {
	ms := seedStore(false)

	cands, err := ms.ExtendedSearch(context.Background(), ExtendedSearchParams{
		CompactQuery: "E11", QueryIsCode: true, Limit: 10,
	})

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "E11.9", cands[0].Code)
	assert.True(t, cands[0].PrefixMatch)
	assert.False(t, cands[0].ExactCodeMatch)
}

func TestExtendedSearchNLAdmitsOnDescriptionMatch(t *testing.T) {
	ms := seedStore(false)

	cands, err := ms.ExtendedSearch(context.Background(), ExtendedSearchParams{
		NormalizedQuery: "diabetes mellitus", ScoringTokens: []string{"diabetes", "mellitus"}, Limit: 10,
	})

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "E11.9", cands[0].Code)
	assert.True(t, cands[0].DescriptionMatch)
}

func TestExtendedSearchExcludesNonMatchingTagsFilter(t *testing.T) {
	ms := seedStore(false)

	cands, err := ms.ExtendedSearch(context.Background(), ExtendedSearchParams{
		NormalizedQuery: "diabetes mellitus", ScoringTokens: []string{"diabetes", "mellitus"},
		TagsFilter: []string{"respiratory"}, Limit: 10,
	})

	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestExtendedSearchUsesSimilarityWhenTrigramsOn(t *testing.T) {
	ms := seedStore(true)

	cands, err := ms.ExtendedSearch(context.Background(), ExtendedSearchParams{
		NormalizedQuery: "asma especificada", ScoringTokens: []string{"asma", "especificada"},
		UseSimilarity: true, MinTokenHits: 1, Limit: 10,
	})

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "J45.9", cands[0].Code)
	assert.Greater(t, cands[0].Similarity, 0.0)
}

func TestCodeOnlyFallbackMatchesPrefix(t *testing.T) {
	ms := seedStore(false)

	cands, err := ms.CodeOnlyFallback(context.Background(), "E11", 10)

	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "E11.9", cands[0].Code)
	assert.True(t, cands[0].PrefixMatch)
}

func TestExtendedLookupNotFound(t *testing.T) {
	ms := seedStore(false)

	_, err := ms.ExtendedLookup(context.Background(), "Z99.9")

	require.Error(t, err)
	var nfErr *domain.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestInsertSelectionLogRejectsUnknownCode(t *testing.T) {
	ms := seedStore(false)

	err := ms.InsertSelectionLog(context.Background(), domain.SearchLogEntry{SelectedICD: "Z99.9"})

	require.Error(t, err)
	var nfErr *domain.NotFoundError
	require.ErrorAs(t, err, &nfErr)
}

func TestUsageStatsCountsGlobalAndUserFrequency(t *testing.T) {
	ms := seedStore(false)
	ctx := context.Background()
	require.NoError(t, ms.InsertSelectionLog(ctx, domain.SearchLogEntry{SelectedICD: "E11.9", UserID: "u1"}))
	require.NoError(t, ms.InsertSelectionLog(ctx, domain.SearchLogEntry{SelectedICD: "E11.9", UserID: "u2"}))

	stats, err := ms.UsageStats(ctx, []string{"E11.9"}, "u1")

	require.NoError(t, err)
	require.Contains(t, stats, "E11.9")
	assert.EqualValues(t, 2, stats["E11.9"].GlobalFrequency)
	assert.EqualValues(t, 1, stats["E11.9"].UserFrequency)
}

func TestCompactCodeStripsDotsAndWhitespace(t *testing.T) {
	assert.Equal(t, "E119", compactCode("e11.9"))
	assert.Equal(t, "E119", compactCode(" E11.9 "))
}
