package feedback

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)

	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_Save(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	c := &Correction{
		OriginalQuery:   "dolor de cabeza",
		NormalizedQuery: "dolor de cabeza",
		SuggestedICD:    "R51",
		CorrectedICD:    "G43.9",
		Reviewer:        "dr.soto",
		Notes:           "migraine context from chart, not unspecified headache",
	}

	err := store.Save(ctx, c)

	require.NoError(t, err)
	assert.NotZero(t, c.ID, "ID should be assigned")
	assert.False(t, c.Agreed, "suggested and corrected codes differ")
	assert.False(t, c.CreatedAt.IsZero(), "CreatedAt should be set")
	assert.False(t, c.UpdatedAt.IsZero(), "UpdatedAt should be set")
}

func TestSQLiteStore_Save_Update(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	c := &Correction{
		OriginalQuery:   "azucar alta",
		NormalizedQuery: "azucar alta",
		SuggestedICD:    "E11.9",
		CorrectedICD:    "E11.9",
	}
	err := store.Save(ctx, c)
	require.NoError(t, err)
	originalID := c.ID
	assert.True(t, c.Agreed)

	c.CorrectedICD = "E11.65"
	c.Notes = "reviewed against chart, hyperglycemia documented"

	err = store.Save(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, originalID, c.ID, "Should update existing record")
	assert.False(t, c.Agreed, "correction now disagrees with the suggestion")

	retrieved, err := store.Get(ctx, "azucar alta", "E11.9")
	require.NoError(t, err)
	assert.Equal(t, "E11.65", retrieved.CorrectedICD)
	assert.Equal(t, "reviewed against chart, hyperglycemia documented", retrieved.Notes)
}

func TestSQLiteStore_Get(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	c := &Correction{
		OriginalQuery:   "tos persistente",
		NormalizedQuery: "tos persistente",
		SuggestedICD:    "R05",
		CorrectedICD:    "R05",
	}
	err := store.Save(ctx, c)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, "tos persistente", "R05")

	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, c.NormalizedQuery, retrieved.NormalizedQuery)
	assert.Equal(t, c.CorrectedICD, retrieved.CorrectedICD)
}

func TestSQLiteStore_Get_KeyedBySuggestedCode(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// The same query can surface two different suggested codes across
	// separate searches (ranking shifts over time); each suggestion
	// gets its own correction record.
	first := &Correction{
		OriginalQuery: "dolor de pecho", NormalizedQuery: "dolor de pecho",
		SuggestedICD: "R07.9", CorrectedICD: "R07.9",
	}
	require.NoError(t, store.Save(ctx, first))

	second := &Correction{
		OriginalQuery: "dolor de pecho", NormalizedQuery: "dolor de pecho",
		SuggestedICD: "I20.9", CorrectedICD: "R07.9",
	}
	require.NoError(t, store.Save(ctx, second))

	agree, err := store.Get(ctx, "dolor de pecho", "R07.9")
	require.NoError(t, err)
	assert.True(t, agree.Agreed)

	disagree, err := store.Get(ctx, "dolor de pecho", "I20.9")
	require.NoError(t, err)
	assert.False(t, disagree.Agreed)
	assert.Equal(t, "R07.9", disagree.CorrectedICD)
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	retrieved, err := store.Get(ctx, "no query matches this", "Z00.0")

	assert.NoError(t, err)
	assert.Nil(t, retrieved, "Should return nil for not found")
}

func TestSQLiteStore_List(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	queries := []string{"gripe", "presion alta", "dolor abdominal"}
	for i, q := range queries {
		c := &Correction{
			OriginalQuery: q, NormalizedQuery: q,
			SuggestedICD: "J11.1", CorrectedICD: "J11.1",
		}
		require.NoError(t, store.Save(ctx, c), "Failed to save correction %d", i)
	}

	list, err := store.List(ctx, 10, 0)

	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestSQLiteStore_List_Pagination(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c := &Correction{
			OriginalQuery:   "query" + string(rune('A'+i)),
			NormalizedQuery: "query" + string(rune('A'+i)),
			SuggestedICD:    "R69",
			CorrectedICD:    "R69",
		}
		require.NoError(t, store.Save(ctx, c))
		time.Sleep(10 * time.Millisecond) // Ensure different timestamps
	}

	page1, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := store.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)

	page3, err := store.List(ctx, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestSQLiteStore_Count(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := &Correction{
			OriginalQuery:   "query" + string(rune('A'+i)),
			NormalizedQuery: "query" + string(rune('A'+i)),
			SuggestedICD:    "R69",
			CorrectedICD:    "R69",
		}
		require.NoError(t, store.Save(ctx, c))
	}

	count, err := store.Count(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	c := &Correction{
		OriginalQuery: "dolor de cabeza", NormalizedQuery: "dolor de cabeza",
		SuggestedICD: "R51", CorrectedICD: "G43.9",
	}
	err := store.Save(ctx, c)
	require.NoError(t, err)

	err = store.Delete(ctx, c.ID)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, "dolor de cabeza", "R51")
	assert.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSQLiteStore_ExportJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	c := &Correction{
		OriginalQuery: "dolor abdominal", NormalizedQuery: "dolor abdominal",
		SuggestedICD: "R10.9", CorrectedICD: "R10.9",
		Notes: "well-characterized presentation",
	}
	err := store.Save(ctx, c)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = store.ExportJSON(ctx, &buf)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "dolor abdominal")
	assert.Contains(t, buf.String(), "well-characterized presentation")
	assert.Contains(t, buf.String(), `"version"`)
	assert.Contains(t, buf.String(), `"count"`)
}

func TestSQLiteStore_ImportJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	jsonData := `{
		"version": "1.0",
		"exported_at": "2026-01-17T10:00:00Z",
		"count": 2,
		"corrections": [
			{
				"original_query": "dolor de cabeza",
				"normalized_query": "dolor de cabeza",
				"suggested_icd": "R51",
				"corrected_icd": "G43.9",
				"agreed": false
			},
			{
				"original_query": "presion alta",
				"normalized_query": "presion alta",
				"suggested_icd": "I10",
				"corrected_icd": "I10",
				"agreed": true,
				"notes": "confirmed against chart"
			}
		]
	}`

	imported, skipped, err := store.ImportJSON(ctx, bytes.NewReader([]byte(jsonData)))

	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 0, skipped)

	count, _ := store.Count(ctx)
	assert.Equal(t, int64(2), count)

	headache, err := store.Get(ctx, "dolor de cabeza", "R51")
	require.NoError(t, err)
	assert.Equal(t, "G43.9", headache.CorrectedICD)

	pressure, err := store.Get(ctx, "presion alta", "I10")
	require.NoError(t, err)
	assert.Equal(t, "I10", pressure.CorrectedICD)
	assert.Equal(t, "confirmed against chart", pressure.Notes)
}

func TestSQLiteStore_ImportJSON_SkipDuplicates(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()

	existing := &Correction{
		OriginalQuery: "dolor de cabeza", NormalizedQuery: "dolor de cabeza",
		SuggestedICD: "R51", CorrectedICD: "G43.9",
	}
	err := store.Save(ctx, existing)
	require.NoError(t, err)

	jsonData := `{
		"version": "1.0",
		"count": 2,
		"corrections": [
			{
				"normalized_query": "dolor de cabeza",
				"suggested_icd": "R51",
				"corrected_icd": "R51"
			},
			{
				"normalized_query": "gripe",
				"suggested_icd": "J11.1",
				"corrected_icd": "J11.1"
			}
		]
	}`

	imported, skipped, err := store.ImportJSON(ctx, bytes.NewReader([]byte(jsonData)))

	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)

	headache, _ := store.Get(ctx, "dolor de cabeza", "R51")
	assert.Equal(t, "G43.9", headache.CorrectedICD, "Existing should not be overwritten")
}

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "feedback-test-*")
	require.NoError(t, err)

	t.Cleanup(func() {
		os.RemoveAll(tmpDir)
	})

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	return store
}
