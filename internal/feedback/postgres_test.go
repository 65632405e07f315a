package feedback

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestDB returns a database connection for testing. Skipped unless
// TEST_DATABASE_URL is set, the same opt-in gate the teacher used for
// its own Postgres-backed store tests.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	require.NoError(t, createPostgresSchema(db))

	_, err = db.Exec("DELETE FROM code_corrections")
	require.NoError(t, err)

	return db
}

func TestPostgresStore_Save(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	c := &Correction{
		OriginalQuery:   "dolor de cabeza",
		NormalizedQuery: "dolor de cabeza",
		SuggestedICD:    "G43.9",
		CorrectedICD:    "G43.9",
		Reviewer:        "dr.soto",
		Notes:           "confirmed migraine diagnosis",
	}

	err = store.Save(ctx, c)
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
	assert.True(t, c.Agreed)
	assert.NotZero(t, c.CreatedAt)
	assert.NotZero(t, c.UpdatedAt)
}

func TestPostgresStore_SaveUpdate(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	c := &Correction{
		OriginalQuery:   "azucar alta",
		NormalizedQuery: "azucar alta",
		SuggestedICD:    "E11.9",
		CorrectedICD:    "R73.09",
	}

	err = store.Save(ctx, c)
	require.NoError(t, err)
	originalID := c.ID
	assert.False(t, c.Agreed)

	c.CorrectedICD = "E11.9"
	c.Notes = "reviewed again, original suggestion was right"

	err = store.Save(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, originalID, c.ID, "should upsert, not create a new row")

	retrieved, err := store.Get(ctx, c.NormalizedQuery, c.SuggestedICD)
	require.NoError(t, err)
	assert.Equal(t, "E11.9", retrieved.CorrectedICD)
	assert.True(t, retrieved.Agreed)
	assert.Equal(t, "reviewed again, original suggestion was right", retrieved.Notes)
}

func TestPostgresStore_Get(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()

	fb, err := store.Get(ctx, "nonexistent query", "Z00.0")
	require.NoError(t, err)
	assert.Nil(t, fb)

	saved := &Correction{
		OriginalQuery:   "presion alta",
		NormalizedQuery: "presion alta",
		SuggestedICD:    "I10",
		CorrectedICD:    "I10",
	}
	err = store.Save(ctx, saved)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, saved.NormalizedQuery, saved.SuggestedICD)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, saved.OriginalQuery, retrieved.OriginalQuery)
	assert.Equal(t, saved.NormalizedQuery, retrieved.NormalizedQuery)
	assert.Equal(t, saved.CorrectedICD, retrieved.CorrectedICD)
}

func TestPostgresStore_List(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c := &Correction{
			OriginalQuery:   "query",
			NormalizedQuery: "query" + string(rune('A'+i)),
			SuggestedICD:    "R69",
			CorrectedICD:    "R69",
		}
		err = store.Save(ctx, c)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond) // Ensure different timestamps
	}

	list, err := store.List(ctx, 3, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = store.List(ctx, 3, 3)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPostgresStore_Count(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	for i := 0; i < 3; i++ {
		c := &Correction{
			OriginalQuery:   "query",
			NormalizedQuery: "query" + string(rune('0'+i)),
			SuggestedICD:    "R69",
			CorrectedICD:    "R69",
		}
		err = store.Save(ctx, c)
		require.NoError(t, err)
	}

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestPostgresStore_Delete(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()

	c := &Correction{
		OriginalQuery:   "query",
		NormalizedQuery: "query-delete-me",
		SuggestedICD:    "R69",
		CorrectedICD:    "R69",
	}
	err = store.Save(ctx, c)
	require.NoError(t, err)

	err = store.Delete(ctx, c.ID)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, c.NormalizedQuery, c.SuggestedICD)
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}
