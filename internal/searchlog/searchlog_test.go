package searchlog

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidguzman1991/clinical-core/internal/domain"
	"github.com/davidguzman1991/clinical-core/internal/store"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func seededWriter() *StoreWriter {
	ms := store.NewMemStore(false)
	ms.SeedExtended(domain.ICD10Code{Code: "E11.9", Description: "Diabetes mellitus tipo 2"})
	return New(ms, testLogger())
}

func TestRecordSelectionSuccess(t *testing.T) {
	w := seededWriter()

	res, err := w.RecordSelection(context.Background(), Selection{
		OriginalQuery:   "diabetes",
		NormalizedQuery: "diabetes",
		SelectedICD:     "e11.9",
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "E11.9", res.SelectedICD)
}

func TestRecordSelectionValidationError(t *testing.T) {
	w := seededWriter()

	_, err := w.RecordSelection(context.Background(), Selection{
		OriginalQuery:   "diabetes",
		NormalizedQuery: "diabetes",
		SelectedICD:     "!!!",
	})

	require.Error(t, err)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "selected_icd", verr.Field)
}

func TestRecordSelectionNotFound(t *testing.T) {
	w := seededWriter()

	_, err := w.RecordSelection(context.Background(), Selection{
		OriginalQuery:   "diabetes",
		NormalizedQuery: "diabetes",
		SelectedICD:     "Z99.9",
	})

	require.Error(t, err)
	var nferr *domain.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestRecordSelectionRequiresNonEmptyQueries(t *testing.T) {
	w := seededWriter()

	_, err := w.RecordSelection(context.Background(), Selection{
		OriginalQuery:   "",
		NormalizedQuery: "diabetes",
		SelectedICD:     "E11.9",
	})

	require.Error(t, err)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "original_query", verr.Field)
}

func TestRecordSearchNeverReturnsAnError(t *testing.T) {
	w := seededWriter()
	// RecordSearch has no return value to assert on; this test just
	// documents that it must not panic even against an empty store.
	w.RecordSearch(context.Background(), SearchEvent{Query: "dolor", NormalizedQuery: "dolor"})
}
