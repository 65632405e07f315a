// Package searchlog implements the two append-only write paths of the
// search pipeline: a fire-and-forget search event logged after every
// request, and an explicit, validated code selection.
package searchlog

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/davidguzman1991/clinical-core/internal/domain"
	"github.com/davidguzman1991/clinical-core/internal/store"
)

// selectedCodePattern is spec section 4.7's validation shape for an
// explicit selection's ICD-10 code.
var selectedCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.]{1,9}$`)

// SearchEvent is what the orchestrator logs after every search,
// regardless of whether the user went on to select a code.
type SearchEvent struct {
	UserID          string
	SessionID       string
	Query           string
	NormalizedQuery string
	Specialty       string

	// SelectedTerm and SelectedICD let POST /search/log attach an
	// already-known selection to the event in one write, instead of a
	// bare search event plus a separate selection call.
	SelectedTerm string
	SelectedICD  string
}

// Selection is an explicit user pick of an ICD-10 code for a prior
// search.
type Selection struct {
	OriginalQuery   string
	NormalizedQuery string
	SelectedICD     string
	UserID          string
	SessionID       string
	Specialty       string
}

// SelectionResult is returned on a successful explicit selection.
type SelectionResult struct {
	Success     bool
	Message     string
	SelectedICD string
	Timestamp   time.Time
}

// Writer is the C7 Selection & Log Writer contract.
type Writer interface {
	// RecordSearch logs a search event. It never returns an error the
	// caller must act on — failures are logged internally and
	// suppressed, since the search itself already succeeded (spec
	// section 4.7).
	RecordSearch(ctx context.Context, event SearchEvent)

	// RecordSelection validates and persists an explicit code
	// selection, returning domain.ValidationError, domain.NotFoundError,
	// or domain.SelectionWriteFailureError on failure.
	RecordSelection(ctx context.Context, sel Selection) (SelectionResult, error)
}

// SuggestionReader backs the /search/suggest endpoint.
type SuggestionReader interface {
	Suggest(ctx context.Context, prefix string, limit int) ([]domain.SuggestionEntry, error)
}

// StoreWriter implements Writer and SuggestionReader against a
// store.Store, the way internal/feedback's postgres.Store implemented
// Save/Get/List against a sql.DB in the teacher codebase.
type StoreWriter struct {
	store store.Store
	log   *logrus.Logger
}

// New creates a StoreWriter backed by st.
func New(st store.Store, log *logrus.Logger) *StoreWriter {
	return &StoreWriter{store: st, log: log}
}

func (w *StoreWriter) RecordSearch(ctx context.Context, event SearchEvent) {
	selectedTerm := event.SelectedTerm
	if selectedTerm == "" {
		selectedTerm = event.NormalizedQuery
	}

	entry := domain.SearchLogEntry{
		ID:              uuid.NewString(),
		UserID:          event.UserID,
		SessionID:       event.SessionID,
		Query:           event.Query,
		NormalizedQuery: event.NormalizedQuery,
		SelectedTerm:    selectedTerm,
		SelectedICD:     strings.ToUpper(strings.TrimSpace(event.SelectedICD)),
		Specialty:       event.Specialty,
		CreatedAt:       time.Now(),
	}

	if err := w.store.InsertSearchLog(ctx, entry); err != nil {
		w.log.WithFields(logrus.Fields{
			"query": event.Query,
			"error": err,
		}).Warn("search log write suppressed")
	}
}

func (w *StoreWriter) RecordSelection(ctx context.Context, sel Selection) (SelectionResult, error) {
	selectedICD := strings.ToUpper(strings.TrimSpace(sel.SelectedICD))

	if strings.TrimSpace(sel.OriginalQuery) == "" {
		return SelectionResult{}, domain.NewValidationError("original_query", "must not be empty", sel.OriginalQuery)
	}
	if strings.TrimSpace(sel.NormalizedQuery) == "" {
		return SelectionResult{}, domain.NewValidationError("normalized_query", "must not be empty", sel.NormalizedQuery)
	}
	if !selectedCodePattern.MatchString(selectedICD) {
		return SelectionResult{}, domain.NewValidationError("selected_icd", "must match ^[A-Z0-9][A-Z0-9.]{1,9}$", sel.SelectedICD)
	}

	if _, err := w.store.ExtendedLookup(ctx, selectedICD); err != nil {
		return SelectionResult{}, err
	}

	now := time.Now()
	entry := domain.SearchLogEntry{
		ID:              uuid.NewString(),
		UserID:          sel.UserID,
		SessionID:       sel.SessionID,
		Query:           sel.OriginalQuery,
		NormalizedQuery: sel.NormalizedQuery,
		SelectedTerm:    sel.NormalizedQuery,
		SelectedICD:     selectedICD,
		Specialty:       sel.Specialty,
		CreatedAt:       now,
	}

	if err := w.store.InsertSelectionLog(ctx, entry); err != nil {
		return SelectionResult{}, &domain.SelectionWriteFailureError{Cause: err}
	}

	return SelectionResult{
		Success:     true,
		Message:     "selection recorded",
		SelectedICD: selectedICD,
		Timestamp:   now,
	}, nil
}

func (w *StoreWriter) Suggest(ctx context.Context, prefix string, limit int) ([]domain.SuggestionEntry, error) {
	return w.store.SuggestByPrefix(ctx, strings.ToLower(strings.TrimSpace(prefix)), limit)
}
