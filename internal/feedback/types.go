// Package feedback stores clinician corrections to previously logged code
// selections. Where internal/searchlog only ever records what a user
// picked, this package closes the loop: a reviewer can later mark that
// pick as right or wrong and supply the code that should have been
// chosen, producing the signal curated-term seeding and dictionary
// maintenance draw on.
package feedback

import (
	"context"
	"io"
	"time"
)

// Correction is a reviewer's verdict on one previously selected code.
type Correction struct {
	ID              int64     `json:"id,omitempty"`
	OriginalQuery   string    `json:"original_query"`
	NormalizedQuery string    `json:"normalized_query"`
	SuggestedICD    string    `json:"suggested_icd"`              // what the pipeline returned and the user selected
	CorrectedICD    string    `json:"corrected_icd"`              // what the reviewer says should have been selected
	Reviewer        string    `json:"reviewer,omitempty"`
	Agreed          bool      `json:"agreed"`                     // SuggestedICD == CorrectedICD
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store defines the interface for correction storage operations.
type Store interface {
	// Save stores or updates a correction for a query+suggestion pair.
	// If a correction for the same normalized_query+suggested_icd
	// exists, it is updated in place.
	Save(ctx context.Context, c *Correction) error

	// Get retrieves the correction for a given normalized query and the
	// code that was originally suggested, or nil if none is recorded.
	Get(ctx context.Context, normalizedQuery, suggestedICD string) (*Correction, error)

	// List returns corrections ordered newest first, paginated.
	List(ctx context.Context, limit, offset int) ([]*Correction, error)

	// Count returns the total number of recorded corrections.
	Count(ctx context.Context) (int64, error)

	// Delete removes a correction by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all corrections to a JSON writer, for feeding
	// dictionary curation review offline.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports corrections from a JSON reader, skipping any
	// that already exist for the same query+suggestion pair. Returns
	// the number imported and skipped.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// CorrectionExport is the JSON export envelope.
type CorrectionExport struct {
	Version     string        `json:"version"`
	ExportedAt  time.Time     `json:"exported_at"`
	Count       int           `json:"count"`
	Corrections []*Correction `json:"corrections"`
}
