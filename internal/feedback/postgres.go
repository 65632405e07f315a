package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store against PostgreSQL. It is a separate
// connection from the pgxpool-backed search path (internal/store): the
// review workflow this backs runs out of band from request serving, so
// a plain database/sql handle is enough.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open database handle. It expects
// the corrections table to already exist (NewPostgresStoreFromURL
// creates it via createPostgresSchema below).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a new connection pool and schema from a
// connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := createPostgresSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func createPostgresSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS code_corrections (
			id SERIAL PRIMARY KEY,
			original_query TEXT NOT NULL,
			normalized_query TEXT NOT NULL,
			suggested_icd TEXT NOT NULL,
			corrected_icd TEXT NOT NULL,
			reviewer TEXT NOT NULL DEFAULT '',
			agreed BOOLEAN NOT NULL DEFAULT false,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(normalized_query, suggested_icd)
		);
		CREATE INDEX IF NOT EXISTS idx_code_corrections_normalized_query ON code_corrections(normalized_query);
		CREATE INDEX IF NOT EXISTS idx_code_corrections_created_at ON code_corrections(created_at);
	`)
	return err
}

// Save upserts a correction keyed by (normalized_query, suggested_icd).
func (s *PostgresStore) Save(ctx context.Context, c *Correction) error {
	now := time.Now()
	c.Agreed = c.SuggestedICD == c.CorrectedICD

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO code_corrections (
			original_query, normalized_query, suggested_icd, corrected_icd,
			reviewer, agreed, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (normalized_query, suggested_icd) DO UPDATE SET
			original_query = EXCLUDED.original_query,
			corrected_icd  = EXCLUDED.corrected_icd,
			reviewer       = EXCLUDED.reviewer,
			agreed         = EXCLUDED.agreed,
			notes          = EXCLUDED.notes,
			updated_at     = EXCLUDED.updated_at
		RETURNING id, created_at
	`,
		c.OriginalQuery, c.NormalizedQuery, c.SuggestedICD, c.CorrectedICD,
		c.Reviewer, c.Agreed, c.Notes, now, now,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}

	c.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, normalizedQuery, suggestedICD string) (*Correction, error) {
	c := &Correction{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, original_query, normalized_query, suggested_icd, corrected_icd,
			reviewer, agreed, notes, created_at, updated_at
		FROM code_corrections
		WHERE normalized_query = $1 AND suggested_icd = $2
		LIMIT 1
	`, normalizedQuery, suggestedICD).Scan(
		&c.ID, &c.OriginalQuery, &c.NormalizedQuery, &c.SuggestedICD, &c.CorrectedICD,
		&c.Reviewer, &c.Agreed, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get correction: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Correction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_query, normalized_query, suggested_icd, corrected_icd,
			reviewer, agreed, notes, created_at, updated_at
		FROM code_corrections
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}
	defer rows.Close()

	var result []*Correction
	for rows.Next() {
		c := &Correction{}
		if err := rows.Scan(
			&c.ID, &c.OriginalQuery, &c.NormalizedQuery, &c.SuggestedICD, &c.CorrectedICD,
			&c.Reviewer, &c.Agreed, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM code_corrections").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count corrections: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM code_corrections WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete correction: %w", err)
	}
	return nil
}

const pgMaxExportLimit = 1000000

func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, pgMaxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list corrections: %w", err)
	}

	export := &CorrectionExport{
		Version:     "1.0",
		ExportedAt:  time.Now(),
		Count:       len(all),
		Corrections: all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	var export CorrectionExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, c := range export.Corrections {
		existing, err := s.Get(ctx, c.NormalizedQuery, c.SuggestedICD)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if existing != nil {
			skipped++
			continue
		}
		if err := s.Save(ctx, c); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
