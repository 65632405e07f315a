package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite, for single-operator or
// offline review workflows that don't warrant a Postgres connection.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed
// correction store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// scanner lets scanCorrection work against both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCorrection(s scanner) (*Correction, error) {
	c := &Correction{}
	err := s.Scan(
		&c.ID, &c.OriginalQuery, &c.NormalizedQuery, &c.SuggestedICD, &c.CorrectedICD,
		&c.Reviewer, &c.Agreed, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS code_corrections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		original_query TEXT NOT NULL,
		normalized_query TEXT NOT NULL,
		suggested_icd TEXT NOT NULL,
		corrected_icd TEXT NOT NULL,
		reviewer TEXT DEFAULT '',
		agreed INTEGER NOT NULL DEFAULT 0,
		notes TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(normalized_query, suggested_icd)
	);

	CREATE INDEX IF NOT EXISTS idx_code_corrections_normalized_query ON code_corrections(normalized_query);
	CREATE INDEX IF NOT EXISTS idx_code_corrections_created_at ON code_corrections(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, c *Correction) error {
	now := time.Now()
	c.Agreed = c.SuggestedICD == c.CorrectedICD

	var existingID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM code_corrections WHERE normalized_query = ? AND suggested_icd = ?",
		c.NormalizedQuery, c.SuggestedICD,
	).Scan(&existingID)

	if err == nil {
		c.ID = existingID
		c.UpdatedAt = now
		_, err = s.db.ExecContext(ctx, `
			UPDATE code_corrections SET
				original_query = ?,
				corrected_icd = ?,
				reviewer = ?,
				agreed = ?,
				notes = ?,
				updated_at = ?
			WHERE id = ?
		`, c.OriginalQuery, c.CorrectedICD, c.Reviewer, c.Agreed, c.Notes, now, existingID)
		return err
	}

	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	c.CreatedAt = now
	c.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO code_corrections (
			original_query, normalized_query, suggested_icd, corrected_icd,
			reviewer, agreed, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.OriginalQuery, c.NormalizedQuery, c.SuggestedICD, c.CorrectedICD,
		c.Reviewer, c.Agreed, c.Notes, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	c.ID = id
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, normalizedQuery, suggestedICD string) (*Correction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_query, normalized_query, suggested_icd, corrected_icd,
			reviewer, agreed, notes, created_at, updated_at
		FROM code_corrections
		WHERE normalized_query = ? AND suggested_icd = ?
		LIMIT 1
	`, normalizedQuery, suggestedICD)

	c, err := scanCorrection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Correction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_query, normalized_query, suggested_icd, corrected_icd,
			reviewer, agreed, notes, created_at, updated_at
		FROM code_corrections
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM code_corrections").Scan(&count)
	return count, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM code_corrections WHERE id = ?", id)
	return err
}

const maxExportLimit = 1000000

func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
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

func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
