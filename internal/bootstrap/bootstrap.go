// Package bootstrap prepares a freshly started process's database state:
// it checks the base ICD-10 table is loaded, rebuilds clinical_dictionary
// if its schema has drifted from the expected shape, seeds the
// dictionary idempotently, checks icd10_extended's search_text coverage,
// and runs a couple of canary searches. Failures are logged, never
// returned, so none of this crashes process startup, grounded on the
// original_source app/scripts/startup_bootstrap.py and
// verify_extended_search.py behavior.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/davidguzman1991/clinical-core/internal/config"
	"github.com/davidguzman1991/clinical-core/internal/search"
	"github.com/davidguzman1991/clinical-core/internal/store"
)

// Bootstrap runs the startup checks against a live connection pool.
type Bootstrap struct {
	pool *pgxpool.Pool
	cfg  *config.SearchConfig
	log  *logrus.Logger
}

// New creates a Bootstrap over an already-connected pool.
func New(pool *pgxpool.Pool, cfg *config.SearchConfig, log *logrus.Logger) *Bootstrap {
	return &Bootstrap{pool: pool, cfg: cfg, log: log}
}

// Run executes the startup checks in order. It never returns an error:
// failures are logged instead. An empty or unreadable icd10 table ends
// the run there, skipping every later step including the canaries; a
// failed dictionary rebuild skips the coverage check and seeding but
// not the canaries. orchestrator may be
// nil in which case the canary-search step is skipped (used by tooling
// that bootstraps schema only, before the search pipeline is wired).
func (b *Bootstrap) Run(ctx context.Context, orchestrator *search.Orchestrator) {
	if !b.icd10Loaded(ctx) {
		b.log.Warn("icd10 base table not loaded, skipping clinical_dictionary rebuild and seeding")
		return
	}

	schemaReady := true
	if b.dictionaryNeedsRebuild(ctx) {
		if err := b.rebuildDictionary(ctx); err != nil {
			b.log.WithError(err).Error("clinical_dictionary rebuild failed")
			schemaReady = false
		}
	} else {
		b.log.Info("clinical_dictionary schema already up to date")
	}

	if schemaReady {
		b.checkSearchTextCoverage(ctx)
		if err := b.seedDictionary(ctx); err != nil {
			b.log.WithError(err).Error("clinical_dictionary seeding failed")
		}
	}

	if orchestrator != nil {
		b.runCanarySearches(ctx, orchestrator)
	}
}

func (b *Bootstrap) icd10Loaded(ctx context.Context) bool {
	var count int64
	err := b.pool.QueryRow(ctx, `SELECT count(*) FROM icd10`).Scan(&count)
	if err != nil {
		b.log.WithError(err).Warn("could not read icd10 row count")
		return false
	}
	return count > 0
}

// dictionaryNeedsRebuild reports whether clinical_dictionary is missing
// or has drifted from store.ExpectedDictionarySchema.
func (b *Bootstrap) dictionaryNeedsRebuild(ctx context.Context) bool {
	rows, err := b.pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_name = 'clinical_dictionary'
	`)
	if err != nil {
		b.log.WithError(err).Warn("could not inspect clinical_dictionary columns, assuming rebuild needed")
		return true
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			continue
		}
		present[col] = true
	}
	if len(present) == 0 {
		return true
	}

	for _, want := range store.ExpectedDictionarySchema {
		if !present[want] {
			return true
		}
	}
	return false
}

// rebuildDictionary drops and recreates clinical_dictionary to the
// canonical shape inside one transaction, per the Python bootstrap's
// db.begin() block.
func (b *Bootstrap) rebuildDictionary(ctx context.Context) error {
	b.log.Info("rebuilding clinical_dictionary table to expected schema")

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rebuild transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`DROP TABLE IF EXISTS clinical_dictionary`,
		`CREATE TABLE clinical_dictionary (
			id UUID PRIMARY KEY,
			term TEXT NOT NULL,
			icd10_code VARCHAR(10) NOT NULL REFERENCES icd10(code),
			priority INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX ix_clinical_dictionary_term ON clinical_dictionary(term)`,
		`CREATE INDEX ix_clinical_dictionary_icd10_code ON clinical_dictionary(icd10_code)`,
		`CREATE UNIQUE INDEX ux_clinical_dictionary_term_icd10_code ON clinical_dictionary(term, icd10_code)`,
		`CREATE INDEX idx_clinical_dictionary_trgm ON clinical_dictionary USING gin (term gin_trgm_ops)`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}

	return tx.Commit(ctx)
}

// checkSearchTextCoverage computes icd10_extended's search_text coverage
// against MinSearchTextCoverage and, when it falls short, runs
// enrichMissingSearchText to backfill the gap, mirroring the Python
// bootstrap's coverage-triggers-enrichment contract.
func (b *Bootstrap) checkSearchTextCoverage(ctx context.Context) {
	var coverage *float64
	err := b.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE search_text IS NOT NULL AND search_text <> '')::float8
			/ NULLIF(count(*), 0)::float8
		FROM icd10_extended
	`).Scan(&coverage)
	if err != nil {
		if err == pgx.ErrNoRows {
			return
		}
		b.log.WithError(err).Warn("could not compute icd10_extended search_text coverage")
		return
	}
	if coverage == nil {
		b.log.Warn("icd10_extended has no rows, search_text coverage undefined")
		return
	}

	fields := logrus.Fields{"coverage": *coverage, "threshold": b.cfg.MinSearchTextCoverage}
	if *coverage < b.cfg.MinSearchTextCoverage {
		b.log.WithFields(fields).Warn("icd10_extended search_text coverage below threshold, enriching")
		b.enrichMissingSearchText(ctx)
	} else {
		b.log.WithFields(fields).Info("icd10_extended search_text coverage sufficient")
	}
}

// enrichMissingSearchText backfills search_text for every row where it is
// missing or blank, deriving it from description and tags the same way
// the loader populates it for new rows (lowercased, tags appended so
// tag-driven matches work even on rows a bulk import left unenriched).
// This is a minimal, synchronous backfill, not the original Python
// pipeline's separate enrichment job; it only needs to cover what a
// naive bulk load skipped.
func (b *Bootstrap) enrichMissingSearchText(ctx context.Context) {
	tag, err := b.pool.Exec(ctx, `
		UPDATE icd10_extended
		SET search_text = lower(trim(both ' ' from description || ' ' || coalesce(tags, '')))
		WHERE search_text IS NULL OR search_text = ''
	`)
	if err != nil {
		b.log.WithError(err).Warn("search_text enrichment failed")
		return
	}
	b.log.WithFields(logrus.Fields{"rows_enriched": tag.RowsAffected()}).Info("backfilled icd10_extended search_text")
}

// curatedTerms is the seed set of colloquial Spanish phrase -> ICD-10
// code mappings. Rows whose code is not present in icd10_extended are
// skipped (spec section 9's dictionary drift note: seeding must be
// idempotent and never reference a code that does not exist).
var curatedTerms = []struct {
	term     string
	icd10    string
	priority int
}{
	{"dolor de cabeza", "G43.9", 3},
	{"dolor de pecho", "R07.9", 3},
	{"dolor abdominal", "R10.9", 3},
	{"presion alta", "I10", 2},
	{"azucar alta", "E11.9", 2},
	{"gripe", "J11.1", 1},
	{"tos persistente", "R05", 1},
}

// seedDictionary inserts every curated term whose code exists in
// icd10_extended, skipping ones that do not and skipping terms already
// present for that code (ON CONFLICT DO NOTHING on the unique index
// created by rebuildDictionary).
func (b *Bootstrap) seedDictionary(ctx context.Context) error {
	inserted := 0
	skippedUnknown := 0

	for _, t := range curatedTerms {
		var exists bool
		if err := b.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM icd10_extended WHERE code = $1)`, t.icd10).Scan(&exists); err != nil {
			return fmt.Errorf("checking code %q exists: %w", t.icd10, err)
		}
		if !exists {
			skippedUnknown++
			continue
		}

		tag, err := b.pool.Exec(ctx, `
			INSERT INTO clinical_dictionary (id, term, icd10_code, priority)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (term, icd10_code) DO NOTHING
		`, uuid.NewString(), t.term, t.icd10, t.priority)
		if err != nil {
			return fmt.Errorf("inserting term %q: %w", t.term, err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		}
	}

	b.log.WithFields(logrus.Fields{"inserted": inserted, "skipped_unknown_code": skippedUnknown}).Info("clinical_dictionary seeding complete")
	return nil
}

// canaryQueries are the same two cases original_source's
// verify_extended_search.py runs at startup: one natural-language query
// and one code-shaped query, each expected to return at least one
// result sourced from icd10_extended.
var canaryQueries = []string{"Dolor de cabeza", "E118"}

func (b *Bootstrap) runCanarySearches(ctx context.Context, orchestrator *search.Orchestrator) {
	for _, q := range canaryQueries {
		resp, err := orchestrator.Search(ctx, search.Request{Query: q, Limit: 10})
		if err != nil {
			b.log.WithFields(logrus.Fields{"query": q, "error": err}).Warn("canary search failed")
			continue
		}
		if len(resp.Results) == 0 {
			b.log.WithFields(logrus.Fields{"query": q}).Warn("canary search returned no results")
			continue
		}
		b.log.WithFields(logrus.Fields{
			"query": q, "result_count": len(resp.Results), "top_code": resp.Results[0].Code,
		}).Info("canary search OK")
	}
}
