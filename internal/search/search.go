// Package search implements the end-to-end orchestrator: normalize,
// classify, retrieve (with its retry plan), rank, post-process, and
// emit a structured event for every request.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidguzman1991/clinical-core/internal/classify"
	"github.com/davidguzman1991/clinical-core/internal/config"
	"github.com/davidguzman1991/clinical-core/internal/domain"
	"github.com/davidguzman1991/clinical-core/internal/normalize"
	"github.com/davidguzman1991/clinical-core/internal/rank"
	"github.com/davidguzman1991/clinical-core/internal/retrieve"
	"github.com/davidguzman1991/clinical-core/internal/searchlog"
	"github.com/davidguzman1991/clinical-core/internal/store"
)

// Request is one caller's search ask.
type Request struct {
	Query     string
	Limit     int
	UserID    string
	SessionID string
	Specialty string
	TagsFilter []string
}

// Response is the fully ranked, post-processed result set plus the
// diagnostics the event log also carries.
type Response struct {
	Results   []domain.RankedResult
	Intent    string
	Source    string // which attempt won: "base", "variant:<name>", "relaxed", "dictionary", or "" if none
	Truncated bool
}

// Orchestrator drives the NORMALIZE -> CLASSIFY -> RETRIEVE -> RANK ->
// POSTPROCESS -> EMIT state machine of one search request.
type Orchestrator struct {
	store     store.Store
	retriever *retrieve.Retriever
	engine    *rank.ScoringEngine
	writer    searchlog.Writer
	cfg       *config.SearchConfig
	log       *logrus.Logger
}

// New wires an Orchestrator from its collaborators.
func New(st store.Store, retriever *retrieve.Retriever, engine *rank.ScoringEngine, writer searchlog.Writer, cfg *config.SearchConfig, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{store: st, retriever: retriever, engine: engine, writer: writer, cfg: cfg, log: log}
}

// variantExpansion is the clinically curated rule from spec section
// 4.6: headache-shaped queries also try the clinical terms for it.
func variantExpansion(tokens []string) []string {
	hasDolor := false
	hasCabe := false
	for _, t := range tokens {
		if t == "dolor" {
			hasDolor = true
		}
		if strings.HasPrefix(t, "cabe") {
			hasCabe = true
		}
	}
	if hasDolor && hasCabe {
		return []string{"cefalea", "migrana"}
	}
	return nil
}

// Search runs the full pipeline for one request. It never returns a
// partial result set: either a complete ranked list or an empty one.
func (o *Orchestrator) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return Response{}, domain.NewValidationError("q", "must not be empty", req.Query)
	}

	effectiveLimit := req.Limit
	if effectiveLimit <= 0 {
		effectiveLimit = o.cfg.DefaultLimit
	}
	if effectiveLimit > o.cfg.MaxLimit {
		effectiveLimit = o.cfg.MaxLimit
	}
	candidateLimit := effectiveLimit * o.cfg.CandidateMultiplier

	// NORMALIZE + CLASSIFY
	isCode := classify.IsCodeQuery(req.Query)

	var normalizedQuery, compactQuery, intent string
	if isCode {
		normalizedQuery = normalize.NormalizeICDInput(req.Query)
		compactQuery = strings.ReplaceAll(strings.ReplaceAll(normalizedQuery, ".", ""), " ", "")
	} else {
		normalizedQuery = normalize.NormalizeForNL(req.Query)
		if o.cfg.EnableIntentDetection {
			intent = classify.DetectIntent(normalizedQuery)
		}
	}

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	anatomicalSystem := ""
	if !isCode && normalizedQuery != "" {
		system, err := o.store.OntologyDetect(ctx, normalizedQuery)
		if err != nil {
			o.log.WithFields(logrus.Fields{"query": normalizedQuery, "error": err}).Warn("ontology detection failed")
		} else {
			anatomicalSystem = system
		}
	}

	// RETRIEVE (with retry plan for natural-language queries)
	candidates, source, err := o.retrieveWithRetryPlan(ctx, req, normalizedQuery, compactQuery, isCode, effectiveLimit, candidateLimit)
	if err != nil {
		return Response{}, err
	}

	if !isCode && normalizedQuery != "" {
		dictCandidates, dictErr := o.retriever.DictionaryBoost(ctx, normalizedQuery, normalize.Tokens(normalizedQuery), candidateLimit)
		if dictErr != nil {
			o.log.WithFields(logrus.Fields{"query": normalizedQuery, "error": dictErr}).Warn("dictionary boost lookup failed")
		} else if len(dictCandidates) > 0 {
			candidates = retrieve.MergeCandidates(candidates, dictCandidates)
			if source == "" {
				source = "dictionary"
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	// RANK
	results := o.engine.Rank(candidates, isCode, intent)
	results = o.engine.ApplyAnatomicalBoost(results, anatomicalSystem)

	if stats, err := o.usageStats(ctx, results, req.UserID); err == nil {
		results = o.engine.ApplyFrequencyBoost(results, stats)
	}

	truncated := len(results) > effectiveLimit
	if truncated {
		results = results[:effectiveLimit]
	}

	// POSTPROCESS
	results = groupParentChild(results)

	resp := Response{Results: results, Intent: intent, Source: source, Truncated: truncated}

	// EMIT
	o.emit(req, normalizedQuery, intent, source, len(candidates), resp, time.Since(start))

	if o.cfg.EnableSearchLogging && o.writer != nil {
		go o.writer.RecordSearch(context.Background(), searchlog.SearchEvent{
			UserID:          req.UserID,
			SessionID:       req.SessionID,
			Query:           req.Query,
			NormalizedQuery: normalizedQuery,
			Specialty:       req.Specialty,
		})
	}

	return resp, nil
}

// retrieveWithRetryPlan implements spec section 4.6's retry plan: base
// attempt, then each expanded variant, then the base again with
// min_hits relaxed to 1. Code queries skip all of this and attempt
// exactly once.
func (o *Orchestrator) retrieveWithRetryPlan(ctx context.Context, req Request, normalizedQuery, compactQuery string, isCode bool, effectiveLimit, candidateLimit int) ([]domain.Candidate, string, error) {
	if isCode {
		res, err := o.retriever.Retrieve(ctx, retrieve.Attempt{
			NormalizedQuery: normalizedQuery,
			CompactQuery:    compactQuery,
			QueryIsCode:     true,
			Limit:           candidateLimit,
			TagsFilter:      req.TagsFilter,
		})
		if err != nil {
			return nil, "", err
		}
		return res.Candidates, "base", nil
	}

	tokens := normalize.Tokens(normalizedQuery)
	defaultMinHits := 2
	if len(retrieve.ExtractScoringTokens(normalizedQuery)) < 2 {
		defaultMinHits = 1
	}

	type attempt struct {
		label string
		query string
		minHits int
	}

	attempts := []attempt{{label: "base", query: normalizedQuery, minHits: defaultMinHits}}
	for _, v := range dedupeVariants(variantExpansion(tokens)) {
		attempts = append(attempts, attempt{label: "variant:" + v, query: v, minHits: defaultMinHits})
	}
	attempts = append(attempts, attempt{label: "relaxed", query: normalizedQuery, minHits: 1})

	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		res, err := o.retriever.Retrieve(ctx, retrieve.Attempt{
			NormalizedQuery: a.query,
			Limit:           candidateLimit,
			TagsFilter:      req.TagsFilter,
			UseSimilarity:   true,
			MinTokenHits:    a.minHits,
		})
		if err != nil {
			return nil, "", err
		}
		if len(res.Candidates) > 0 {
			return res.Candidates, a.label, nil
		}
	}

	return nil, "", nil
}

func dedupeVariants(variants []string) []string {
	if len(variants) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(variants))
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (o *Orchestrator) usageStats(ctx context.Context, results []domain.RankedResult, userID string) (map[string]domain.UsageStats, error) {
	if len(results) == 0 {
		return nil, nil
	}
	codes := make([]string, 0, len(results))
	for _, r := range results {
		codes = append(codes, r.Code)
	}
	return o.store.UsageStats(ctx, codes, userID)
}

func (o *Orchestrator) emit(req Request, normalizedQuery, intent, source string, candidateCount int, resp Response, duration time.Duration) {
	fields := logrus.Fields{
		"query_raw":        req.Query,
		"query_normalized": normalizedQuery,
		"intent":           intent,
		"source":           source,
		"candidate_count":  candidateCount,
		"result_count":     len(resp.Results),
		"duration_ms":      duration.Milliseconds(),
	}
	if len(resp.Results) > 0 {
		fields["top_code"] = resp.Results[0].Code
		fields["top_score"] = resp.Results[0].Score
	}
	o.log.WithFields(fields).Info("search completed")
}
