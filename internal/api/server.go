// Package api exposes the clinical search pipeline over HTTP with gin,
// demonstrating but not constituting the core's contract (internal/search,
// internal/searchlog, internal/store carry the actual logic).
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/davidguzman1991/clinical-core/internal/config"
	"github.com/davidguzman1991/clinical-core/internal/domain"
	"github.com/davidguzman1991/clinical-core/internal/feedback"
	"github.com/davidguzman1991/clinical-core/internal/middleware"
	"github.com/davidguzman1991/clinical-core/internal/search"
	"github.com/davidguzman1991/clinical-core/internal/searchlog"
	"github.com/davidguzman1991/clinical-core/internal/store"
)

// Server is the HTTP binding over the search pipeline.
type Server struct {
	orchestrator *search.Orchestrator
	writer       searchlog.Writer
	reader       searchlog.SuggestionReader
	store        store.Store
	corrections  feedback.Store
	cfg          *config.SearchConfig
	log          *logrus.Logger
	router       *gin.Engine
	server       *http.Server
}

// NewServer wires a Server from the already-constructed pipeline.
// corrections may be nil when no reviewer-correction backend is
// configured; the /icd10/corrections routes then answer 503.
func NewServer(orchestrator *search.Orchestrator, writer searchlog.Writer, reader searchlog.SuggestionReader, st store.Store, corrections feedback.Store, cfg *config.SearchConfig, log *logrus.Logger) *Server {
	if cfg.DebugSearch {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger())
	router.Use(middleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	router.Use(gin.Recovery())

	s := &Server{
		orchestrator: orchestrator,
		writer:       writer,
		reader:       reader,
		store:        st,
		corrections:  corrections,
		cfg:          cfg,
		log:          log,
		router:       router,
	}
	s.setupRoutes()
	return s
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ServerHost, s.cfg.ServerPort)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/clinical/icd10/search", s.handleClinicalSearch)
	s.router.GET("/icd10/search", s.handleSimpleSearch)
	s.router.GET("/icd10/:code", s.handleGetCode)
	s.router.POST("/icd10/select", s.handleSelect)
	s.router.POST("/search/log", s.handleSearchLog)
	s.router.GET("/search/suggest", s.handleSuggest)
	s.router.POST("/icd10/corrections", s.handleSaveCorrection)
	s.router.GET("/icd10/corrections", s.handleListCorrections)
	s.router.DELETE("/icd10/corrections/:id", s.handleDeleteCorrection)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

type clinicalResult struct {
	Code          string                `json:"code"`
	Label         string                `json:"label"`
	Score         float64               `json:"score"`
	Source        domain.MatchSource    `json:"source"`
	MatchFeatures domain.MatchFeatures  `json:"match_features"`
	Explanation   string                `json:"explanation"`
}

// handleClinicalSearch implements GET /clinical/icd10/search, spec
// section 6's full explainable surface.
func (s *Server) handleClinicalSearch(c *gin.Context) {
	q := c.Query("q")
	limit := parseLimit(c.Query("limit"), s.cfg.DefaultLimit, 1, 50)

	resp, err := s.orchestrator.Search(c.Request.Context(), search.Request{
		Query: q, Limit: limit, UserID: c.Query("user_id"), Specialty: c.Query("specialty"),
	})
	if err != nil {
		s.writeSearchError(c, err)
		return
	}

	out := make([]clinicalResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, clinicalResult{
			Code: r.Code, Label: r.Label, Score: r.Score, Source: r.Source,
			MatchFeatures: r.MatchFeatures, Explanation: r.Explanation,
		})
	}
	c.JSON(http.StatusOK, out)
}

type simpleResult struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	MatchType   string  `json:"match_type"`
}

// handleSimpleSearch implements GET /icd10/search, spec section 6's
// reduced-shape surface for simpler callers.
func (s *Server) handleSimpleSearch(c *gin.Context) {
	q := c.Query("q")
	limit := parseLimit(c.Query("limit"), 20, 1, 100)

	resp, err := s.orchestrator.Search(c.Request.Context(), search.Request{
		Query: q, Limit: limit, UserID: c.Query("user_id"), Specialty: c.Query("specialty"),
	})
	if err != nil {
		s.writeSearchError(c, err)
		return
	}

	out := make([]simpleResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, simpleResult{
			Code: r.Code, Description: r.Label, Score: r.Score, MatchType: matchType(r.MatchFeatures),
		})
	}
	c.JSON(http.StatusOK, out)
}

func matchType(f domain.MatchFeatures) string {
	switch {
	case f.ExactCodeMatch:
		return "exact"
	case f.PrefixMatch:
		return "prefix"
	case f.DescriptionMatch:
		return "description"
	case f.Similarity > 0:
		return "similarity"
	default:
		return "fuzzy"
	}
}

// handleGetCode implements GET /icd10/{code}.
func (s *Server) handleGetCode(c *gin.Context) {
	code := c.Param("code")

	row, err := s.store.ExtendedLookup(c.Request.Context(), code)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
			return
		}
		s.log.WithError(err).Error("code lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": row.Code, "description": row.Description})
}

type selectRequest struct {
	OriginalQuery   string `json:"original_query"`
	NormalizedQuery string `json:"normalized_query"`
	SelectedICD     string `json:"selected_icd"`
	UserID          string `json:"user_id"`
	SessionID       string `json:"session_id"`
}

// handleSelect implements POST /icd10/select.
func (s *Server) handleSelect(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	result, err := s.writer.RecordSelection(c.Request.Context(), searchlog.Selection{
		OriginalQuery:   req.OriginalQuery,
		NormalizedQuery: req.NormalizedQuery,
		SelectedICD:     req.SelectedICD,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
	})
	if err != nil {
		var valErr *domain.ValidationError
		var notFound *domain.NotFoundError
		switch {
		case errors.As(err, &valErr):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": valErr.Error()})
		case errors.As(err, &notFound):
			c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		default:
			s.log.WithError(err).Error("selection write failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "selection write failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"message":      "selection recorded",
		"selected_icd": result.SelectedICD,
		"timestamp":    result.Timestamp.UTC().Format(time.RFC3339),
	})
}

type searchLogRequest struct {
	Query        string `json:"query"`
	SelectedTerm string `json:"selected_term"`
	SelectedICD  string `json:"selected_icd"`
	Specialty    string `json:"specialty"`
	UserID       string `json:"user_id"`
}

// handleSearchLog implements POST /search/log.
func (s *Server) handleSearchLog(c *gin.Context) {
	var req searchLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	s.writer.RecordSearch(c.Request.Context(), searchlog.SearchEvent{
		Query: req.Query, NormalizedQuery: req.Query, UserID: req.UserID,
		Specialty: req.Specialty, SelectedTerm: req.SelectedTerm, SelectedICD: req.SelectedICD,
	})

	c.JSON(http.StatusOK, gin.H{"message": "logged"})
}

// handleSuggest implements GET /search/suggest.
func (s *Server) handleSuggest(c *gin.Context) {
	suggestions, err := s.reader.Suggest(c.Request.Context(), c.Query("query"), 10)
	if err != nil {
		s.log.WithError(err).Error("suggest failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, suggestions)
}

// writeSearchError maps the error taxonomy to HTTP status per spec
// section 7: validation errors are 422 and a cancelled or timed-out
// request is 408; anything else is 500, since the search path itself
// degrades rather than failing.
func (s *Server) writeSearchError(c *gin.Context, err error) {
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": valErr.Error()})
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request cancelled"})
		return
	}
	s.log.WithError(err).Error("search failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseLimit(raw string, def, min, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
