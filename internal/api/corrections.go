package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/davidguzman1991/clinical-core/internal/feedback"
)

type correctionRequest struct {
	OriginalQuery   string `json:"original_query"`
	NormalizedQuery string `json:"normalized_query"`
	SuggestedICD    string `json:"suggested_icd"`
	CorrectedICD    string `json:"corrected_icd"`
	Reviewer        string `json:"reviewer"`
	Notes           string `json:"notes"`
}

// handleSaveCorrection implements POST /icd10/corrections: a reviewer
// recording whether a previously suggested code was the right one.
func (s *Server) handleSaveCorrection(c *gin.Context) {
	if s.corrections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "correction review store not configured"})
		return
	}

	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if req.NormalizedQuery == "" || req.SuggestedICD == "" || req.CorrectedICD == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "normalized_query, suggested_icd and corrected_icd are required"})
		return
	}

	correction := &feedback.Correction{
		OriginalQuery:   req.OriginalQuery,
		NormalizedQuery: req.NormalizedQuery,
		SuggestedICD:    req.SuggestedICD,
		CorrectedICD:    req.CorrectedICD,
		Reviewer:        req.Reviewer,
		Notes:           req.Notes,
	}

	if err := s.corrections.Save(c.Request.Context(), correction); err != nil {
		s.log.WithError(err).Error("saving correction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save correction"})
		return
	}

	c.JSON(http.StatusCreated, correction)
}

// handleListCorrections implements GET /icd10/corrections for reviewer
// dashboards paging through the review backlog.
func (s *Server) handleListCorrections(c *gin.Context) {
	if s.corrections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "correction review store not configured"})
		return
	}

	limit := parseLimit(c.Query("limit"), 50, 1, 500)
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	list, err := s.corrections.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.log.WithError(err).Error("listing corrections failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list corrections"})
		return
	}

	c.JSON(http.StatusOK, list)
}

// handleDeleteCorrection implements DELETE /icd10/corrections/{id}.
func (s *Server) handleDeleteCorrection(c *gin.Context) {
	if s.corrections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "correction review store not configured"})
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "id must be numeric"})
		return
	}

	if err := s.corrections.Delete(c.Request.Context(), id); err != nil {
		s.log.WithError(err).Error("deleting correction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete correction"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
