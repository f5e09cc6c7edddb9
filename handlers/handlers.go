package handlers

import (
	"context"
	"errors"
	"net/http"

	"cityfix-analyze-pipeline/database"
	"cityfix-analyze-pipeline/models"

	"github.com/gin-gonic/gin"
)

// Analyzer is the orchestrator surface the HTTP layer exposes.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, imageURL string) (*models.AnalysisResult, error)
	GenerateDescription(ctx context.Context, imageURL string, analysis *models.AnalysisResult) (*models.DescriptionResult, error)
}

// Handlers represents the HTTP handlers.
type Handlers struct {
	analyzer Analyzer
	db       *database.Database
}

// NewHandlers creates new HTTP handlers.
func NewHandlers(analyzer Analyzer, db *database.Database) *Handlers {
	return &Handlers{analyzer: analyzer, db: db}
}

type analyzeImageRequest struct {
	ImageURL string `json:"imageUrl"`
}

type generateDescriptionRequest struct {
	ImageURL      string                 `json:"imageUrl"`
	VisionResults *models.AnalysisResult `json:"visionResults"`
}

// AnalyzeImage handles the synchronous analysis request. Provider
// failures never surface here; only a missing or malformed imageUrl
// produces an error response.
func (h *Handlers) AnalyzeImage(c *gin.Context) {
	var req analyzeImageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ImageURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrImageURLRequired.Message})
		return
	}

	result, err := h.analyzer.AnalyzeImage(c.Request.Context(), req.ImageURL)
	if err != nil {
		var invalid *models.InvalidInputError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GenerateDescription handles the synchronous description request.
// Same error contract as AnalyzeImage.
func (h *Handlers) GenerateDescription(c *gin.Context) {
	var req generateDescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ImageURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrImageURLRequired.Message})
		return
	}

	result, err := h.analyzer.GenerateDescription(c.Request.Context(), req.ImageURL, req.VisionResults)
	if err != nil {
		var invalid *models.InvalidInputError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "description generation failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HealthCheck handles health check requests.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "cityfix-analyze-pipeline",
	})
}

// GetAnalysisByReport returns the stored analysis for a report.
func (h *Handlers) GetAnalysisByReport(c *gin.Context) {
	reportID := c.Param("id")
	analysis, err := h.db.GetAnalysis(c.Request.Context(), reportID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// GetStats returns aggregate pipeline statistics.
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.db.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get analysis stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
