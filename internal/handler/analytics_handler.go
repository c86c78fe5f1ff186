package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/archivia-api/internal/middleware"
	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/internal/service"
	"github.com/noah-isme/archivia-api/pkg/response"
)

type analyticsService interface {
	TopSearches(ctx context.Context, limit int) ([]models.SearchTerm, bool, error)
	DocumentStats(ctx context.Context) (*models.DocumentStats, bool, error)
	SystemMetrics() models.SystemMetrics
	Export(ctx context.Context, format models.ExportFormat) (*service.ExportFile, error)
}

// AnalyticsHandler exposes search and repository statistics to moderators.
type AnalyticsHandler struct {
	analytics analyticsService
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(analytics analyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Searches godoc
// @Summary Most frequent search terms
// @Tags Analytics
// @Produce json
// @Param limit query int false "Number of terms"
// @Success 200 {object} response.Envelope
// @Router /analytics/searches [get]
func (h *AnalyticsHandler) Searches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	terms, cacheHit, err := h.analytics.TopSearches(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, terms, nil, middleware.Meta(c))
}

// Documents godoc
// @Summary Repository document statistics
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /analytics/documents [get]
func (h *AnalyticsHandler) Documents(c *gin.Context) {
	stats, cacheHit, err := h.analytics.DocumentStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.Meta(c))
}

// System returns the process instrumentation snapshot.
func (h *AnalyticsHandler) System(c *gin.Context) {
	middleware.SetCacheHit(c, false)
	response.JSON(c, http.StatusOK, h.analytics.SystemMetrics(), nil, middleware.Meta(c))
}

// Export godoc
// @Summary Download the analytics report
// @Tags Analytics
// @Produce application/pdf
// @Produce text/csv
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /analytics/export [get]
func (h *AnalyticsHandler) Export(c *gin.Context) {
	format := models.ExportFormat(c.DefaultQuery("format", string(models.ExportCSV)))
	file, err := h.analytics.Export(c.Request.Context(), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
