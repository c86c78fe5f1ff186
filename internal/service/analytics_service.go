package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/archivia-api/internal/models"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
	"github.com/noah-isme/archivia-api/pkg/export"
	"github.com/noah-isme/archivia-api/pkg/jobs"
)

// JobTypeSearchRecorded carries one search term to be counted.
const JobTypeSearchRecorded = "analytics.search"

const (
	cacheKeyTopSearches   = "analytics:searches:"
	cacheKeyDocumentStats = "analytics:documents"
	topViewedLimit        = 10
)

type searchAnalyticsRepository interface {
	IncrementSearch(ctx context.Context, term string, at time.Time) error
	TopSearches(ctx context.Context, limit int) ([]models.SearchTerm, error)
}

type documentStatsRepository interface {
	Stats(ctx context.Context) (*models.DocumentStats, error)
	TopViewed(ctx context.Context, limit int) ([]models.DocumentSummary, error)
}

type searchEvent struct {
	Term string
	At   time.Time
}

// ExportFile is a rendered analytics report.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AnalyticsService counts searches and serves cached corpus statistics.
type AnalyticsService struct {
	searches searchAnalyticsRepository
	docs     documentStatsRepository
	cache    *CacheService
	metrics  *MetricsService
	queue    jobEnqueuer
	reports  map[models.ExportFormat]export.Renderer
	logger   *zap.Logger
	limit    int
	now      func() time.Time
}

// NewAnalyticsService constructs an analytics service. defaultLimit bounds
// TopSearches when the caller passes no limit.
func NewAnalyticsService(searches searchAnalyticsRepository, docs documentStatsRepository, cache *CacheService, metrics *MetricsService, defaultLimit int, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &AnalyticsService{
		searches: searches,
		docs:     docs,
		cache:    cache,
		metrics:  metrics,
		reports: map[models.ExportFormat]export.Renderer{
			models.ExportCSV: export.NewCSVExporter(),
			models.ExportPDF: export.NewPDFExporter(),
		},
		logger: logger,
		limit:  defaultLimit,
		now:    time.Now,
	}
}

// UseQueue routes RecordSearch through the background queue.
func (s *AnalyticsService) UseQueue(q jobEnqueuer) {
	s.queue = q
}

// RecordSearch counts term without blocking the caller. Failures are logged.
func (s *AnalyticsService) RecordSearch(term string) {
	term = strings.TrimSpace(term)
	if term == "" {
		return
	}
	event := searchEvent{Term: term, At: s.now().UTC()}
	if s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{Type: JobTypeSearchRecorded, Payload: event}); err != nil {
			s.logger.Warn("search analytics dropped", zap.String("term", term), zap.Error(err))
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.searches.IncrementSearch(ctx, event.Term, event.At); err != nil {
			s.logger.Warn("search analytics failed", zap.String("term", term), zap.Error(err))
		}
	}()
}

// Handle is the queue handler for JobTypeSearchRecorded jobs.
func (s *AnalyticsService) Handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(searchEvent)
	if !ok {
		return fmt.Errorf("unexpected search payload %T", job.Payload)
	}
	return s.searches.IncrementSearch(ctx, event.Term, event.At)
}

// TopSearches returns the most frequent search terms. The boolean reports a
// cache hit.
func (s *AnalyticsService) TopSearches(ctx context.Context, limit int) ([]models.SearchTerm, bool, error) {
	if limit <= 0 {
		limit = s.limit
	}
	if limit > 100 {
		limit = 100
	}
	return Remember(ctx, s.cache, cacheKeyTopSearches+strconv.Itoa(limit), func(ctx context.Context) ([]models.SearchTerm, error) {
		start := time.Now()
		terms, err := s.searches.TopSearches(ctx, limit)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load search analytics")
		}
		s.metrics.ObserveDBQuery("analytics_top_searches", time.Since(start))
		if terms == nil {
			terms = []models.SearchTerm{}
		}
		return terms, nil
	})
}

// DocumentStats returns counts per state, total views and the most viewed
// public documents.
func (s *AnalyticsService) DocumentStats(ctx context.Context) (*models.DocumentStats, bool, error) {
	return Remember(ctx, s.cache, cacheKeyDocumentStats, s.loadDocumentStats)
}

func (s *AnalyticsService) loadDocumentStats(ctx context.Context) (*models.DocumentStats, error) {
	start := time.Now()
	stats, err := s.docs.Stats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document statistics")
	}
	top, err := s.docs.TopViewed(ctx, topViewedLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document statistics")
	}
	s.metrics.ObserveDBQuery("analytics_document_stats", time.Since(start))
	stats.TopViewed = top
	stats.GeneratedAt = s.now().UTC()
	return stats, nil
}

// InvalidateDocumentStats drops cached document statistics.
func (s *AnalyticsService) InvalidateDocumentStats(ctx context.Context) {
	s.cache.Invalidate(ctx, cacheKeyDocumentStats)
}

// SystemMetrics returns the process instrumentation snapshot.
func (s *AnalyticsService) SystemMetrics() models.SystemMetrics {
	return s.metrics.Snapshot()
}

// Export renders document statistics and top searches as a CSV or PDF report.
func (s *AnalyticsService) Export(ctx context.Context, format models.ExportFormat) (*ExportFile, error) {
	renderer, ok := s.reports[format]
	if !ok {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "unsupported export format", map[string]string{"format": "must be csv or pdf"})
	}

	stats, _, err := s.DocumentStats(ctx)
	if err != nil {
		return nil, err
	}
	terms, _, err := s.TopSearches(ctx, 0)
	if err != nil {
		return nil, err
	}

	payload, err := renderer.Render(buildAnalyticsDataset(stats, terms))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("archivia-analytics-%s.%s", s.now().UTC().Format("20060102"), format),
		ContentType: renderer.ContentType(),
		Data:        payload,
	}, nil
}

func buildAnalyticsDataset(stats *models.DocumentStats, terms []models.SearchTerm) export.Dataset {
	headers := []string{"section", "name", "value"}
	row := func(section, name string, value int64) map[string]string {
		return map[string]string{"section": section, "name": name, "value": strconv.FormatInt(value, 10)}
	}
	rows := []map[string]string{
		row("documents", "total", stats.Total),
		row("documents", "pending", stats.Pending),
		row("documents", "approved", stats.Approved),
		row("documents", "rejected", stats.Rejected),
		row("documents", "archived", stats.Archived),
		row("documents", "archive requests", stats.ArchiveRequests),
		row("documents", "deletion requests", stats.DeletionRequests),
		row("documents", "total views", stats.TotalViews),
	}
	for _, doc := range stats.TopViewed {
		rows = append(rows, row("most viewed", doc.Title, doc.Views))
	}
	for _, term := range terms {
		rows = append(rows, row("top searches", term.Term, term.Count))
	}
	return export.Dataset{Title: "Archivia analytics", Headers: headers, Rows: rows}
}
