package models

import "time"

// SearchTerm is one row of search_analytics.
type SearchTerm struct {
	Term           string    `db:"term" json:"term"`
	Count          int64     `db:"count" json:"count"`
	LastSearchedAt time.Time `db:"last_searched_at" json:"last_searched_at"`
}

// DocumentSummary is a compact document reference used in rankings.
type DocumentSummary struct {
	ID    string `db:"id" json:"id"`
	Title string `db:"title" json:"title"`
	Views int64  `db:"views" json:"views"`
}

// DocumentStats aggregates the corpus for the analytics dashboard.
type DocumentStats struct {
	Total            int64             `db:"total" json:"total"`
	Pending          int64             `db:"pending" json:"pending"`
	Approved         int64             `db:"approved" json:"approved"`
	Rejected         int64             `db:"rejected" json:"rejected"`
	Archived         int64             `db:"archived" json:"archived"`
	ArchiveRequests  int64             `db:"archive_requests" json:"archive_requests"`
	DeletionRequests int64             `db:"deletion_requests" json:"deletion_requests"`
	TotalViews       int64             `db:"total_views" json:"total_views"`
	TopViewed        []DocumentSummary `db:"-" json:"top_viewed"`
	GeneratedAt      time.Time         `db:"-" json:"generated_at"`
}

// ExportFormat selects the analytics report encoding.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

// SystemMetrics is a lightweight snapshot of process instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	UploadsAccepted          uint64    `json:"uploads_accepted"`
	UploadsRejected          uint64    `json:"uploads_rejected"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
