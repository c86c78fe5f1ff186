package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/archivia-api/internal/models"
)

// AnalyticsRepository stores search term counters.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository constructs the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// IncrementSearch adds one hit for term, creating the row on first use.
func (r *AnalyticsRepository) IncrementSearch(ctx context.Context, term string, at time.Time) error {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	const query = `INSERT INTO search_analytics (term, count, last_searched_at) VALUES ($1, 1, $2)
ON CONFLICT (term) DO UPDATE SET count = search_analytics.count + 1, last_searched_at = EXCLUDED.last_searched_at`
	if _, err := r.db.ExecContext(ctx, query, term, at); err != nil {
		return fmt.Errorf("increment search term: %w", err)
	}
	return nil
}

// TopSearches returns the most frequent terms.
func (r *AnalyticsRepository) TopSearches(ctx context.Context, limit int) ([]models.SearchTerm, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT term, count, last_searched_at FROM search_analytics ORDER BY count DESC, last_searched_at DESC LIMIT $1`
	terms := []models.SearchTerm{}
	if err := r.db.SelectContext(ctx, &terms, query, limit); err != nil {
		return nil, fmt.Errorf("top searches: %w", err)
	}
	return terms, nil
}
