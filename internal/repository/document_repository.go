package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/archivia-api/internal/models"
)

const documentColumns = `id, title, authors, keywords, date_created, journal, abstract, filename, file_path, file_size, preview_urls, user_id, status, archive_requested, is_archived, archive_reason, deletion_requested, deletion_reason, views, created_at, updated_at`

// DocumentRepository handles document metadata persistence.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create stores a new document. Titles are unique; a duplicate surfaces as a
// unique violation from the driver.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = models.DocumentPending
	}
	const query = `INSERT INTO documents
	(id, title, authors, keywords, date_created, journal, abstract, filename, file_path, file_size, preview_urls, user_id, status, archive_requested, is_archived, deletion_requested, views, created_at, updated_at)
	VALUES (:id, :title, :authors, :keywords, :date_created, :journal, :abstract, :filename, :file_path, :file_size, :preview_urls, :user_id, :status, :archive_requested, :is_archived, :deletion_requested, :views, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// TitleExists reports whether a document with exactly this title exists.
func (r *DocumentRepository) TitleExists(ctx context.Context, title string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM documents WHERE title = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, title); err != nil {
		return false, fmt.Errorf("check document title: %w", err)
	}
	return exists, nil
}

// GetByID retrieves one document.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// Search lists approved, unarchived documents matching filter.
func (r *DocumentRepository) Search(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	builder := strings.Builder{}
	builder.WriteString(` FROM documents WHERE status = 'approved' AND is_archived = FALSE`)
	args := make([]interface{}, 0, 5)

	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		n := len(args)
		builder.WriteString(fmt.Sprintf(` AND (LOWER(title) LIKE $%d OR LOWER(abstract) LIKE $%d OR LOWER(array_to_string(keywords, ' ')) LIKE $%d OR LOWER(array_to_string(authors, ' ')) LIKE $%d)`, n, n, n, n))
	}
	if filter.Keyword != "" {
		args = append(args, strings.ToLower(filter.Keyword))
		builder.WriteString(fmt.Sprintf(` AND EXISTS (SELECT 1 FROM unnest(keywords) k WHERE LOWER(k) = $%d)`, len(args)))
	}
	if filter.Author != "" {
		args = append(args, "%"+strings.ToLower(filter.Author)+"%")
		builder.WriteString(fmt.Sprintf(` AND LOWER(array_to_string(authors, ' ')) LIKE $%d`, len(args)))
	}
	if filter.Journal != "" {
		args = append(args, "%"+strings.ToLower(filter.Journal)+"%")
		builder.WriteString(fmt.Sprintf(` AND LOWER(journal) LIKE $%d`, len(args)))
	}
	if filter.Year > 0 {
		args = append(args, filter.Year)
		builder.WriteString(fmt.Sprintf(` AND EXTRACT(YEAR FROM date_created) = $%d`, len(args)))
	}
	where := builder.String()

	orderBy := map[string]string{
		"newest": "created_at DESC",
		"oldest": "created_at ASC",
		"title":  "title ASC",
		"views":  "views DESC",
	}[filter.Sort]
	if orderBy == "" {
		orderBy = "created_at DESC"
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	listQuery := fmt.Sprintf("SELECT %s%s ORDER BY %s LIMIT %d OFFSET %d", documentColumns, where, orderBy, pageSize, (page-1)*pageSize)

	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("search documents: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	return docs, total, nil
}

// ListByOwner returns every document uploaded by userID, newest first.
func (r *DocumentRepository) ListByOwner(ctx context.Context, userID string, page, pageSize int) ([]models.Document, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE user_id = $1 ORDER BY created_at DESC LIMIT %d OFFSET %d`, documentColumns, pageSize, (page-1)*pageSize)
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, userID); err != nil {
		return nil, 0, fmt.Errorf("list owner documents: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM documents WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count owner documents: %w", err)
	}
	return docs, total, nil
}

var queueConditions = map[models.DocumentQueue]string{
	models.QueuePending:          "status = 'pending'",
	models.QueueRejected:         "status = 'rejected'",
	models.QueueArchiveRequests:  "archive_requested = TRUE",
	models.QueueDeletionRequests: "deletion_requested = TRUE",
	models.QueueArchived:         "is_archived = TRUE",
}

// ListQueue returns one admin review queue, oldest first.
func (r *DocumentRepository) ListQueue(ctx context.Context, queue models.DocumentQueue, page, pageSize int) ([]models.Document, int, error) {
	cond, ok := queueConditions[queue]
	if !ok {
		return nil, 0, fmt.Errorf("list queue: unknown queue %q", queue)
	}
	page, pageSize = normalizePage(page, pageSize)
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY updated_at ASC LIMIT %d OFFSET %d`, documentColumns, cond, pageSize, (page-1)*pageSize)
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query); err != nil {
		return nil, 0, fmt.Errorf("list queue: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM documents WHERE `+cond); err != nil {
		return nil, 0, fmt.Errorf("count queue: %w", err)
	}
	return docs, total, nil
}

// IncrementViews bumps the view counter.
func (r *DocumentRepository) IncrementViews(ctx context.Context, id string) error {
	const query = `UPDATE documents SET views = views + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	return nil
}

// ApplyTransition writes t.To only if the row still holds t.From. A row that
// moved on concurrently yields sql.ErrNoRows.
func (r *DocumentRepository) ApplyTransition(ctx context.Context, t models.DocumentTransition) error {
	const query = `UPDATE documents SET
	status = $2, archive_requested = $3, is_archived = $4, deletion_requested = $5,
	archive_reason = $6, deletion_reason = $7, updated_at = $8
	WHERE id = $1 AND status = $9 AND archive_requested = $10 AND is_archived = $11 AND deletion_requested = $12`
	res, err := r.db.ExecContext(ctx, query,
		t.DocumentID,
		t.To.Status, t.To.ArchiveRequested, t.To.IsArchived, t.To.DeletionRequested,
		t.ArchiveReason, t.DeletionReason, time.Now().UTC(),
		t.From.Status, t.From.ArchiveRequested, t.From.IsArchived, t.From.DeletionRequested,
	)
	if err != nil {
		return fmt.Errorf("apply document transition: %w", err)
	}
	return expectAffected(res, "apply document transition")
}

// Delete removes the row and returns its storage key. With
// requireDeletionRequest the row must have a pending deletion request.
func (r *DocumentRepository) Delete(ctx context.Context, id string, requireDeletionRequest bool) (string, error) {
	query := `DELETE FROM documents WHERE id = $1`
	if requireDeletionRequest {
		query += ` AND deletion_requested = TRUE`
	}
	query += ` RETURNING file_path`
	var filePath string
	if err := r.db.GetContext(ctx, &filePath, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("delete document: %w", err)
	}
	return filePath, nil
}

// Stats aggregates document counts and views.
func (r *DocumentRepository) Stats(ctx context.Context) (*models.DocumentStats, error) {
	const query = `SELECT
	COUNT(*) AS total,
	COUNT(*) FILTER (WHERE status = 'pending') AS pending,
	COUNT(*) FILTER (WHERE status = 'approved') AS approved,
	COUNT(*) FILTER (WHERE status = 'rejected') AS rejected,
	COUNT(*) FILTER (WHERE is_archived) AS archived,
	COUNT(*) FILTER (WHERE archive_requested) AS archive_requests,
	COUNT(*) FILTER (WHERE deletion_requested) AS deletion_requests,
	COALESCE(SUM(views), 0) AS total_views
	FROM documents`
	var stats models.DocumentStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	return &stats, nil
}

// TopViewed returns the most viewed public documents.
func (r *DocumentRepository) TopViewed(ctx context.Context, limit int) ([]models.DocumentSummary, error) {
	const query = `SELECT id, title, views FROM documents WHERE status = 'approved' AND is_archived = FALSE ORDER BY views DESC, title ASC LIMIT $1`
	items := []models.DocumentSummary{}
	if err := r.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("top viewed documents: %w", err)
	}
	return items, nil
}
