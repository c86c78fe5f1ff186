package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/pkg/database"
)

var documentColumnNames = []string{"id", "title", "authors", "keywords", "date_created", "journal", "abstract", "filename", "file_path", "file_size", "preview_urls", "user_id", "status", "archive_requested", "is_archived", "archive_reason", "deletion_requested", "deletion_reason", "views", "created_at", "updated_at"}

func documentRow(id, title string, status models.DocumentStatus) []driver.Value {
	now := time.Now()
	return []driver.Value{id, title, "{Ada,Grace}", "{soil}", nil, "Agronomy", "abstract", "paper.pdf", "documents/" + id + "/paper.pdf", 1024, "{}", "u1", string(status), false, false, nil, false, nil, 3, now, now}
}

func TestDocumentCreateSurfacesUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WillReturnError(&pq.Error{Code: database.UniqueViolation, Constraint: "documents_title_key"})

	err := repo.Create(context.Background(), &models.Document{Title: "Soil", Authors: pq.StringArray{"Ada"}})
	require.Error(t, err)
	_, dup := database.IsUniqueViolation(err)
	assert.True(t, dup)
}

func TestDocumentGetByIDScansArrays(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE id = $1")).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(documentColumnNames).AddRow(documentRow("d1", "Soil", models.DocumentApproved)...))

	doc, err := repo.GetByID(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, pq.StringArray{"Ada", "Grace"}, doc.Authors)
	assert.Equal(t, models.DocumentApproved, doc.Status)
	assert.Equal(t, "documents/d1/paper.pdf", doc.FilePath)
}

func TestDocumentSearchBuildsFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'approved' AND is_archived = FALSE AND (LOWER(title) LIKE $1")).
		WithArgs("%soil%", "ecology", 2021).
		WillReturnRows(sqlmock.NewRows(documentColumnNames).AddRow(documentRow("d1", "Soil", models.DocumentApproved)...))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM documents WHERE status = 'approved'")).
		WithArgs("%soil%", "ecology", 2021).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	docs, total, err := repo.Search(context.Background(), models.DocumentFilter{Query: "Soil", Keyword: "Ecology", Year: 2021, Sort: "views"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentApplyTransitionCompareAndSet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	tr := models.DocumentTransition{
		DocumentID: "d1",
		From:       models.DocumentState{Status: models.DocumentApproved, ArchiveRequested: true},
		To:         models.DocumentState{Status: models.DocumentApproved, IsArchived: true},
	}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET")).
		WithArgs("d1", models.DocumentApproved, false, true, false, nil, nil, sqlmock.AnyArg(), models.DocumentApproved, true, false, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.ApplyTransition(context.Background(), tr))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.ApplyTransition(context.Background(), tr), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentDeleteReturnsStorageKey(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM documents WHERE id = $1 AND deletion_requested = TRUE RETURNING file_path")).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"file_path"}).AddRow("documents/d1/paper.pdf"))

	key, err := repo.Delete(context.Background(), "d1", true)
	require.NoError(t, err)
	assert.Equal(t, "documents/d1/paper.pdf", key)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM documents WHERE id = $1 RETURNING file_path")).
		WithArgs("d2").
		WillReturnRows(sqlmock.NewRows([]string{"file_path"}))
	_, err = repo.Delete(context.Background(), "d2", false)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDocumentListQueueRejectsUnknown(t *testing.T) {
	db, _, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	_, _, err := repo.ListQueue(context.Background(), models.DocumentQueue("drafts"), 1, 10)
	assert.Error(t, err)
}

func TestDocumentStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("COUNT\\(\\*\\) FILTER").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "approved", "rejected", "archived", "archive_requests", "deletion_requests", "total_views"}).
			AddRow(10, 2, 6, 2, 1, 1, 0, 99))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Approved)
	assert.Equal(t, int64(99), stats.TotalViews)
}
