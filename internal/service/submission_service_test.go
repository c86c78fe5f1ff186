package service

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/archivia-api/internal/dto"
	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/pkg/analyzer"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\n%%EOF")

type stubAnalyzer struct {
	meta *analyzer.Metadata
	err  error
}

func (a stubAnalyzer) Analyze(context.Context, []byte, string) (*analyzer.Metadata, error) {
	if a.err != nil {
		return nil, a.err
	}
	m := *a.meta
	return &m, nil
}

type stubRenderer struct{ pages []string }

func (r stubRenderer) Render(context.Context, []byte, string) []string { return r.pages }

type memDocumentWriter struct {
	mu        sync.Mutex
	titles    map[string]bool
	created   []*models.Document
	createErr error
}

func (w *memDocumentWriter) TitleExists(_ context.Context, title string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.titles[title], nil
}

func (w *memDocumentWriter) Create(_ context.Context, doc *models.Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.createErr != nil {
		return w.createErr
	}
	if w.titles == nil {
		w.titles = map[string]bool{}
	}
	if w.titles[doc.Title] {
		return &pq.Error{Code: "23505", Constraint: "documents_title_key"}
	}
	doc.ID = "doc-" + doc.Title
	w.titles[doc.Title] = true
	w.created = append(w.created, doc)
	return nil
}

type submissionFixture struct {
	svc    *SubmissionService
	docs   *memDocumentWriter
	store  *memObjectStore
	notify *recordingNotifier
	audit  *memAuditLog
	stats  *countingInvalidator
}

func newSubmissionFixture(a analyzer.Analyzer) *submissionFixture {
	f := &submissionFixture{
		docs:   &memDocumentWriter{},
		store:  newMemObjectStore(),
		notify: &recordingNotifier{},
		audit:  &memAuditLog{},
		stats:  &countingInvalidator{},
	}
	cleaner := NewStorageCleaner(f.store, nil, nil)
	f.svc = NewSubmissionService(f.docs, f.store, a, stubRenderer{pages: []string{"p1", "p2"}}, cleaner, f.notify, f.audit, f.stats, NewMetricsService(), nil, SubmissionConfig{MaxFileSize: 1 << 20})
	return f
}

func safeMeta(title string) *analyzer.Metadata {
	return &analyzer.Metadata{
		Title:       title,
		Authors:     []string{"Ada Lovelace", " ada lovelace ", ""},
		Keywords:    []string{"engines"},
		DateCreated: "2023-05",
		Abstract:    "On engines.",
		IsSafe:      true,
	}
}

func uploadInput(role models.Role) dto.UploadDocumentInput {
	return dto.UploadDocumentInput{
		OwnerID:     "student-1",
		OwnerRole:   role,
		OwnerEmail:  "student@example.com",
		OwnerName:   "Stu Dent",
		Filename:    "../notes on engines.pdf",
		ContentType: "application/pdf",
		Data:        pdfBytes,
	}
}

func TestSubmitAcceptsSafeDocument(t *testing.T) {
	f := newSubmissionFixture(stubAnalyzer{meta: safeMeta("Analytical Engines")})

	doc, err := f.svc.Submit(context.Background(), uploadInput(models.RoleStudent))
	require.NoError(t, err)

	assert.Equal(t, models.DocumentPending, doc.Status)
	assert.Equal(t, "Analytical Engines", doc.Title)
	assert.Equal(t, pq.StringArray{"Ada Lovelace"}, doc.Authors)
	assert.Equal(t, pq.StringArray{"p1", "p2"}, doc.PreviewURLs)
	require.NotNil(t, doc.DateCreated)
	assert.Equal(t, 2023, doc.DateCreated.Year())
	assert.Equal(t, "notes_on_engines.pdf", doc.Filename)
	assert.True(t, strings.HasPrefix(doc.FilePath, "documents/"))
	assert.Equal(t, 1, f.store.len())
	assert.Empty(t, f.store.deleted)

	assert.ElementsMatch(t, []NotificationKind{NotifyUploadReceived, NotifyNewSubmission}, f.notify.kinds())
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionDocumentUpload, f.audit.logs[0].Action)
	assert.Equal(t, 1, f.stats.calls)
}

func TestSubmitDefaultsTitleToFilename(t *testing.T) {
	meta := safeMeta("")
	f := newSubmissionFixture(stubAnalyzer{meta: meta})

	doc, err := f.svc.Submit(context.Background(), uploadInput(models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, "notes_on_engines", doc.Title)
}

func TestSubmitDuplicateTitleRemovesSecondUpload(t *testing.T) {
	f := newSubmissionFixture(stubAnalyzer{meta: safeMeta("Same Title")})

	first, err := f.svc.Submit(context.Background(), uploadInput(models.RoleStudent))
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), uploadInput(models.RoleStudent))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, http.StatusConflict, appErr.Status)

	require.Len(t, f.store.deleted, 1)
	assert.NotEqual(t, first.FilePath, f.store.deleted[0])
	assert.Equal(t, 1, f.store.len())
	assert.Len(t, f.docs.created, 1)
}

func TestSubmitUniqueViolationOnInsertIsConflict(t *testing.T) {
	f := newSubmissionFixture(stubAnalyzer{meta: safeMeta("Race")})
	f.docs.createErr = &pq.Error{Code: "23505"}

	_, err := f.svc.Submit(context.Background(), uploadInput(models.RoleStudent))
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, appErrors.FromError(err).Status)
	assert.Equal(t, 0, f.store.len())
}

func TestSubmitRejectsUnsafeContent(t *testing.T) {
	meta := safeMeta("Bad")
	meta.IsSafe = false
	meta.SafetyReason = "not an academic paper"
	f := newSubmissionFixture(stubAnalyzer{meta: meta})

	_, err := f.svc.Submit(context.Background(), uploadInput(models.RoleStudent))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.Status)
	assert.Equal(t, map[string]string{"reason": "not an academic paper"}, appErr.Details)

	assert.Len(t, f.store.deleted, 1)
	assert.Equal(t, 0, f.store.len())
	assert.Empty(t, f.docs.created)
	assert.Empty(t, f.notify.kinds())
}

func TestSubmitAnalyzerOverloaded(t *testing.T) {
	f := newSubmissionFixture(stubAnalyzer{err: analyzer.ErrOverloaded})

	_, err := f.svc.Submit(context.Background(), uploadInput(models.RoleStudent))
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, appErrors.FromError(err).Status)
	assert.Equal(t, 0, f.store.len())
	assert.Empty(t, f.docs.created)
}

func TestSubmitMissingVerdictIsInternalError(t *testing.T) {
	f := newSubmissionFixture(stubAnalyzer{err: analyzer.ErrNoVerdict})

	_, err := f.svc.Submit(context.Background(), uploadInput(models.RoleStudent))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, appErrors.FromError(err).Status)
	assert.NotErrorIs(t, err, appErrors.ErrUnprocessable)
	assert.Equal(t, 0, f.store.len())
	assert.Empty(t, f.docs.created)
}

func TestSubmitStorageFailure(t *testing.T) {
	f := newSubmissionFixture(stubAnalyzer{meta: safeMeta("T")})
	f.store.putErr = errBoom

	_, err := f.svc.Submit(context.Background(), uploadInput(models.RoleStudent))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, appErrors.FromError(err).Status)
	assert.Empty(t, f.store.deleted)
}

func TestSubmitRoleGating(t *testing.T) {
	f := newSubmissionFixture(stubAnalyzer{meta: safeMeta("T")})

	for _, role := range []models.Role{models.RoleAdviser, models.RoleSuperAdmin} {
		_, err := f.svc.Submit(context.Background(), uploadInput(role))
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, appErrors.FromError(err).Status, role)
	}
	assert.Equal(t, 0, f.store.len())
}

func TestSubmitValidatesFile(t *testing.T) {
	f := newSubmissionFixture(stubAnalyzer{meta: safeMeta("T")})

	in := uploadInput(models.RoleStudent)
	in.Data = nil
	_, err := f.svc.Submit(context.Background(), in)
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)

	in = uploadInput(models.RoleStudent)
	in.Data = []byte("just some plain text")
	_, err = f.svc.Submit(context.Background(), in)
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)

	in = uploadInput(models.RoleStudent)
	in.Data = append(append([]byte{}, pdfBytes...), make([]byte, 1<<20)...)
	_, err = f.svc.Submit(context.Background(), in)
	assert.Equal(t, http.StatusRequestEntityTooLarge, appErrors.FromError(err).Status)
}

func TestParseLooseDate(t *testing.T) {
	assert.Nil(t, parseLooseDate(""))
	assert.Nil(t, parseLooseDate("sometime"))
	d := parseLooseDate("2021")
	require.NotNil(t, d)
	assert.Equal(t, 2021, d.Year())
}
