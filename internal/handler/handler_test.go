package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/archivia-api/internal/dto"
	"github.com/noah-isme/archivia-api/internal/middleware"
	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/internal/service"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubTokens map[string]models.JWTClaims

func (s stubTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return &claims, nil
}

var testTokens = stubTokens{
	"student": {UserID: "s1", Email: "s1@example.com", FirstName: "Sam", IsActive: true},
	"admin":   {UserID: "a1", Email: "a1@example.com", IsActive: true, IsAdmin: true},
	"super":   {UserID: "r1", Email: "r1@example.com", IsActive: true, IsSuperAdmin: true},
	"adviser": {UserID: "v1", Email: "v1@example.com", IsActive: true, IsAdviser: true},
	// a forged role field must not widen access
	"forged": {UserID: "v2", IsActive: true, IsAdviser: true, Role: models.RoleAdmin},
}

type transitionCall struct {
	actor  service.Actor
	id     string
	event  models.DocumentEvent
	reason string
}

type stubDocuments struct {
	filter      models.DocumentFilter
	viewer      *service.Actor
	transitions []transitionCall
	deleted     []string
	err         error
}

func (s *stubDocuments) Search(_ context.Context, filter models.DocumentFilter) ([]models.Document, *models.Pagination, error) {
	s.filter = filter
	return []models.Document{{ID: "d1", Title: "Engines"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, s.err
}

func (s *stubDocuments) Get(_ context.Context, viewer *service.Actor, id string) (*models.Document, error) {
	s.viewer = viewer
	if s.err != nil {
		return nil, s.err
	}
	return &models.Document{ID: id}, nil
}

func (s *stubDocuments) Mine(context.Context, service.Actor, int, int) ([]models.Document, *models.Pagination, error) {
	return nil, &models.Pagination{Page: 1, PageSize: 20}, s.err
}

func (s *stubDocuments) Queue(context.Context, service.Actor, models.DocumentQueue, int, int) ([]models.Document, *models.Pagination, error) {
	return nil, &models.Pagination{Page: 1, PageSize: 20}, s.err
}

func (s *stubDocuments) Transition(_ context.Context, actor service.Actor, id string, event models.DocumentEvent, reason string) (*models.Document, error) {
	s.transitions = append(s.transitions, transitionCall{actor: actor, id: id, event: event, reason: reason})
	if s.err != nil {
		return nil, s.err
	}
	if event == models.EventApproveDeletion {
		return nil, nil
	}
	return &models.Document{ID: id}, nil
}

func (s *stubDocuments) Delete(_ context.Context, _ service.Actor, id string) error {
	s.deleted = append(s.deleted, id)
	return s.err
}

type stubSubmissions struct {
	inputs []dto.UploadDocumentInput
	err    error
}

func (s *stubSubmissions) Submit(_ context.Context, in dto.UploadDocumentInput) (*models.Document, error) {
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Document{ID: "new", Title: in.Filename, UserID: in.OwnerID}, nil
}

type stubAnalytics struct{}

func (stubAnalytics) TopSearches(context.Context, int) ([]models.SearchTerm, bool, error) {
	return []models.SearchTerm{{Term: "engines", Count: 3}}, true, nil
}

func (stubAnalytics) DocumentStats(context.Context) (*models.DocumentStats, bool, error) {
	return &models.DocumentStats{Total: 4}, false, nil
}

func (stubAnalytics) SystemMetrics() models.SystemMetrics { return models.SystemMetrics{} }

func (stubAnalytics) Export(_ context.Context, format models.ExportFormat) (*service.ExportFile, error) {
	if format != models.ExportCSV {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	return &service.ExportFile{Filename: "report.csv", ContentType: "text/csv", Data: []byte("section,name,value\n")}, nil
}

type stubSettings struct{}

func (stubSettings) List(context.Context) ([]models.SystemSetting, error) {
	return []models.SystemSetting{{Key: "site_name", Value: "Archivia"}}, nil
}

func (stubSettings) Update(_ context.Context, _ service.Actor, key string, req models.UpdateSettingRequest) (*models.SystemSetting, error) {
	return &models.SystemSetting{Key: key, Value: req.Value}, nil
}

func (stubSettings) BulkUpdate(context.Context, service.Actor, dto.BulkUpdateSettingsRequest) ([]models.SystemSetting, error) {
	return nil, nil
}

type routerFixture struct {
	engine      *gin.Engine
	documents   *stubDocuments
	submissions *stubSubmissions
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{documents: &stubDocuments{}, submissions: &stubSubmissions{}}
	r := gin.New()
	r.Use(middleware.ResponseMeta())
	RegisterRoutes(r.Group("/api/v1"), Handlers{
		Auth:      NewAuthHandler(nil, nil),
		Users:     NewUserHandler(nil),
		Documents: NewDocumentHandler(f.documents, f.submissions, nil, 1<<20),
		Analytics: NewAnalyticsHandler(stubAnalytics{}),
		Settings:  NewSettingsHandler(stubSettings{}),
	}, Guards{
		Auth:         middleware.JWT(testTokens, nil),
		OptionalAuth: middleware.OptionalJWT(testTokens, nil),
	})
	f.engine = r
	return f
}

func (f *routerFixture) do(method, path, token string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func multipartPDF(t *testing.T, field, filename string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func TestUploadRoleGating(t *testing.T) {
	cases := []struct {
		token  string
		status int
	}{
		{"student", http.StatusCreated},
		{"admin", http.StatusCreated},
		{"adviser", http.StatusForbidden},
		{"super", http.StatusForbidden},
		{"forged", http.StatusForbidden},
		{"", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			f := newRouterFixture()
			body, ct := multipartPDF(t, "file", "thesis.pdf", []byte("%PDF-1.4 body"))
			rec := f.do(http.MethodPost, "/api/v1/documents/upload", tc.token, body, ct)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status != http.StatusCreated {
				assert.Empty(t, f.submissions.inputs)
			}
		})
	}
}

func TestUploadPassesOwnerFromToken(t *testing.T) {
	f := newRouterFixture()
	body, ct := multipartPDF(t, "file", "thesis.pdf", []byte("%PDF-1.4 body"))

	rec := f.do(http.MethodPost, "/api/v1/documents/upload", "student", body, ct)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.submissions.inputs, 1)
	in := f.submissions.inputs[0]
	assert.Equal(t, "s1", in.OwnerID)
	assert.Equal(t, models.RoleStudent, in.OwnerRole)
	assert.Equal(t, "s1@example.com", in.OwnerEmail)
	assert.Equal(t, "Sam", in.OwnerName)
	assert.Equal(t, "thesis.pdf", in.Filename)
	assert.Equal(t, []byte("%PDF-1.4 body"), in.Data)
}

func TestUploadRejectsMissingAndOversizedFiles(t *testing.T) {
	f := newRouterFixture()
	body, ct := multipartPDF(t, "attachment", "thesis.pdf", []byte("%PDF"))
	rec := f.do(http.MethodPost, "/api/v1/documents/upload", "student", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := bytes.Repeat([]byte("a"), (1<<20)+10)
	body, ct = multipartPDF(t, "file", "huge.pdf", big)
	rec = f.do(http.MethodPost, "/api/v1/documents/upload", "student", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, f.submissions.inputs)
}

func TestUploadSurfacesServiceErrors(t *testing.T) {
	f := newRouterFixture()
	f.submissions.err = appErrors.Clone(appErrors.ErrConflict, "a document with this title already exists")
	body, ct := multipartPDF(t, "file", "thesis.pdf", []byte("%PDF"))

	rec := f.do(http.MethodPost, "/api/v1/documents/upload", "student", body, ct)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSearchIsPublicAndAttachesViewer(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodGet, "/api/v1/documents?q=engines&year=2021&page=2", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "engines", f.documents.filter.Query)
	assert.Equal(t, 2021, f.documents.filter.Year)
	assert.Equal(t, 2, f.documents.filter.Page)

	var env struct {
		Pagination models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.EqualValues(t, 1, env.Pagination.TotalCount)

	rec = f.do(http.MethodGet, "/api/v1/documents/d1", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.documents.viewer)

	rec = f.do(http.MethodGet, "/api/v1/documents/d1", "admin", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.documents.viewer)
	assert.Equal(t, models.RoleAdmin, f.documents.viewer.Role)
}

func TestTransitionRoutesMapToEvents(t *testing.T) {
	cases := []struct {
		path  string
		token string
		event models.DocumentEvent
	}{
		{"/api/v1/documents/d1/approve", "admin", models.EventApprove},
		{"/api/v1/documents/d1/reject", "super", models.EventReject},
		{"/api/v1/documents/d1/archive", "admin", models.EventArchive},
		{"/api/v1/documents/d1/restore", "admin", models.EventRestore},
		{"/api/v1/documents/d1/archive-request", "student", models.EventRequestArchive},
		{"/api/v1/documents/d1/deletion-request", "student", models.EventRequestDeletion},
		{"/api/v1/documents/d1/archive-request/approve", "super", models.EventApproveArchive},
		{"/api/v1/documents/d1/archive-request/reject", "super", models.EventRejectArchive},
		{"/api/v1/documents/d1/deletion-request/reject", "super", models.EventRejectDeletion},
	}
	for _, tc := range cases {
		t.Run(string(tc.event), func(t *testing.T) {
			f := newRouterFixture()
			rec := f.do(http.MethodPost, tc.path, tc.token, []byte(`{"reason":"  outdated  "}`), "application/json")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Len(t, f.documents.transitions, 1)
			call := f.documents.transitions[0]
			assert.Equal(t, tc.event, call.event)
			assert.Equal(t, "d1", call.id)
			assert.Equal(t, "outdated", call.reason)
		})
	}
}

func TestApproveDeletionRespondsNoContent(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodPost, "/api/v1/documents/d1/deletion-request/approve", "super", nil, "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, f.documents.transitions, 1)
	assert.Equal(t, "", f.documents.transitions[0].reason)
}

func TestTransitionAcceptsReviewerNote(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodPost, "/api/v1/documents/d1/reject", "admin", []byte(`{"note":"missing abstract"}`), "application/json")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "missing abstract", f.documents.transitions[0].reason)
}

func TestModerationRoutesRequireRole(t *testing.T) {
	cases := []struct {
		path  string
		token string
	}{
		{"/api/v1/documents/d1/approve", "student"},
		{"/api/v1/documents/d1/approve", "adviser"},
		{"/api/v1/documents/d1/archive-request/approve", "admin"},
		{"/api/v1/documents/d1/deletion-request/approve", "admin"},
	}
	for _, tc := range cases {
		f := newRouterFixture()
		rec := f.do(http.MethodPost, tc.path, tc.token, nil, "")
		assert.Equal(t, http.StatusForbidden, rec.Code, tc.path+" as "+tc.token)
		assert.Empty(t, f.documents.transitions)
	}
}

func TestQueueRejectsUnknownName(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodGet, "/api/v1/documents/admin/everything", "admin", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/documents/admin/archive-requests", "admin", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteDocument(t *testing.T) {
	f := newRouterFixture()
	rec := f.do(http.MethodDelete, "/api/v1/documents/d1", "student", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"d1"}, f.documents.deleted)

	f.documents.err = appErrors.ErrNotFound
	rec = f.do(http.MethodDelete, "/api/v1/documents/d2", "student", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsRoutes(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodGet, "/api/v1/analytics/searches", "student", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/analytics/searches", "adviser", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Contains(t, env.Meta, "processing_time_ms")

	rec = f.do(http.MethodGet, "/api/v1/analytics/export", "admin", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "report.csv")

	rec = f.do(http.MethodGet, "/api/v1/analytics/export?format=xlsx", "admin", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRoutes(t *testing.T) {
	f := newRouterFixture()

	rec := f.do(http.MethodGet, "/api/v1/settings", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "site_name")

	rec = f.do(http.MethodPut, "/api/v1/settings/site_name", "admin", []byte(`{"value":"Repo"}`), "application/json")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPut, "/api/v1/settings/site_name", "super", []byte(`{"value":"Repo"}`), "application/json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"value":"Repo"`)
}

func TestReadyReportsFailingDependency(t *testing.T) {
	r := gin.New()
	RegisterProbes(r, NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "goroutines_total"))
}
