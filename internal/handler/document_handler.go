package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/archivia-api/internal/dto"
	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/internal/service"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
	"github.com/noah-isme/archivia-api/pkg/response"
)

type documentService interface {
	Search(ctx context.Context, filter models.DocumentFilter) ([]models.Document, *models.Pagination, error)
	Get(ctx context.Context, viewer *service.Actor, id string) (*models.Document, error)
	Mine(ctx context.Context, actor service.Actor, page, pageSize int) ([]models.Document, *models.Pagination, error)
	Queue(ctx context.Context, actor service.Actor, queue models.DocumentQueue, page, pageSize int) ([]models.Document, *models.Pagination, error)
	Transition(ctx context.Context, actor service.Actor, id string, event models.DocumentEvent, reason string) (*models.Document, error)
	Delete(ctx context.Context, actor service.Actor, id string) error
}

type submissionService interface {
	Submit(ctx context.Context, in dto.UploadDocumentInput) (*models.Document, error)
}

// FileOpener serves locally stored objects behind signed download tokens.
type FileOpener interface {
	Open(token string) (*os.File, string, error)
}

// DocumentHandler serves search, uploads and the moderation lifecycle.
type DocumentHandler struct {
	documents   documentService
	submissions submissionService
	files       FileOpener
	maxUpload   int64
}

// NewDocumentHandler constructs a DocumentHandler. files may be nil when
// objects are served by an external store.
func NewDocumentHandler(documents documentService, submissions submissionService, files FileOpener, maxUpload int64) *DocumentHandler {
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	return &DocumentHandler{documents: documents, submissions: submissions, files: files, maxUpload: maxUpload}
}

// Search godoc
// @Summary Search published documents
// @Tags Documents
// @Produce json
// @Param q query string false "Free text"
// @Param keyword query string false "Keyword"
// @Param author query string false "Author"
// @Param journal query string false "Journal"
// @Param year query int false "Year"
// @Param sort query string false "newest|oldest|title|views"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) Search(c *gin.Context) {
	var query dto.DocumentQuery
	if !bindQuery(c, &query) {
		return
	}
	docs, pagination, err := h.documents.Search(c.Request.Context(), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, pagination)
}

// Get godoc
// @Summary Get a document
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), optionalActor(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Mine godoc
// @Summary List own uploads
// @Tags Documents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /documents/mine [get]
func (h *DocumentHandler) Mine(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	page, size := pageParams(c)
	docs, pagination, err := h.documents.Mine(c.Request.Context(), actor, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, pagination)
}

// Queue godoc
// @Summary List a review queue
// @Tags Documents
// @Produce json
// @Param queue path string true "pending|rejected|archive-requests|deletion-requests|archived"
// @Success 200 {object} response.Envelope
// @Router /documents/admin/{queue} [get]
func (h *DocumentHandler) Queue(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	queue, valid := models.ParseDocumentQueue(c.Param("queue"))
	if !valid {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown review queue"))
		return
	}
	page, size := pageParams(c)
	docs, pagination, err := h.documents.Queue(c.Request.Context(), actor, queue, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, pagination)
}

// Upload godoc
// @Summary Submit a document
// @Description Students and admins upload a PDF; it is analysed, previewed and queued for review
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF file"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /documents/upload [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.ErrTooLarge)
			return
		}
		response.Error(c, appErrors.WithDetails(appErrors.ErrValidation, "a file is required", map[string]string{"file": "is required"}))
		return
	}
	if header.Size > h.maxUpload {
		response.Error(c, appErrors.ErrTooLarge)
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable file"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable file"))
		return
	}

	doc, err := h.submissions.Submit(c.Request.Context(), dto.UploadDocumentInput{
		OwnerID:     actor.ID,
		OwnerRole:   actor.Role,
		OwnerEmail:  actor.Email,
		OwnerName:   actor.Name,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

type transitionBody struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

// Transition returns a handler applying event to the document in the path.
// The optional JSON body carries a reason or reviewer note.
//
// @Summary Apply a lifecycle action
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id}/approve [post]
// @Router /documents/{id}/reject [post]
// @Router /documents/{id}/archive [post]
// @Router /documents/{id}/restore [post]
// @Router /documents/{id}/archive-request [post]
// @Router /documents/{id}/deletion-request [post]
func (h *DocumentHandler) Transition(event models.DocumentEvent) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := currentActor(c)
		if !ok {
			return
		}
		var body transitionBody
		if c.Request.ContentLength != 0 && !bindJSON(c, &body, "invalid request body") {
			return
		}
		reason := strings.TrimSpace(body.Reason)
		if reason == "" {
			reason = strings.TrimSpace(body.Note)
		}
		doc, err := h.documents.Transition(c.Request.Context(), actor, c.Param("id"), event, reason)
		if err != nil {
			response.Error(c, err)
			return
		}
		if doc == nil {
			response.NoContent(c)
			return
		}
		response.JSON(c, http.StatusOK, doc, nil)
	}
}

// Delete godoc
// @Summary Permanently delete a document
// @Tags Documents
// @Param id path string true "Document ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Download serves a locally stored file for a signed token.
func (h *DocumentHandler) Download(c *gin.Context) {
	if h.files == nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	file, name, err := h.files.Open(c.Param("token"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "link is invalid or has expired"))
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file"))
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), file)
}
