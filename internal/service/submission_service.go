package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/archivia-api/internal/dto"
	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/pkg/analyzer"
	"github.com/noah-isme/archivia-api/pkg/database"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
	"github.com/noah-isme/archivia-api/pkg/preview"
)

type documentWriter interface {
	TitleExists(ctx context.Context, title string) (bool, error)
	Create(ctx context.Context, doc *models.Document) error
}

type objectWriter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// SubmissionConfig bounds accepted uploads.
type SubmissionConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

// SubmissionService runs the upload pipeline: analysis, preview rendering and
// storage run concurrently, and the stored file is removed again whenever the
// submission is not persisted.
type SubmissionService struct {
	docs     documentWriter
	store    objectWriter
	analyzer analyzer.Analyzer
	previews preview.Renderer
	cleaner  *StorageCleaner
	notify   notifier
	audit    auditLogger
	stats    statsInvalidator
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      SubmissionConfig
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(docs documentWriter, store objectWriter, a analyzer.Analyzer, r preview.Renderer, cleaner *StorageCleaner, notify notifier, audit auditLogger, stats statsInvalidator, metrics *MetricsService, logger *zap.Logger, cfg SubmissionConfig) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if r == nil {
		r = preview.Noop{}
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 25 << 20
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"application/pdf"}
	}
	return &SubmissionService{
		docs: docs, store: store, analyzer: a, previews: r, cleaner: cleaner,
		notify: notify, audit: audit, stats: stats, metrics: metrics, logger: logger, cfg: cfg,
	}
}

// Submit validates and processes one upload, returning the pending document.
func (s *SubmissionService) Submit(ctx context.Context, in dto.UploadDocumentInput) (*models.Document, error) {
	if !in.OwnerRole.CanUpload() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "your role cannot upload documents")
	}
	if len(in.Data) == 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "file is empty", map[string]string{"file": "is required"})
	}
	if int64(len(in.Data)) > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrTooLarge, fmt.Sprintf("file exceeds the %d MB limit", s.cfg.MaxFileSize>>20))
	}
	mimeType := strings.SplitN(http.DetectContentType(in.Data), ";", 2)[0]
	if !containsString(s.cfg.AllowedMIMEs, mimeType) {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "unsupported file type", map[string]string{"file": "must be one of: " + strings.Join(s.cfg.AllowedMIMEs, ", ")})
	}

	filename := sanitizeFilename(in.Filename)
	key := fmt.Sprintf("documents/%s/%s", uuid.NewString(), filename)

	var (
		meta     *analyzer.Metadata
		pages    []string
		uploaded atomic.Bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.analyzer.Analyze(gctx, in.Data, mimeType)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		meta = m
		return nil
	})
	g.Go(func() error {
		pages = s.previews.Render(gctx, in.Data, filename)
		return nil
	})
	g.Go(func() error {
		if _, err := s.store.Put(gctx, key, bytes.NewReader(in.Data), int64(len(in.Data)), mimeType); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		uploaded.Store(true)
		return nil
	})

	if err := g.Wait(); err != nil {
		if uploaded.Load() {
			s.cleaner.Remove(ctx, key)
		}
		if errors.Is(err, analyzer.ErrOverloaded) {
			s.metrics.RecordUpload(UploadOverloaded)
			return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "the document analysis service is busy, please try again later")
		}
		s.metrics.RecordUpload(UploadFailed)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to process document")
	}

	if !meta.IsSafe {
		s.cleaner.Remove(ctx, key)
		s.metrics.RecordUpload(UploadUnsafe)
		reason := strings.TrimSpace(meta.SafetyReason)
		if reason == "" {
			reason = "content did not pass moderation"
		}
		return nil, appErrors.WithDetails(appErrors.ErrUnprocessable, "document was rejected by content moderation", map[string]string{"reason": reason})
	}

	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	exists, err := s.docs.TitleExists(ctx, title)
	if err != nil {
		s.cleaner.Remove(ctx, key)
		s.metrics.RecordUpload(UploadFailed)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for duplicates")
	}
	if exists {
		s.cleaner.Remove(ctx, key)
		s.metrics.RecordUpload(UploadDuplicate)
		return nil, duplicateTitle(title)
	}

	if pages == nil {
		pages = []string{}
	}
	doc := &models.Document{
		Title:       title,
		Authors:     cleanList(meta.Authors),
		Keywords:    cleanList(meta.Keywords),
		DateCreated: parseLooseDate(meta.DateCreated),
		Journal:     strings.TrimSpace(meta.Journal),
		Abstract:    strings.TrimSpace(meta.Abstract),
		Filename:    filename,
		FilePath:    key,
		FileSize:    int64(len(in.Data)),
		PreviewURLs: pages,
		UserID:      in.OwnerID,
		Status:      models.DocumentPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.cleaner.Remove(ctx, key)
		if _, dup := database.IsUniqueViolation(err); dup {
			s.metrics.RecordUpload(UploadDuplicate)
			return nil, duplicateTitle(title)
		}
		s.metrics.RecordUpload(UploadFailed)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save document")
	}

	s.metrics.RecordUpload(UploadAccepted)
	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &in.OwnerID,
			Action:     models.AuditActionDocumentUpload,
			Resource:   "document",
			ResourceID: &doc.ID,
			NewValues:  []byte(fmt.Sprintf(`{"title":%q}`, doc.Title)),
		}); err != nil {
			s.logger.Warn("failed to record audit log", zap.Error(err))
		}
	}
	if s.stats != nil {
		s.stats.InvalidateDocumentStats(ctx)
	}
	if s.notify != nil {
		if in.OwnerEmail != "" {
			s.notify.Dispatch(Notification{Kind: NotifyUploadReceived, To: []string{in.OwnerEmail},
				Data: map[string]string{"Name": in.OwnerName, "Title": doc.Title}})
		}
		s.notify.Dispatch(Notification{Kind: NotifyNewSubmission, Role: models.RoleAdmin,
			Data: map[string]string{"Title": doc.Title, "Uploader": in.OwnerName}})
	}
	return doc, nil
}

func duplicateTitle(title string) *appErrors.Error {
	return appErrors.WithDetails(appErrors.ErrConflict, "a document with this title already exists", map[string]string{"title": title})
}

// sanitizeFilename keeps the base name and replaces anything outside a
// conservative character set.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "document.pdf"
	}
	return out
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func parseLooseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "2006-01", "2006", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
