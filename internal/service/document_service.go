package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/archivia-api/internal/models"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
)

type documentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	Search(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error)
	ListByOwner(ctx context.Context, userID string, page, pageSize int) ([]models.Document, int, error)
	ListQueue(ctx context.Context, queue models.DocumentQueue, page, pageSize int) ([]models.Document, int, error)
	IncrementViews(ctx context.Context, id string) error
	ApplyTransition(ctx context.Context, t models.DocumentTransition) error
	Delete(ctx context.Context, id string, requireDeletionRequest bool) (string, error)
}

type urlSigner interface {
	Presign(ctx context.Context, key string) (string, time.Time, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type searchRecorder interface {
	RecordSearch(term string)
}

type statsInvalidator interface {
	InvalidateDocumentStats(ctx context.Context)
}

// DocumentService exposes document reads and the moderation lifecycle.
type DocumentService struct {
	repo     documentRepository
	signer   urlSigner
	cleaner  *StorageCleaner
	users    userLookup
	audit    auditLogger
	notify   notifier
	searches searchRecorder
	stats    statsInvalidator
	metrics  *MetricsService
	logger   *zap.Logger
}

// DocumentServiceOption customises optional collaborators.
type DocumentServiceOption func(*DocumentService)

// WithSearchRecorder records public search terms.
func WithSearchRecorder(r searchRecorder) DocumentServiceOption {
	return func(s *DocumentService) { s.searches = r }
}

// WithStatsInvalidator drops cached statistics after visible changes.
func WithStatsInvalidator(i statsInvalidator) DocumentServiceOption {
	return func(s *DocumentService) { s.stats = i }
}

// WithDocumentMetrics enables transition counters.
func WithDocumentMetrics(m *MetricsService) DocumentServiceOption {
	return func(s *DocumentService) { s.metrics = m }
}

// NewDocumentService constructs a DocumentService.
func NewDocumentService(repo documentRepository, signer urlSigner, cleaner *StorageCleaner, users userLookup, audit auditLogger, notify notifier, logger *zap.Logger, opts ...DocumentServiceOption) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DocumentService{repo: repo, signer: signer, cleaner: cleaner, users: users, audit: audit, notify: notify, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search lists approved, unarchived documents and records the query term.
func (s *DocumentService) Search(ctx context.Context, filter models.DocumentFilter) ([]models.Document, *models.Pagination, error) {
	docs, total, err := s.repo.Search(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search documents")
	}
	if filter.Query != "" && s.searches != nil {
		s.searches.RecordSearch(filter.Query)
	}
	s.attachDownloadURLs(ctx, docs)
	return docs, newPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a document. Unpublished documents are only visible to their
// owner and moderators; everyone else gets NotFound. Views are counted for
// published documents.
func (s *DocumentService) Get(ctx context.Context, viewer *Actor, id string) (*models.Document, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	published := doc.Status == models.DocumentApproved && !doc.IsArchived
	if !published {
		if viewer == nil || (viewer.ID != doc.UserID && !viewer.Role.CanModerateDocuments()) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
	}
	if published {
		if err := s.repo.IncrementViews(ctx, id); err != nil {
			s.logger.Warn("failed to count document view", zap.String("document_id", id), zap.Error(err))
		} else {
			doc.Views++
		}
	}
	docs := []models.Document{*doc}
	s.attachDownloadURLs(ctx, docs)
	return &docs[0], nil
}

// Mine lists the caller's own uploads in any state.
func (s *DocumentService) Mine(ctx context.Context, actor Actor, page, pageSize int) ([]models.Document, *models.Pagination, error) {
	docs, total, err := s.repo.ListByOwner(ctx, actor.ID, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	s.attachDownloadURLs(ctx, docs)
	return docs, newPagination(page, pageSize, total), nil
}

// Queue lists a moderation queue.
func (s *DocumentService) Queue(ctx context.Context, actor Actor, queue models.DocumentQueue, page, pageSize int) ([]models.Document, *models.Pagination, error) {
	if !actor.Role.CanModerateDocuments() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}
	docs, total, err := s.repo.ListQueue(ctx, queue, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list review queue")
	}
	s.attachDownloadURLs(ctx, docs)
	return docs, newPagination(page, pageSize, total), nil
}

// Transition applies a lifecycle event on behalf of actor. Deletion events
// remove the row and then the stored file.
func (s *DocumentService) Transition(ctx context.Context, actor Actor, id string, event models.DocumentEvent, reason string) (*models.Document, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeEvent(actor, doc, event); err != nil {
		return nil, err
	}

	plan, err := PlanTransition(doc, event, reason)
	switch {
	case errors.Is(err, errReasonRequired):
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "a reason is required", map[string]string{"reason": "is required"})
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "document is not in a state that allows this action")
	}

	if plan == nil {
		return nil, s.remove(ctx, actor, doc, event)
	}

	if err := s.repo.ApplyTransition(ctx, *plan); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document was changed by someone else, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update document")
	}

	doc.Status = plan.To.Status
	doc.ArchiveRequested = plan.To.ArchiveRequested
	doc.IsArchived = plan.To.IsArchived
	doc.DeletionRequested = plan.To.DeletionRequested
	doc.ArchiveReason = plan.ArchiveReason
	doc.DeletionReason = plan.DeletionReason

	s.metrics.RecordTransition(event)
	s.recordAudit(ctx, actor, models.AuditActionDocumentReview, doc.ID, fmt.Sprintf(`{"event":%q}`, event))
	if affectsPublicStats(event) && s.stats != nil {
		s.stats.InvalidateDocumentStats(ctx)
	}
	s.notifyTransition(ctx, actor, doc, event, reason)
	return doc, nil
}

// Delete permanently removes a document; owners and moderators may do so.
func (s *DocumentService) Delete(ctx context.Context, actor Actor, id string) error {
	_, err := s.Transition(ctx, actor, id, models.EventDelete, "")
	return err
}

func (s *DocumentService) remove(ctx context.Context, actor Actor, doc *models.Document, event models.DocumentEvent) error {
	key, err := s.repo.Delete(ctx, doc.ID, event == models.EventApproveDeletion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete document")
	}

	s.cleaner.Remove(ctx, key)
	s.metrics.RecordTransition(event)
	s.recordAudit(ctx, actor, models.AuditActionDocumentDelete, doc.ID, fmt.Sprintf(`{"event":%q,"title":%q}`, event, doc.Title))
	if s.stats != nil {
		s.stats.InvalidateDocumentStats(ctx)
	}
	return nil
}

// authorizeEvent maps events to the capability they need. Callers lacking
// access to a document they do not own get NotFound.
func authorizeEvent(actor Actor, doc *models.Document, event models.DocumentEvent) error {
	owner := actor.ID == doc.UserID
	var allowed bool
	switch event {
	case models.EventApprove, models.EventReject, models.EventArchive, models.EventRestore:
		allowed = actor.Role.CanModerateDocuments()
	case models.EventRequestArchive, models.EventRequestDeletion:
		if !owner {
			return appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		allowed = true
	case models.EventApproveArchive, models.EventRejectArchive, models.EventApproveDeletion, models.EventRejectDeletion:
		allowed = actor.Role.CanDecideRequests()
	case models.EventDelete:
		if !owner && !actor.Role.CanModerateDocuments() {
			return appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		allowed = true
	}
	if !allowed {
		return appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions")
	}
	return nil
}

func affectsPublicStats(event models.DocumentEvent) bool {
	switch event {
	case models.EventApprove, models.EventReject, models.EventArchive, models.EventApproveArchive, models.EventRestore:
		return true
	}
	return false
}

func (s *DocumentService) notifyTransition(ctx context.Context, actor Actor, doc *models.Document, event models.DocumentEvent, reason string) {
	if s.notify == nil {
		return
	}
	switch event {
	case models.EventRequestArchive:
		s.notify.Dispatch(Notification{Kind: NotifyArchiveRequested, Role: models.RoleSuperAdmin,
			Data: map[string]string{"Requester": actor.Name, "Title": doc.Title, "Reason": reason}})
		return
	case models.EventRequestDeletion:
		s.notify.Dispatch(Notification{Kind: NotifyDeletionRequested, Role: models.RoleSuperAdmin,
			Data: map[string]string{"Requester": actor.Name, "Title": doc.Title, "Reason": reason}})
		return
	}

	kind, ok := ownerNotifications[event]
	if !ok || s.users == nil {
		return
	}
	owner, err := s.users.FindByID(ctx, doc.UserID)
	if err != nil {
		s.logger.Warn("cannot notify document owner", zap.String("document_id", doc.ID), zap.Error(err))
		return
	}
	s.notify.Dispatch(Notification{Kind: kind, To: []string{owner.Email},
		Data: map[string]string{"Name": owner.FirstName, "Title": doc.Title, "Note": reason}})
}

var ownerNotifications = map[models.DocumentEvent]NotificationKind{
	models.EventApprove:        NotifyDocumentApproved,
	models.EventReject:         NotifyDocumentRejected,
	models.EventApproveArchive: NotifyArchiveApproved,
	models.EventRejectArchive:  NotifyArchiveRejected,
	models.EventRejectDeletion: NotifyDeletionRejected,
}

// attachDownloadURLs signs file links concurrently. A failed signature
// leaves that document without a link.
func (s *DocumentService) attachDownloadURLs(ctx context.Context, docs []models.Document) {
	if s.signer == nil || len(docs) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range docs {
		doc := &docs[i]
		if doc.FilePath == "" {
			continue
		}
		g.Go(func() error {
			url, _, err := s.signer.Presign(gctx, doc.FilePath)
			if err != nil {
				s.logger.Warn("failed to sign download url", zap.String("document_id", doc.ID), zap.Error(err))
				return nil
			}
			doc.DownloadURL = url
			return nil
		})
	}
	_ = g.Wait()
}

func (s *DocumentService) load(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return doc, nil
}

func (s *DocumentService) recordAudit(ctx context.Context, actor Actor, action, docID, values string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     action,
		Resource:   "document",
		ResourceID: &docID,
		NewValues:  []byte(values),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
