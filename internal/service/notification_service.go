package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"go.uber.org/zap"

	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/pkg/jobs"
	"github.com/noah-isme/archivia-api/pkg/mailer"
)

// NotificationKind names an email template.
type NotificationKind string

const (
	NotifyVerificationCode   NotificationKind = "verification_code"
	NotifyPasswordChangeCode NotificationKind = "password_change_code"
	NotifyProfileUpdateCode  NotificationKind = "profile_update_code"
	NotifyPasswordReset      NotificationKind = "password_reset"
	NotifyUploadReceived     NotificationKind = "upload_received"
	NotifyNewSubmission      NotificationKind = "new_submission"
	NotifyDocumentApproved   NotificationKind = "document_approved"
	NotifyDocumentRejected   NotificationKind = "document_rejected"
	NotifyArchiveRequested   NotificationKind = "archive_requested"
	NotifyArchiveApproved    NotificationKind = "archive_approved"
	NotifyArchiveRejected    NotificationKind = "archive_rejected"
	NotifyDeletionRequested  NotificationKind = "deletion_requested"
	NotifyDeletionRejected   NotificationKind = "deletion_rejected"
	NotifyAccountArchive     NotificationKind = "account_archive_decision"
)

// JobTypeNotification is the queue job type carrying a Notification.
const JobTypeNotification = "notification.send"

// Notification is one email to render and send. When To is empty the
// recipients are every active account holding Role.
type Notification struct {
	Kind NotificationKind
	To   []string
	Role models.Role
	Data map[string]string
}

type emailDirectory interface {
	ListEmailsByRole(ctx context.Context, role models.Role) ([]string, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// NotificationService renders templates and delivers them through a Mailer,
// either inline or through the background queue.
type NotificationService struct {
	mailer    mailer.Mailer
	directory emailDirectory
	queue     jobEnqueuer
	metrics   *MetricsService
	logger    *zap.Logger
	appURL    string
}

// NewNotificationService constructs the dispatcher. The queue may be attached
// later with UseQueue since the queue's handler is this service.
func NewNotificationService(m mailer.Mailer, directory emailDirectory, metrics *MetricsService, appURL string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{mailer: m, directory: directory, metrics: metrics, logger: logger, appURL: appURL}
}

// UseQueue routes Dispatch through q.
func (s *NotificationService) UseQueue(q jobEnqueuer) {
	s.queue = q
}

// SendNow renders and sends synchronously, returning the delivery error.
func (s *NotificationService) SendNow(ctx context.Context, n Notification) error {
	recipients, err := s.recipients(ctx, n)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}
	subject, body, err := s.render(n)
	if err != nil {
		return err
	}
	err = s.mailer.Send(ctx, mailer.Message{To: recipients, Subject: subject, HTML: body})
	s.metrics.RecordNotification(string(n.Kind), err)
	if err != nil {
		return fmt.Errorf("send %s: %w", n.Kind, err)
	}
	return nil
}

// Dispatch queues n without waiting for delivery. Failures are logged only.
func (s *NotificationService) Dispatch(n Notification) {
	if s.queue == nil {
		go func() {
			if err := s.SendNow(context.Background(), n); err != nil {
				s.logger.Warn("notification failed", zap.String("kind", string(n.Kind)), zap.Error(err))
			}
		}()
		return
	}
	if err := s.queue.Enqueue(jobs.Job{Type: JobTypeNotification, Payload: n}); err != nil {
		s.logger.Warn("notification dropped", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}

// Handle is the queue handler for JobTypeNotification jobs.
func (s *NotificationService) Handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(Notification)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	return s.SendNow(ctx, n)
}

func (s *NotificationService) recipients(ctx context.Context, n Notification) ([]string, error) {
	if len(n.To) > 0 {
		return n.To, nil
	}
	if n.Role == "" {
		return nil, errors.New("notification has no recipients")
	}
	if s.directory == nil {
		return nil, errors.New("no recipient directory configured")
	}
	emails, err := s.directory.ListEmailsByRole(ctx, n.Role)
	if err != nil {
		return nil, fmt.Errorf("resolve %s recipients: %w", n.Role, err)
	}
	return emails, nil
}

func (s *NotificationService) render(n Notification) (string, string, error) {
	tpl, ok := notificationTemplates[n.Kind]
	if !ok {
		return "", "", fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	data["AppURL"] = s.appURL

	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", n.Kind, err)
	}
	return tpl.subject, buf.String(), nil
}

type notificationTemplate struct {
	subject string
	body    *template.Template
}

func tmpl(subject, body string) notificationTemplate {
	return notificationTemplate{
		subject: subject,
		body:    template.Must(template.New(subject).Parse(layoutOpen + body + layoutClose)),
	}
}

const (
	layoutOpen  = `<div style="font-family:Arial,sans-serif;max-width:560px;margin:auto">`
	layoutClose = `<p style="color:#888;font-size:12px">Archivia &middot; <a href="{{.AppURL}}">{{.AppURL}}</a></p></div>`
)

var notificationTemplates = map[NotificationKind]notificationTemplate{
	NotifyVerificationCode: tmpl("Verify your Archivia account",
		`<p>Hi {{.Name}},</p><p>Your verification code is <strong>{{.Code}}</strong>. It expires in {{.TTL}}.</p>`),
	NotifyPasswordChangeCode: tmpl("Confirm your password change",
		`<p>Hi {{.Name}},</p><p>Use <strong>{{.Code}}</strong> to confirm your new password. It expires in {{.TTL}}.</p>`),
	NotifyProfileUpdateCode: tmpl("Confirm your profile update",
		`<p>Hi {{.Name}},</p><p>Use <strong>{{.Code}}</strong> to confirm the changes to your profile. It expires in {{.TTL}}.</p>`),
	NotifyPasswordReset: tmpl("Reset your Archivia password",
		`<p>Hi {{.Name}},</p><p><a href="{{.Link}}">Reset your password</a>. The link is valid for {{.TTL}}.</p>`),
	NotifyUploadReceived: tmpl("We received your submission",
		`<p>Hi {{.Name}},</p><p>"{{.Title}}" was submitted and is awaiting review.</p>`),
	NotifyNewSubmission: tmpl("New document awaiting review",
		`<p>"{{.Title}}" was submitted by {{.Uploader}} and is waiting in the review queue.</p>`),
	NotifyDocumentApproved: tmpl("Your document was approved",
		`<p>Hi {{.Name}},</p><p>"{{.Title}}" is now published in Archivia.</p>`),
	NotifyDocumentRejected: tmpl("Your document was not approved",
		`<p>Hi {{.Name}},</p><p>"{{.Title}}" was not approved.{{if .Note}} Reviewer note: {{.Note}}{{end}}</p>`),
	NotifyArchiveRequested: tmpl("Archive request awaiting decision",
		`<p>{{.Requester}} asked to archive "{{.Title}}".</p><p>Reason: {{.Reason}}</p>`),
	NotifyArchiveApproved: tmpl("Archive request approved",
		`<p>Hi {{.Name}},</p><p>"{{.Title}}" has been archived.</p>`),
	NotifyArchiveRejected: tmpl("Archive request declined",
		`<p>Hi {{.Name}},</p><p>Your request to archive "{{.Title}}" was declined.</p>`),
	NotifyDeletionRequested: tmpl("Deletion request awaiting decision",
		`<p>{{.Requester}} asked to delete "{{.Title}}".</p><p>Reason: {{.Reason}}</p>`),
	NotifyDeletionRejected: tmpl("Deletion request declined",
		`<p>Hi {{.Name}},</p><p>Your request to delete "{{.Title}}" was declined.</p>`),
	NotifyAccountArchive: tmpl("Account archive request update",
		`<p>Hi {{.Name}},</p><p>Your account archive request was {{.Decision}}.</p>`),
}
