package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/pkg/jobs"
	"github.com/noah-isme/archivia-api/pkg/mailer"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestSendNowRendersTemplate(t *testing.T) {
	mail := &captureMailer{}
	svc := NewNotificationService(mail, nil, NewMetricsService(), "https://archivia.example.com", nil)

	err := svc.SendNow(context.Background(), Notification{
		Kind: NotifyVerificationCode,
		To:   []string{"sam@x.com"},
		Data: map[string]string{"Name": "<Sam>", "Code": "123456", "TTL": "10m0s"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, mail.count())
	msg := mail.sent[0]
	assert.Equal(t, []string{"sam@x.com"}, msg.To)
	assert.Equal(t, "Verify your Archivia account", msg.Subject)
	assert.Contains(t, msg.HTML, "<strong>123456</strong>")
	assert.Contains(t, msg.HTML, "&lt;Sam&gt;")
	assert.Contains(t, msg.HTML, "https://archivia.example.com")
}

func TestSendNowResolvesRoleRecipients(t *testing.T) {
	mail := &captureMailer{}
	users := newMemUserRepo(
		&models.User{ID: "a", Email: "admin@x.com", IsAdmin: true, IsActive: true},
		&models.User{ID: "s", Email: "root@x.com", IsSuperAdmin: true, IsActive: true},
	)
	svc := NewNotificationService(mail, users, nil, "", nil)

	require.NoError(t, svc.SendNow(context.Background(), Notification{
		Kind: NotifyDeletionRequested,
		Role: models.RoleSuperAdmin,
		Data: map[string]string{"Requester": "Sam", "Title": "Paper", "Reason": "duplicate"},
	}))
	require.Equal(t, 1, mail.count())
	assert.Equal(t, []string{"root@x.com"}, mail.sent[0].To)
}

func TestSendNowErrors(t *testing.T) {
	mail := &captureMailer{err: errBoom}
	svc := NewNotificationService(mail, nil, NewMetricsService(), "", nil)

	err := svc.SendNow(context.Background(), Notification{Kind: NotifyUploadReceived, To: []string{"a@x.com"}})
	assert.ErrorIs(t, err, errBoom)

	err = svc.SendNow(context.Background(), Notification{Kind: NotificationKind("nope"), To: []string{"a@x.com"}})
	assert.Error(t, err)

	err = svc.SendNow(context.Background(), Notification{Kind: NotifyUploadReceived})
	assert.Error(t, err)
}

func TestEveryKindHasTemplate(t *testing.T) {
	kinds := []NotificationKind{
		NotifyVerificationCode, NotifyPasswordChangeCode, NotifyProfileUpdateCode, NotifyPasswordReset,
		NotifyUploadReceived, NotifyNewSubmission, NotifyDocumentApproved, NotifyDocumentRejected,
		NotifyArchiveRequested, NotifyArchiveApproved, NotifyArchiveRejected, NotifyDeletionRequested,
		NotifyDeletionRejected, NotifyAccountArchive,
	}
	svc := NewNotificationService(&captureMailer{}, nil, nil, "", nil)
	for _, kind := range kinds {
		subject, body, err := svc.render(Notification{Kind: kind})
		require.NoError(t, err, kind)
		assert.NotEmpty(t, subject, kind)
		assert.NotContains(t, body, "<no value>", kind)
	}
}

func TestDispatchThroughQueue(t *testing.T) {
	mail := &captureMailer{}
	svc := NewNotificationService(mail, nil, nil, "", nil)
	queue := &recordingQueue{}
	svc.UseQueue(queue)

	n := Notification{Kind: NotifyDocumentApproved, To: []string{"sam@x.com"}, Data: map[string]string{"Title": "Paper"}}
	svc.Dispatch(n)
	require.Equal(t, 1, queue.count())
	assert.Zero(t, mail.count())

	require.NoError(t, svc.Handle(context.Background(), queue.jobs[0]))
	assert.Equal(t, 1, mail.count())
	assert.Error(t, svc.Handle(context.Background(), jobs.Job{Type: JobTypeNotification, Payload: "x"}))
}

func TestDispatchWithoutQueueSendsInBackground(t *testing.T) {
	mail := &captureMailer{}
	svc := NewNotificationService(mail, nil, nil, "", nil)

	svc.Dispatch(Notification{Kind: NotifyDocumentRejected, To: []string{"sam@x.com"}, Data: map[string]string{"Note": "needs an abstract"}})
	assert.Eventually(t, func() bool { return mail.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDispatchQueueFullIsDropped(t *testing.T) {
	mail := &captureMailer{}
	svc := NewNotificationService(mail, nil, nil, "", nil)
	svc.UseQueue(&recordingQueue{err: jobs.ErrQueueFull})

	svc.Dispatch(Notification{Kind: NotifyDocumentApproved, To: []string{"sam@x.com"}})
	assert.Zero(t, mail.count())
}
