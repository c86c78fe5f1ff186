package mailer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/noah-isme/archivia-api/pkg/config"
)

type senderStub struct {
	messages []*gomail.Message
	err      error
}

func (s *senderStub) DialAndSend(m ...*gomail.Message) error {
	s.messages = append(s.messages, m...)
	return s.err
}

func TestSMTPMailerSend(t *testing.T) {
	stub := &senderStub{}
	m := &SMTPMailer{dialer: stub, from: "noreply@archivia.test"}

	err := m.Send(context.Background(), Message{To: []string{"a@x.com"}, Subject: "Verify", HTML: "<p>123456</p>"})
	require.NoError(t, err)
	require.Len(t, stub.messages, 1)
	assert.Equal(t, []string{"a@x.com"}, stub.messages[0].GetHeader("To"))
	assert.Equal(t, []string{"Verify"}, stub.messages[0].GetHeader("Subject"))
}

func TestSMTPMailerPropagatesFailure(t *testing.T) {
	m := &SMTPMailer{dialer: &senderStub{err: errors.New("relay down")}, from: "noreply@archivia.test"}
	err := m.Send(context.Background(), Message{To: []string{"a@x.com"}})
	assert.ErrorContains(t, err, "relay down")
}

func TestNewFallsBackToLogMailer(t *testing.T) {
	m := New(config.MailConfig{}, nil)
	_, ok := m.(*LogMailer)
	assert.True(t, ok)
	assert.Error(t, m.Send(context.Background(), Message{}))
}
