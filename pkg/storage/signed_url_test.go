package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("documents/paper.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	key, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "documents/paper.pdf", key)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("documents/paper.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, err = signer.Parse(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignedURLSignerTampered(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("documents/paper.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[1] = "b3RoZXIucGRm"
	_, _, err = signer.Parse(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrTokenSignature)

	_, _, err = NewSignedURLSigner("other", time.Minute).Parse(token)
	require.ErrorIs(t, err, ErrTokenSignature)

	_, _, err = signer.Parse("garbage")
	require.ErrorIs(t, err, ErrTokenMalformed)
}
