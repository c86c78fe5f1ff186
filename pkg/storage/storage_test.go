package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/archivia-api/pkg/config"
)

func TestNewSelectsLocalDriver(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Driver: config.StorageDriverLocal, LocalDir: t.TempDir(), LocalSigningKey: "k"}, "http://api.test", nil)
	require.NoError(t, err)
	_, ok := s.(*LocalStorage)
	assert.True(t, ok)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Driver: "ftp"}, "", nil)
	assert.Error(t, err)
}

func TestNewS3StorageValidatesConfig(t *testing.T) {
	_, err := NewS3Storage(context.Background(), config.StorageConfig{Bucket: "docs"})
	assert.Error(t, err)

	s, err := NewS3Storage(context.Background(), config.StorageConfig{Bucket: "docs", AccessKey: "a", SecretKey: "b", Endpoint: "minio:9000", UsePathStyle: true})
	require.NoError(t, err)
	assert.Equal(t, "docs", s.bucket)

	link, _, err := s.Presign(context.Background(), "documents/paper.pdf")
	require.NoError(t, err)
	assert.Contains(t, link, "http://minio:9000/docs/documents/paper.pdf")
}
