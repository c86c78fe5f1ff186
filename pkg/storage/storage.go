package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/archivia-api/pkg/config"
)

// ErrInvalidKey is returned for empty or escaping object keys.
var ErrInvalidKey = errors.New("invalid storage key")

// ObjectStorage is the durable home of uploaded files.
type ObjectStorage interface {
	// Put stores the reader under key and returns the key it was stored at.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Presign returns a time-limited download URL for key.
	Presign(ctx context.Context, key string) (string, time.Time, error)
}

// New builds the backend selected by cfg.Driver. publicURL is the externally
// reachable API base used by the local driver to mint download links.
func New(ctx context.Context, cfg config.StorageConfig, publicURL string, logger *zap.Logger) (ObjectStorage, error) {
	switch cfg.Driver {
	case config.StorageDriverS3:
		s, err := NewS3Storage(ctx, cfg, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageDriverLocal, "":
		signer := NewSignedURLSigner(cfg.LocalSigningKey, cfg.PresignExpiration)
		return NewLocalStorage(cfg.LocalDir, signer, publicURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
