package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
)

func TestCacheRepositoryDisabled(t *testing.T) {
	repo := NewCacheRepository(nil, "archivia:", nil)
	ctx := context.Background()

	var dest map[string]int
	assert.ErrorIs(t, repo.Get(ctx, "stats", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "stats", map[string]int{"a": 1}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "*"))
}

func TestCacheRepositoryNamespacesKeys(t *testing.T) {
	assert.Equal(t, "archivia:analytics:documents", NewCacheRepository(nil, "archivia", nil).key("analytics:documents"))
	assert.Equal(t, "archivia:x", NewCacheRepository(nil, "archivia:", nil).key("x"))
	assert.Equal(t, "x", NewCacheRepository(nil, "", nil).key("x"))
}
