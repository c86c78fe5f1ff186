package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/archivia-api/pkg/jobs"
)

// JobTypeStorageCleanup carries a storage key whose removal failed inline.
const JobTypeStorageCleanup = "storage.cleanup"

type objectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// StorageCleaner removes stored objects after their metadata is gone or was
// never written. Removal is idempotent, so failed attempts are retried from
// the cleanup queue rather than rolled back.
type StorageCleaner struct {
	store   objectDeleter
	queue   jobEnqueuer
	metrics *MetricsService
	logger  *zap.Logger
}

// NewStorageCleaner constructs a StorageCleaner.
func NewStorageCleaner(store objectDeleter, metrics *MetricsService, logger *zap.Logger) *StorageCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StorageCleaner{store: store, metrics: metrics, logger: logger}
}

// UseQueue enables queued retries of failed removals.
func (c *StorageCleaner) UseQueue(q jobEnqueuer) {
	c.queue = q
}

// Remove deletes key, queueing a retry if the first attempt fails. It never
// returns an error to the caller.
func (c *StorageCleaner) Remove(ctx context.Context, key string) {
	if c == nil || c.store == nil || key == "" {
		return
	}
	err := c.store.Delete(ctx, key)
	c.metrics.RecordCleanup(err)
	if err == nil {
		return
	}

	c.logger.Warn("storage cleanup failed", zap.String("key", key), zap.Error(err))
	if c.queue == nil {
		return
	}
	if qerr := c.queue.Enqueue(jobs.Job{Type: JobTypeStorageCleanup, Payload: key}); qerr != nil {
		c.logger.Error("storage cleanup orphaned", zap.String("key", key), zap.Error(qerr))
	}
}

// Handle is the queue handler for JobTypeStorageCleanup jobs.
func (c *StorageCleaner) Handle(ctx context.Context, job jobs.Job) error {
	key, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected cleanup payload %T", job.Payload)
	}
	err := c.store.Delete(ctx, key)
	c.metrics.RecordCleanup(err)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
