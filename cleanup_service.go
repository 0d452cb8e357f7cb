package eventrelay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Cleanup deletes Published rows older than the retention. PublishedFailed
// rows are never deleted here.
func (c *Carrier) Cleanup(ctx context.Context, opts ...CleanupServiceOption) error {
	options := &cleanupServiceOptions{
		publishedRetention: defaultPublishedRetention,
	}
	for _, opt := range opts {
		opt(options)
	}

	start := time.Now()
	defer func() {
		c.metrics.RecordDuration("cleanup.duration", time.Since(start), nil)
	}()

	deleted, err := c.store.PurgePublished(ctx, options.publishedRetention)
	if err != nil {
		c.metrics.IncrementCounter("cleanup.failed", nil)
		return fmt.Errorf("failed to purge published events: %w", err)
	}

	if deleted > 0 {
		c.logger.Info("Deleted old published events",
			zap.Int64("count", deleted),
			zap.Duration("retention", options.publishedRetention),
		)
	}
	c.metrics.RecordGauge("cleanup.deleted_events", float64(deleted), nil)
	return nil
}
