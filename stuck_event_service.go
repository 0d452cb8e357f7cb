package eventrelay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RecoverStuckEvents returns rows claimed longer than the stuck timeout ago
// to NotPublished. Such rows belong to a relay that died mid-batch.
func (c *Carrier) RecoverStuckEvents(ctx context.Context, opts ...StuckEventServiceOption) error {
	options := defaultStuckEventServiceOptions()
	for _, opt := range opts {
		opt(options)
	}

	start := time.Now()
	defer func() {
		c.metrics.RecordDuration("stuck_events.recovery.duration", time.Since(start), nil)
	}()

	recovered, err := c.store.ResetStaleInProgress(ctx, options.stuckTimeout)
	if err != nil {
		return fmt.Errorf("failed to reset stuck events: %w", err)
	}

	if recovered > 0 {
		c.logger.Info("Stuck event recovery completed",
			zap.Int64("recovered_count", recovered),
			zap.Duration("stuck_threshold", options.stuckTimeout),
		)
	}
	c.metrics.RecordGauge("stuck_events.recovered_batch_size", float64(recovered), nil)
	return nil
}
