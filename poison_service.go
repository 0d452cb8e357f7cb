package eventrelay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/errs"
)

// ReportPoisonMessages surfaces rows that hit the attempt ceiling. They are
// logged at error level and counted in the relay.poison_messages gauge; the
// rows themselves stay untouched for an operator.
func (c *Carrier) ReportPoisonMessages(ctx context.Context, opts ...PoisonReporterOption) error {
	options := &poisonReporterOptions{
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.maxAttempts <= 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		c.metrics.RecordDuration("poison.report.duration", time.Since(start), nil)
	}()

	rows, err := c.store.ListPoison(ctx, options.maxAttempts, options.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list poison messages: %w", err)
	}

	c.metrics.RecordGauge("relay.poison_messages", float64(len(rows)), nil)
	for _, row := range rows {
		c.logger.Error("Poison message requires operator attention",
			zap.Stringer("event_id", row.EventID),
			zap.String("event_type", row.EventType),
			zap.Int("attempts", row.Attempts),
			zap.Time("created_at", row.CreatedAt),
			zap.String("last_error", row.LastError),
			zap.Error(errs.ErrPoisonMessage),
		)
	}
	return nil
}
