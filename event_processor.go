package eventrelay

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/errs"
	"github.com/overtonx/eventrelay/storage"
)

// ProcessEvents claims one batch and publishes it row by row in creation
// order. Each row ends Published or PublishedFailed with a retry scheduled,
// unless its claim was released before its turn.
// When ctx ends mid-batch the remaining rows stay InProgress until stale
// recovery releases them.
func (c *Carrier) ProcessEvents(ctx context.Context, opts ...EventProcessorOption) error {
	options := defaultEventProcessorOptions()
	for _, opt := range opts {
		opt(options)
	}

	start := time.Now()
	rows, err := c.store.FetchAndClaim(ctx, options.batchSize, options.maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to claim events: %w", err)
	}
	c.metrics.RecordDuration("event_processor.claim_duration", time.Since(start), nil)

	if len(rows) == 0 {
		return nil
	}

	c.logger.Debug("Claimed events for processing", zap.Int("count", len(rows)))
	c.metrics.RecordGauge("event_processor.batch_size", float64(len(rows)), nil)

	processed, failed := 0, 0
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("Context cancelled during batch processing, leaving claims for recovery",
				zap.Int("unprocessed", len(rows)-i),
				zap.Error(err),
			)
			return err
		}

		if err := c.processRow(ctx, row, options); err != nil {
			failed++
			continue
		}
		processed++
	}

	c.logger.Info("Batch processing completed",
		zap.Int("processed", processed),
		zap.Int("failed", failed),
	)
	c.metrics.RecordDuration("event_processor.duration", time.Since(start), nil)
	return nil
}

func (c *Carrier) processRow(ctx context.Context, row storage.Row, options *eventProcessorOptions) error {
	fields := []zap.Field{
		zap.Stringer("event_id", row.EventID),
		zap.String("event_type", row.EventType),
		zap.Int("attempts", row.Attempts),
	}
	tags := map[string]string{"event_type": row.EventType}

	// Rows wait their turn behind slower publishes. Renewing first keeps stale
	// recovery off a claim this batch still holds, and skips rows it already took.
	if err := c.store.RenewClaim(ctx, row.EventID); err != nil {
		c.metrics.IncrementCounter("event_processor.claim_lost", tags)
		c.logger.Warn("Claim no longer held, skipping event", append(fields, zap.Error(err))...)
		return err
	}

	ctx = c.propagator.Extract(ctx, row.Headers)
	ctx, span := c.tracer.Start(ctx, "outbox.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("outbox.event_id", row.EventID.String()),
			attribute.String("outbox.event_type", row.EventType),
			attribute.Int("outbox.attempts", row.Attempts),
		),
	)
	defer span.End()

	ie, err := c.registry.Decode(row.EventType, row.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		c.metrics.IncrementCounter("event_processor.decode_failed", tags)
		c.logger.Error("Failed to decode event", append(fields, zap.Error(err))...)
		return c.fail(ctx, row, err, options)
	}

	msg := Message{
		EventID:   row.EventID,
		EventType: row.EventType,
		Payload:   row.Payload,
		Headers:   row.Headers,
		CreatedAt: row.CreatedAt,
		Attempts:  row.Attempts,
		Event:     ie,
	}

	publishCtx := ctx
	if options.publishTimeout > 0 {
		var cancel context.CancelFunc
		publishCtx, cancel = context.WithTimeout(ctx, options.publishTimeout)
		defer cancel()
	}

	if err := c.publisher.Publish(publishCtx, msg); err != nil {
		err = fmt.Errorf("%w: %w", errs.ErrPublish, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		c.metrics.IncrementCounter("event_processor.publish_failed", tags)
		c.logger.Warn("Failed to publish event", append(fields, zap.Error(err))...)
		return c.fail(ctx, row, err, options)
	}

	if err := c.store.MarkPublished(context.WithoutCancel(ctx), row.EventID); err != nil {
		c.metrics.IncrementCounter("event_processor.mark_published_failed", tags)
		c.logger.Error("Event published but not marked, it will be redelivered", append(fields, zap.Error(err))...)
		return err
	}

	c.metrics.IncrementCounter("event_processor.publish_success", tags)
	c.logger.Debug("Event published", fields...)
	return nil
}

// fail records cause on the row and schedules the next attempt. The row is
// marked with a detached context so a shutdown does not lose the attempt.
func (c *Carrier) fail(ctx context.Context, row storage.Row, cause error, options *eventProcessorOptions) error {
	attempt := row.Attempts + 1
	next := options.backoffStrategy.CalculateNextAttempt(attempt)

	if err := c.store.MarkFailed(context.WithoutCancel(ctx), row.EventID, next, cause.Error()); err != nil {
		c.logger.Error("Failed to record publish failure",
			zap.Stringer("event_id", row.EventID),
			zap.Error(err),
		)
		return err
	}

	if options.maxAttempts > 0 && attempt >= options.maxAttempts {
		c.metrics.IncrementCounter("event_processor.poison", map[string]string{"event_type": row.EventType})
		c.logger.Error("Event exceeded max attempts and will not be retried",
			zap.Stringer("event_id", row.EventID),
			zap.String("event_type", row.EventType),
			zap.Int("attempts", attempt),
			zap.Error(fmt.Errorf("%w: %w", errs.ErrPoisonMessage, cause)),
		)
		return cause
	}

	c.logger.Info("Scheduled event for retry",
		zap.Stringer("event_id", row.EventID),
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", next),
	)
	return cause
}
