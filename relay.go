package eventrelay

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/errs"
)

// Relay runs the outbox workers of one process: processing, stale-claim
// recovery, poison reporting and, when enabled, cleanup. Any number of relays
// may share a store.
type Relay struct {
	carrier    *Carrier
	options    *relayOptions
	processor  *BaseWorker
	dispatcher *Dispatcher
}

// NewRelay builds the worker set. The stuck timeout must exceed the publish
// timeout: a row is renewed right before it is published, so a single publish
// is the longest a live claim goes untouched.
func NewRelay(carrier *Carrier, opts ...RelayOption) (*Relay, error) {
	options := defaultRelayOptions()
	for _, opt := range opts {
		opt(options)
	}

	// The poison report follows the processor's attempt ceiling unless told otherwise.
	processorOptions := defaultEventProcessorOptions()
	for _, opt := range options.processor {
		opt(processorOptions)
	}
	stuckOptions := defaultStuckEventServiceOptions()
	for _, opt := range options.stuck {
		opt(stuckOptions)
	}
	if processorOptions.publishTimeout <= 0 {
		return nil, fmt.Errorf("%w: publish timeout must be positive", errs.ErrValidation)
	}
	if stuckOptions.stuckTimeout <= processorOptions.publishTimeout {
		return nil, fmt.Errorf("%w: stuck timeout %s must exceed publish timeout %s",
			errs.ErrValidation, stuckOptions.stuckTimeout, processorOptions.publishTimeout)
	}
	poisonOptions := append([]PoisonReporterOption{
		WithPoisonReporterMaxAttempts(processorOptions.maxAttempts),
	}, options.poison...)

	r := &Relay{carrier: carrier, options: options}

	r.processor = NewBaseWorker("event_processor", options.processInterval, carrier.logger,
		func(ctx context.Context) error {
			return carrier.ProcessEvents(ctx, options.processor...)
		})

	workers := []Worker{
		r.processor,
		NewBaseWorker("stuck_event_recovery", options.recoverInterval, carrier.logger,
			func(ctx context.Context) error {
				return carrier.RecoverStuckEvents(ctx, options.stuck...)
			}),
		NewBaseWorker("poison_reporter", options.poisonInterval, carrier.logger,
			func(ctx context.Context) error {
				return carrier.ReportPoisonMessages(ctx, poisonOptions...)
			}),
	}
	if options.cleanupEnabled {
		workers = append(workers, NewBaseWorker("cleanup", options.cleanupInterval, carrier.logger,
			func(ctx context.Context) error {
				return carrier.Cleanup(ctx, options.cleanup...)
			}))
	}

	r.dispatcher = NewDispatcher(carrier.logger, workers...)
	return r, nil
}

// Start releases claims orphaned by an earlier crash, then runs the workers
// until ctx ends or Stop is called. It returns an error only when startup
// recovery keeps failing.
func (r *Relay) Start(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := r.carrier.RecoverStuckEvents(ctx, r.options.stuck...); err != nil {
			r.carrier.logger.Warn("Startup recovery failed, retrying", zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.options.startupRetries),
	)
	if err != nil {
		return fmt.Errorf("failed to recover stuck events on startup: %w", err)
	}

	r.processor.Trigger()
	r.dispatcher.Start(ctx)
	return nil
}

// Stop signals the workers to shut down. Start returns once they have.
func (r *Relay) Stop() {
	r.dispatcher.Stop()
}

// Trigger wakes the processor, for example right after a commit.
func (r *Relay) Trigger() {
	r.processor.Trigger()
}
