// Package eventrelay drains the transactional outbox: it claims committed
// rows, rebuilds their integration events and hands them to a publisher,
// recording each outcome back on the row.
package eventrelay

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/errs"
	"github.com/overtonx/eventrelay/event"
	"github.com/overtonx/eventrelay/storage"
)

// Carrier holds the dependencies shared by the relay services.
type Carrier struct {
	store      storage.Store
	registry   *event.Registry
	publisher  Publisher
	metrics    MetricsCollector
	logger     *zap.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewCarrier builds a Carrier over store. Rows are decoded with registry.
// Without WithPublisher every message is dropped by a NopPublisher.
func NewCarrier(store storage.Store, registry *event.Registry, opts ...CarrierOption) (*Carrier, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", errs.ErrValidation)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", errs.ErrValidation)
	}

	c := &Carrier{
		store:      store,
		registry:   registry,
		logger:     zap.NewNop(),
		metrics:    NewNopMetricsCollector(),
		tracer:     otel.Tracer("github.com/overtonx/eventrelay"),
		propagator: otel.GetTextMapPropagator(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.publisher == nil {
		c.publisher = NewNopPublisher()
	}

	return c, nil
}

// Close releases the publisher.
func (c *Carrier) Close() error {
	return c.publisher.Close()
}
