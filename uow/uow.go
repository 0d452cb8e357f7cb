// Package uow is the save coordinator. A Work collects the aggregates touched
// by one use case, writes their state and the outbox rows for their
// integration events in one transaction, and only after commit hands the
// domain events to the in-process bus.
package uow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/errs"
	"github.com/overtonx/eventrelay/event"
	"github.com/overtonx/eventrelay/storage"
)

// Transactor runs fn inside one storage transaction carried by ctx.
type Transactor interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Appender stages outbox rows on the transaction in ctx.
type Appender interface {
	Append(ctx context.Context, row storage.Row) error
}

// Dispatcher receives domain events after commit. *eventbus.Bus implements it.
type Dispatcher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// Translator maps a domain event to its integration event. ok is false for
// events that stay inside the process.
type Translator func(ev event.DomainEvent) (ie event.IntegrationEvent, ok bool)

// PersistFunc writes an aggregate's own state on the transaction in ctx and
// reports how many rows it changed.
type PersistFunc func(ctx context.Context) (int64, error)

// IntegratorTranslator uses event.Integrator when the domain event implements it.
func IntegratorTranslator(ev event.DomainEvent) (event.IntegrationEvent, bool) {
	in, ok := ev.(event.Integrator)
	if !ok {
		return nil, false
	}
	ie := in.IntegrationEvent()
	return ie, ie != nil
}

type Option func(*Coordinator)

func WithBus(bus Dispatcher) Option {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

func WithTranslator(translate Translator) Option {
	return func(c *Coordinator) {
		c.translate = translate
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(metrics embedded.MetricsCollector) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

// WithPropagator overrides the global propagator used to stamp outbox rows
// with the caller's trace context.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return func(c *Coordinator) {
		c.propagator = propagator
	}
}

type Coordinator struct {
	tx       Transactor
	store    Appender
	registry *event.Registry

	bus        Dispatcher
	translate  Translator
	logger     *zap.Logger
	metrics    embedded.MetricsCollector
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func New(tx Transactor, store Appender, registry *event.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		tx:         tx,
		store:      store,
		registry:   registry,
		translate:  IntegratorTranslator,
		logger:     zap.NewNop(),
		metrics:    embedded.NopMetrics{},
		tracer:     otel.Tracer("github.com/overtonx/eventrelay/uow"),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin starts an empty unit of work. A Work belongs to one goroutine.
func (c *Coordinator) Begin() *Work {
	return &Work{c: c}
}

type tracked struct {
	agg     event.Recorder
	persist PersistFunc
}

type Work struct {
	c       *Coordinator
	tracked []tracked
}

// Track adds agg to the unit of work. persist may be nil for aggregates whose
// state is written elsewhere in the same transaction.
func (w *Work) Track(agg event.Recorder, persist PersistFunc) {
	w.tracked = append(w.tracked, tracked{agg: agg, persist: persist})
}

// SaveEntities commits every tracked aggregate together with the outbox rows
// for their integration events, clears the aggregates and dispatches their
// domain events. It reports whether anything was written.
//
// Encoding problems return errs.ErrValidation before the transaction starts.
// A failed transaction returns errs.ErrPersistence and leaves every pending
// buffer as it was. Handler failures after commit are logged, not returned.
func (w *Work) SaveEntities(ctx context.Context) (bool, error) {
	c := w.c
	start := time.Now()
	defer func() {
		c.metrics.RecordDuration("uow.save.duration", time.Since(start), nil)
	}()

	ctx, span := c.tracer.Start(ctx, "uow.SaveEntities")
	defer span.End()

	var domainEvents []event.DomainEvent
	for _, t := range w.tracked {
		domainEvents = append(domainEvents, t.agg.Pending()...)
	}

	rows, err := c.stage(ctx, domainEvents)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid event")
		c.metrics.IncrementCounter("uow.save.invalid", nil)
		return false, err
	}
	span.SetAttributes(
		attribute.Int("uow.domain_events", len(domainEvents)),
		attribute.Int("uow.outbox_rows", len(rows)),
	)

	var changed int64
	err = c.tx.Do(ctx, func(ctx context.Context) error {
		for _, t := range w.tracked {
			if t.persist == nil {
				continue
			}
			n, err := t.persist(ctx)
			if err != nil {
				return err
			}
			changed += n
		}
		for _, row := range rows {
			if err := c.store.Append(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
		c.metrics.IncrementCounter("uow.save.failed", nil)
		c.logger.Error("Unit of work aborted", zap.Int("domain_events", len(domainEvents)), zap.Error(err))
		return false, fmt.Errorf("%w: %w", errs.ErrPersistence, err)
	}

	for _, t := range w.tracked {
		t.agg.Clear()
	}
	w.tracked = nil
	c.metrics.IncrementCounter("uow.save.committed", nil)

	c.dispatch(ctx, domainEvents)

	return changed > 0 || len(rows) > 0, nil
}

// stage encodes the integration events into rows tagged with the caller's
// trace context.
func (c *Coordinator) stage(ctx context.Context, domainEvents []event.DomainEvent) ([]storage.Row, error) {
	var rows []storage.Row
	for _, de := range domainEvents {
		if de == nil {
			return nil, fmt.Errorf("%w: nil domain event", errs.ErrValidation)
		}
		ie, ok := c.translate(de)
		if !ok {
			continue
		}
		payload, err := c.registry.Encode(ie)
		if err != nil {
			return nil, err
		}
		row := storage.NewRow(ie.EventID(), ie.EventType(), payload, ie.CreatedAt())
		c.propagator.Inject(ctx, row.Headers)
		rows = append(rows, row)
	}
	return rows, nil
}

// dispatch hands committed events to the bus. Failures are logged and
// counted, never returned.
func (c *Coordinator) dispatch(ctx context.Context, domainEvents []event.DomainEvent) {
	if c.bus == nil {
		return
	}
	for _, de := range domainEvents {
		if err := c.bus.Publish(ctx, de); err != nil {
			c.metrics.IncrementCounter("uow.dispatch.failed", map[string]string{"event_type": de.EventType()})
			c.logger.Warn("Domain event handlers failed after commit",
				zap.String("event_type", de.EventType()),
				zap.Stringer("event_id", de.EventID()),
				zap.Error(err),
			)
		}
	}
}
