// Package eventbus is the in-process event bus. Handlers subscribe per event
// type tag and are identified by name, so subscribing twice is harmless.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/errs"
	"github.com/overtonx/eventrelay/event"
)

// Handler reacts to one event. Name is the subscription identity.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev event.Event) error
}

type handlerFunc struct {
	name string
	fn   func(ctx context.Context, ev event.Event) error
}

func (h handlerFunc) Name() string { return h.name }

func (h handlerFunc) Handle(ctx context.Context, ev event.Event) error { return h.fn(ctx, ev) }

// NewHandler adapts fn to a Handler called name.
func NewHandler(name string, fn func(ctx context.Context, ev event.Event) error) Handler {
	return handlerFunc{name: name, fn: fn}
}

type Option func(*Bus)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithHandlerTimeout bounds each handler invocation. Zero disables the bound.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(b *Bus) {
		b.timeout = timeout
	}
}

func WithMetrics(metrics embedded.MetricsCollector) Option {
	return func(b *Bus) {
		b.metrics = metrics
	}
}

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	logger  *zap.Logger
	metrics embedded.MetricsCollector
	timeout time.Duration
}

func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]Handler),
		logger:   zap.NewNop(),
		metrics:  embedded.NopMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for eventType. A handler with the same name already
// subscribed to eventType leaves the bus unchanged.
func (b *Bus) Subscribe(eventType string, h Handler) error {
	if eventType == "" {
		return fmt.Errorf("%w: empty event type", errs.ErrValidation)
	}
	if h == nil || h.Name() == "" {
		return fmt.Errorf("%w: handler must be named", errs.ErrValidation)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.handlers[eventType] {
		if existing.Name() == h.Name() {
			return nil
		}
	}
	b.handlers[eventType] = append(b.handlers[eventType], h)
	b.logger.Debug("Handler subscribed",
		zap.String("event_type", eventType),
		zap.String("handler", h.Name()),
	)
	return nil
}

// Unsubscribe removes the handler named like h. Unknown pairs are ignored.
func (b *Bus) Unsubscribe(eventType string, h Handler) {
	if h == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.handlers[eventType]
	for i, existing := range current {
		if existing.Name() != h.Name() {
			continue
		}
		next := make([]Handler, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, eventType)
		} else {
			b.handlers[eventType] = next
		}
		return
	}
}

// Handlers returns the names subscribed to eventType in subscription order.
func (b *Bus) Handlers(eventType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.handlers[eventType]))
	for _, h := range b.handlers[eventType] {
		names = append(names, h.Name())
	}
	return names
}

// Publish delivers ev to every handler subscribed to its type, in
// subscription order. One failing handler does not stop the others; all
// failures come back together wrapped in errs.ErrHandler.
func (b *Bus) Publish(ctx context.Context, ev event.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", errs.ErrValidation)
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.EventType()]...)
	b.mu.RUnlock()

	var failures error
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			failures = multierr.Append(failures, err)
			break
		}

		tags := map[string]string{"event_type": ev.EventType(), "handler": h.Name()}
		start := time.Now()
		err := b.invoke(ctx, h, ev)
		b.metrics.RecordDuration("eventbus.handler.duration", time.Since(start), tags)
		if err == nil {
			continue
		}

		b.metrics.IncrementCounter("eventbus.handler.failed", tags)
		b.logger.Warn("Event handler failed",
			zap.String("handler", h.Name()),
			zap.String("event_type", ev.EventType()),
			zap.Stringer("event_id", ev.EventID()),
			zap.Error(err),
		)
		failures = multierr.Append(failures, fmt.Errorf("handler %s: %w", h.Name(), err))
	}

	if failures != nil {
		return fmt.Errorf("%w: %w", errs.ErrHandler, failures)
	}
	return nil
}

func (b *Bus) invoke(ctx context.Context, h Handler, ev event.Event) error {
	if b.timeout <= 0 {
		return safeHandle(ctx, h, ev)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeHandle(ctx, h, ev)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("handler did not finish within %s: %w", b.timeout, ctx.Err())
	}
}

func safeHandle(ctx context.Context, h Handler, ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}
