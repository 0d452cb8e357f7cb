package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/errs"
	"github.com/overtonx/eventrelay/event"
)

type authorCreated struct {
	event.BaseIntegrationEvent
	Name string `json:"name"`
}

func (authorCreated) EventType() string { return "AuthorCreated" }

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string, err error) Handler {
	return NewHandler(name, func(_ context.Context, _ event.Event) error {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return err
	})
}

func TestBus_SubscribeIsIdempotent(t *testing.T) {
	bus := New(WithLogger(zap.NewNop()))
	rec := &recorder{}
	h := rec.handler("projection", nil)

	require.NoError(t, bus.Subscribe("AuthorCreated", h))
	require.NoError(t, bus.Subscribe("AuthorCreated", h))
	require.NoError(t, bus.Subscribe("AuthorCreated", rec.handler("projection", nil)))
	assert.Equal(t, []string{"projection"}, bus.Handlers("AuthorCreated"))

	require.NoError(t, bus.Publish(context.Background(), authorCreated{BaseIntegrationEvent: event.NewBaseIntegrationEvent()}))
	assert.Equal(t, []string{"projection"}, rec.calls)
}

func TestBus_SubscribeValidation(t *testing.T) {
	bus := New()
	assert.ErrorIs(t, bus.Subscribe("", NewHandler("a", nil)), errs.ErrValidation)
	assert.ErrorIs(t, bus.Subscribe("AuthorCreated", nil), errs.ErrValidation)
	assert.ErrorIs(t, bus.Subscribe("AuthorCreated", NewHandler("", nil)), errs.ErrValidation)
	assert.ErrorIs(t, bus.Publish(context.Background(), nil), errs.ErrValidation)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	rec := &recorder{}
	require.NoError(t, bus.Subscribe("AuthorCreated", rec.handler("first", nil)))
	require.NoError(t, bus.Subscribe("AuthorCreated", rec.handler("second", nil)))

	bus.Unsubscribe("AuthorCreated", rec.handler("first", nil))
	bus.Unsubscribe("AuthorCreated", rec.handler("unknown", nil))
	bus.Unsubscribe("AuthorUpdated", rec.handler("second", nil))
	assert.Equal(t, []string{"second"}, bus.Handlers("AuthorCreated"))

	bus.Unsubscribe("AuthorCreated", rec.handler("second", nil))
	assert.Empty(t, bus.Handlers("AuthorCreated"))
}

func TestBus_PublishWithoutHandlers(t *testing.T) {
	bus := New()
	assert.NoError(t, bus.Publish(context.Background(), authorCreated{BaseIntegrationEvent: event.NewBaseIntegrationEvent()}))
}

func TestBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus := New()
	rec := &recorder{}
	boom := errors.New("boom")

	require.NoError(t, bus.Subscribe("AuthorCreated", rec.handler("first", boom)))
	require.NoError(t, bus.Subscribe("AuthorCreated", NewHandler("panics", func(context.Context, event.Event) error {
		panic("nil map")
	})))
	require.NoError(t, bus.Subscribe("AuthorCreated", rec.handler("last", nil)))

	err := bus.Publish(context.Background(), authorCreated{BaseIntegrationEvent: event.NewBaseIntegrationEvent()})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrHandler)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "handler panicked")
	assert.Equal(t, []string{"first", "last"}, rec.calls)
}

func TestBus_HandlerTimeout(t *testing.T) {
	bus := New(WithHandlerTimeout(20 * time.Millisecond))
	rec := &recorder{}

	release := make(chan struct{})
	defer close(release)

	require.NoError(t, bus.Subscribe("AuthorCreated", NewHandler("stuck", func(context.Context, event.Event) error {
		<-release
		return nil
	})))
	require.NoError(t, bus.Subscribe("AuthorCreated", rec.handler("after", nil)))

	start := time.Now()
	err := bus.Publish(context.Background(), authorCreated{BaseIntegrationEvent: event.NewBaseIntegrationEvent()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"after"}, rec.calls)
}

func TestBus_PublishStopsOnCancelledContext(t *testing.T) {
	bus := New()
	rec := &recorder{}
	require.NoError(t, bus.Subscribe("AuthorCreated", rec.handler("never", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Publish(ctx, authorCreated{BaseIntegrationEvent: event.NewBaseIntegrationEvent()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.calls)
}

func TestIdempotent_SkipsProcessedEvents(t *testing.T) {
	bus := New()
	rec := &recorder{}
	store := NewMemoryProcessedStore()

	h := Idempotent(rec.handler("mailer", nil), store)
	assert.Equal(t, "mailer", h.Name())
	require.NoError(t, bus.Subscribe("AuthorCreated", h))

	ev := authorCreated{BaseIntegrationEvent: event.NewBaseIntegrationEvent()}
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), authorCreated{BaseIntegrationEvent: event.NewBaseIntegrationEvent()}))

	assert.Equal(t, []string{"mailer", "mailer"}, rec.calls)
}

func TestIdempotent_FailedHandlerIsRetried(t *testing.T) {
	store := NewMemoryProcessedStore()
	attempts := 0
	h := Idempotent(NewHandler("flaky", func(context.Context, event.Event) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	}), store)

	ev := authorCreated{BaseIntegrationEvent: event.NewBaseIntegrationEvent()}
	require.Error(t, h.Handle(context.Background(), ev))
	require.NoError(t, h.Handle(context.Background(), ev))
	require.NoError(t, h.Handle(context.Background(), ev))
	assert.Equal(t, 2, attempts)
}
