package eventrelay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay/errs"
	"github.com/overtonx/eventrelay/event"
	"github.com/overtonx/eventrelay/storage"
)

func TestNopPublisher(t *testing.T) {
	publisher := NewNopPublisher()
	assert.NoError(t, publisher.Publish(context.Background(), Message{}))
	assert.NoError(t, publisher.Close())
}

type mockBus struct {
	mock.Mock
}

func (m *mockBus) Publish(ctx context.Context, ev event.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func TestBusPublisher(t *testing.T) {
	bus := new(mockBus)
	publisher := NewBusPublisher(bus)
	ev := newAuthorCreated("tolstoy")

	bus.On("Publish", mock.Anything, ev).Return(nil).Once()
	require.NoError(t, publisher.Publish(context.Background(), Message{EventID: ev.EventID(), Event: ev}))

	bus.On("Publish", mock.Anything, ev).Return(errors.New("handler failed")).Once()
	assert.ErrorContains(t, publisher.Publish(context.Background(), Message{EventID: ev.EventID(), Event: ev}), "handler failed")

	bus.AssertExpectations(t)
	assert.NoError(t, publisher.Close())
}

func TestBusPublisher_RequiresDecodedEvent(t *testing.T) {
	bus := new(mockBus)
	err := NewBusPublisher(bus).Publish(context.Background(), Message{EventID: uuid.New()})
	assert.ErrorIs(t, err, errs.ErrValidation)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestBuildKafkaHeaders(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 30, 0, 123456000, time.UTC)
	msg := Message{
		EventID:   uuid.MustParse("0b5e1a3c-8d3f-4c41-9f0e-6d2a7c9b1e55"),
		EventType: "AuthorCreated",
		CreatedAt: created,
		Headers: storage.Headers{
			"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		},
	}

	headers := BuildKafkaHeaders(msg)
	require.Len(t, headers, 4)

	byKey := make(map[string]string, len(headers))
	for _, h := range headers {
		byKey[h.Key] = string(h.Value)
	}
	assert.Equal(t, "0b5e1a3c-8d3f-4c41-9f0e-6d2a7c9b1e55", byKey["event_id"])
	assert.Equal(t, "AuthorCreated", byKey["event_type"])
	assert.Equal(t, "2024-05-01T10:30:00.123456Z", byKey["created_at"])
	assert.Equal(t, msg.Headers["traceparent"], byKey["traceparent"])
	assert.Equal(t, "event_id", headers[0].Key)
}

func TestKafkaPublisher_Defaults(t *testing.T) {
	p := &KafkaPublisher{producerProps: kafka.ConfigMap{}, defaultTopic: "outbox-events"}
	assert.Equal(t, "outbox-events", p.topic(Message{EventType: "AuthorCreated"}))

	WithKafkaTopicResolver(func(Message) string { return "" })(p)
	assert.Equal(t, "outbox-events", p.topic(Message{EventType: "AuthorCreated"}))
}

func TestKafkaPublisher_Key(t *testing.T) {
	p := &KafkaPublisher{}
	msg := Message{EventID: uuid.New(), Headers: storage.Headers{"aggregate_id": "author-7"}}
	assert.Equal(t, []byte(msg.EventID.String()), p.key(msg))

	WithKafkaKeyResolver(func(m Message) string { return m.Headers.Get("aggregate_id") })(p)
	assert.Equal(t, []byte("author-7"), p.key(msg))

	msg.Headers = storage.Headers{}
	assert.Equal(t, []byte(msg.EventID.String()), p.key(msg))
}
