package kafkago

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/storage"
	"github.com/overtonx/eventrelay/transport"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func message() embedded.Message {
	return embedded.Message{
		EventID:   uuid.New(),
		EventType: "AuthorCreated",
		Payload:   []byte(`{"name":"Anton Chekhov"}`),
		Headers:   storage.Headers{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewWithWriter(w, WithTopic("authors"))
	msg := message()

	require.NoError(t, p.Publish(context.Background(), msg))
	require.Len(t, w.messages, 1)

	got := w.messages[0]
	assert.Equal(t, "authors", got.Topic)
	assert.Equal(t, msg.EventID.String(), string(got.Key))
	assert.Equal(t, msg.Payload, got.Value)
	assert.Equal(t, msg.CreatedAt, got.Time)
	assert.Equal(t, msg.EventID.String(), header(got.Headers, transport.HeaderEventID))
	assert.Equal(t, "AuthorCreated", header(got.Headers, transport.HeaderEventType))
	assert.Equal(t, msg.Headers["traceparent"], header(got.Headers, "traceparent"))
	assert.Equal(t, transport.ContentTypeJSON, header(got.Headers, "content_type"))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_KeyResolver(t *testing.T) {
	w := &fakeWriter{}
	p := NewWithWriter(w, WithKeyResolver(func(msg embedded.Message) string {
		if msg.EventType == "AuthorCreated" {
			return "author-7"
		}
		return ""
	}))

	created := message()
	updated := message()
	updated.EventType = "AuthorUpdated"
	require.NoError(t, p.Publish(context.Background(), created))
	require.NoError(t, p.Publish(context.Background(), updated))

	require.Len(t, w.messages, 2)
	assert.Equal(t, "author-7", string(w.messages[0].Key))
	assert.Equal(t, updated.EventID.String(), string(w.messages[1].Key))
}

func TestPublisher_TopicPerEventTypeAndProtoEnvelope(t *testing.T) {
	w := &fakeWriter{}
	p := NewWithWriter(w, WithTopicPerEventType(), WithEncoder(transport.ProtoEnvelope{}))
	msg := message()

	require.NoError(t, p.Publish(context.Background(), msg))
	got := w.messages[0]
	assert.Equal(t, "AuthorCreated", got.Topic)
	assert.Equal(t, transport.ContentTypeProtobuf, header(got.Headers, "content_type"))

	env, err := transport.DecodeProtoEnvelope(got.Value)
	require.NoError(t, err)
	assert.Equal(t, msg.EventID, env.EventID)
}

func TestPublisher_WriteError(t *testing.T) {
	p := NewWithWriter(&fakeWriter{err: errors.New("leader not available")})
	err := p.Publish(context.Background(), message())
	assert.ErrorContains(t, err, "leader not available")
}

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	assert.Error(t, WaitReady(context.Background(), nil, 1))
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, SplitBrokers(" kafka-1:9092, ,kafka-2:9092 "))
	assert.Nil(t, SplitBrokers(""))
}
