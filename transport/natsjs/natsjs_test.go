package natsjs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/storage"
	"github.com/overtonx/eventrelay/transport"
)

type fakeJetStream struct {
	published []*nats.Msg
	seen      map[string]bool
	err       error
}

func (f *fakeJetStream) PublishMsg(m *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	id := m.Header.Get(nats.MsgIdHdr)
	if f.seen[id] {
		return &nats.PubAck{Stream: "OUTBOX", Duplicate: true}, nil
	}
	f.seen[id] = true
	f.published = append(f.published, m)
	return &nats.PubAck{Stream: "OUTBOX", Sequence: uint64(len(f.published))}, nil
}

func message() embedded.Message {
	return embedded.Message{
		EventID:   uuid.New(),
		EventType: "AuthorUpdated",
		Payload:   []byte(`{"name":"Nikolai Gogol"}`),
		Headers:   storage.Headers{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestPublisher_Publish(t *testing.T) {
	js := &fakeJetStream{}
	p := New(js, WithSubjectPrefix("authors"))
	msg := message()

	require.NoError(t, p.Publish(context.Background(), msg))
	require.Len(t, js.published, 1)

	got := js.published[0]
	assert.Equal(t, "authors.AuthorUpdated", got.Subject)
	assert.Equal(t, msg.Payload, got.Data)
	assert.Equal(t, msg.EventID.String(), got.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, msg.EventID.String(), got.Header.Get(transport.HeaderEventID))
	assert.Equal(t, msg.Headers["traceparent"], got.Header.Get("traceparent"))
	assert.Equal(t, transport.ContentTypeJSON, got.Header.Get("Content-Type"))
}

func TestPublisher_RedeliveryUsesSameMsgID(t *testing.T) {
	js := &fakeJetStream{}
	p := New(js)
	msg := message()

	require.NoError(t, p.Publish(context.Background(), msg))
	require.NoError(t, p.Publish(context.Background(), msg))
	assert.Len(t, js.published, 1)
}

func TestPublisher_Error(t *testing.T) {
	p := New(&fakeJetStream{err: nats.ErrNoResponders})
	err := p.Publish(context.Background(), message())
	assert.True(t, errors.Is(err, nats.ErrNoResponders))
}

func TestPublisher_CloseWithoutConnection(t *testing.T) {
	assert.NoError(t, New(&fakeJetStream{}).Close())
}
