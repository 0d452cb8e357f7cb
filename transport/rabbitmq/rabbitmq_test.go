package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/transport"
)

type publishCall struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

// fakeChannel acks or nacks every publish according to ack, or stays silent.
type fakeChannel struct {
	confirmErr error
	publishErr error
	ack        bool
	silent     bool

	confirms chan amqp.Confirmation
	calls    []publishCall
	tag      uint64
	closed   bool
}

func (c *fakeChannel) Confirm(bool) error { return c.confirmErr }

func (c *fakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	c.confirms = confirm
	return confirm
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.calls = append(c.calls, publishCall{exchange: exchange, key: key, msg: msg})
	c.tag++
	if !c.silent {
		c.confirms <- amqp.Confirmation{DeliveryTag: c.tag, Ack: c.ack}
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func message() embedded.Message {
	return embedded.Message{
		EventID:   uuid.New(),
		EventType: "AuthorCreated",
		Payload:   []byte(`{"name":"Ivan Turgenev"}`),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestPublisher_PublishConfirmed(t *testing.T) {
	ch := &fakeChannel{ack: true}
	p, err := New(ch, "authors")
	require.NoError(t, err)

	msg := message()
	require.NoError(t, p.Publish(context.Background(), msg))
	require.Len(t, ch.calls, 1)

	call := ch.calls[0]
	assert.Equal(t, "authors", call.exchange)
	assert.Equal(t, "AuthorCreated", call.key)
	assert.Equal(t, msg.EventID.String(), call.msg.MessageId)
	assert.Equal(t, amqp.Persistent, call.msg.DeliveryMode)
	assert.Equal(t, transport.ContentTypeJSON, call.msg.ContentType)
	assert.Equal(t, msg.Payload, call.msg.Body)
	assert.Equal(t, msg.EventID.String(), call.msg.Headers[transport.HeaderEventID])

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestPublisher_Nack(t *testing.T) {
	p, err := New(&fakeChannel{ack: false}, "authors")
	require.NoError(t, err)

	err = p.Publish(context.Background(), message())
	assert.ErrorIs(t, err, ErrPublishNacked)
}

func TestPublisher_ConfirmTimeout(t *testing.T) {
	p, err := New(&fakeChannel{silent: true}, "authors", WithConfirmTimeout(10*time.Millisecond))
	require.NoError(t, err)

	err = p.Publish(context.Background(), message())
	assert.ErrorIs(t, err, ErrConfirmTimeout)
}

func TestPublisher_PublishError(t *testing.T) {
	p, err := New(&fakeChannel{publishErr: amqp.ErrClosed}, "authors")
	require.NoError(t, err)

	err = p.Publish(context.Background(), message())
	assert.True(t, errors.Is(err, amqp.ErrClosed))
}

func TestNew_ConfirmModeUnavailable(t *testing.T) {
	_, err := New(&fakeChannel{confirmErr: errors.New("not supported")}, "authors")
	assert.ErrorContains(t, err, "confirm mode")
}
