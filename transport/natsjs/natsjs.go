// Package natsjs publishes relay messages to NATS JetStream. The event id is
// sent as the JetStream message id so redeliveries inside the stream's
// duplicate window are dropped by the server.
package natsjs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/transport"
)

// JetStream is the part of nats.JetStreamContext the publisher needs.
type JetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type Option func(*Publisher)

// WithSubjectPrefix sets the stream subject prefix. Messages go to prefix.EventType.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

func WithEncoder(encoder transport.Encoder) Option {
	return func(p *Publisher) {
		p.encoder = encoder
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

type Publisher struct {
	conn    *nats.Conn
	js      JetStream
	prefix  string
	encoder transport.Encoder
	logger  *zap.Logger
}

// Connect dials url, makes sure a stream named stream covers prefix.> and
// returns a publisher on it.
func Connect(url, stream string, opts ...Option) (*Publisher, error) {
	nc, err := nats.Connect(
		url,
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := New(js, opts...)
	p.conn = nc

	if err := ensureStream(js, stream, p.prefix+".>"); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func New(js JetStream, opts ...Option) *Publisher {
	p := &Publisher{
		js:      js,
		prefix:  "outbox",
		encoder: transport.Raw{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func ensureStream(js nats.JetStreamContext, name, subject string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for %s: %w", name, err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		Duplicates: 10 * time.Minute,
	}); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}
	return nil
}

func (p *Publisher) Subject(msg embedded.Message) string {
	return p.prefix + "." + msg.EventType
}

func (p *Publisher) Publish(ctx context.Context, msg embedded.Message) error {
	body, contentType, err := p.encoder.Encode(msg)
	if err != nil {
		return err
	}

	m := nats.NewMsg(p.Subject(msg))
	m.Data = body
	for k, v := range transport.Headers(msg) {
		m.Header.Set(k, v)
	}
	m.Header.Set("Content-Type", contentType)
	m.Header.Set(nats.MsgIdHdr, msg.EventID.String())

	ack, err := p.js.PublishMsg(m, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	p.logger.Debug("Event published to JetStream",
		zap.Stringer("event_id", msg.EventID),
		zap.String("subject", m.Subject),
		zap.String("stream", ack.Stream),
		zap.Uint64("sequence", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate),
	)
	return nil
}

// Close drains the connection when the publisher owns it.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
