// Package rabbitmq publishes relay messages to a RabbitMQ topic exchange with
// publisher confirms. The routing key is the event type.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/transport"
)

var (
	ErrPublishNacked  = errors.New("message was nacked by broker")
	ErrConfirmTimeout = errors.New("confirmation timed out")
	ErrChannelClosed  = errors.New("confirm channel closed")
)

const DefaultConfirmTimeout = 5 * time.Second

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Option func(*Publisher)

func WithConfirmTimeout(timeout time.Duration) Option {
	return func(p *Publisher) {
		if timeout > 0 {
			p.confirmTimeout = timeout
		}
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
	conn           *amqp.Connection
	ch             Channel
	confirms       chan amqp.Confirmation
	exchange       string
	confirmTimeout time.Duration
	encoder        transport.Encoder
	logger         *zap.Logger

	// one unconfirmed message at a time so each confirm matches its publish
	mu sync.Mutex
}

// Dial connects to url, declares a durable topic exchange and returns a
// confirming publisher on it.
func Dial(url, exchange string, opts ...Option) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	p, err := New(ch, exchange, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// New puts ch into confirm mode.
func New(ch Channel, exchange string, opts ...Option) (*Publisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable confirm mode: %w", err)
	}
	p := &Publisher{
		ch:             ch,
		confirms:       ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		exchange:       exchange,
		confirmTimeout: DefaultConfirmTimeout,
		encoder:        transport.Raw{},
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Publisher) Publish(ctx context.Context, msg embedded.Message) error {
	body, contentType, err := p.encoder.Encode(msg)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range transport.Headers(msg) {
		headers[k] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, msg.EventType, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.EventID.String(),
		Type:         msg.EventType,
		Timestamp:    msg.CreatedAt,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %s: %w", p.exchange, err)
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			return ErrChannelClosed
		}
		if !confirm.Ack {
			return fmt.Errorf("%w: delivery tag %d", ErrPublishNacked, confirm.DeliveryTag)
		}
	case <-timer.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Debug("Event confirmed by RabbitMQ",
		zap.Stringer("event_id", msg.EventID),
		zap.String("exchange", p.exchange),
		zap.String("routing_key", msg.EventType),
	)
	return nil
}

func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
