package eventrelay

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CircuitBreakerPublisher rejects publishes while the wrapped publisher keeps
// failing. A rejected publish is an ordinary failure and the row is retried
// on its backoff schedule.
type CircuitBreakerPublisher struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker
}

// BreakerSettings tunes the breaker. Zero values fall back to gobreaker defaults
// except ConsecutiveFailures, which defaults to 5.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func NewCircuitBreakerPublisher(next Publisher, settings BreakerSettings, logger *zap.Logger) *CircuitBreakerPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Name == "" {
		settings.Name = "publisher"
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	threshold := settings.ConsecutiveFailures

	return &CircuitBreakerPublisher{
		next: next,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: settings.HalfOpenRequests,
			Timeout:     settings.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Publisher circuit breaker changed state",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
}

func (p *CircuitBreakerPublisher) Publish(ctx context.Context, msg Message) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("breaker %s: %w", p.breaker.Name(), err)
	}
	return nil
}

// State reports the breaker state, mainly for health output.
func (p *CircuitBreakerPublisher) State() gobreaker.State {
	return p.breaker.State()
}

func (p *CircuitBreakerPublisher) Close() error {
	return p.next.Close()
}
