// Package redisdedup keeps processed-event markers in Redis so idempotent
// handlers survive restarts and share state across relay replicas.
package redisdedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/overtonx/eventrelay/eventbus"
)

const (
	defaultPrefix = "eventrelay:processed"
	defaultTTL    = 7 * 24 * time.Hour
)

var _ eventbus.ProcessedStore = (*Store)(nil)

type Option func(*Store)

// WithTTL sets how long a processed marker lives. It should outlast the
// relay's retry horizon.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(eventID uuid.UUID, subscriber string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, subscriber, eventID)
}

func (s *Store) IsProcessed(ctx context.Context, eventID uuid.UUID, subscriber string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(eventID, subscriber)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed marker: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed sets the marker once. A marker written concurrently by
// another replica is kept as is.
func (s *Store) MarkProcessed(ctx context.Context, eventID uuid.UUID, subscriber string) error {
	if err := s.client.SetNX(ctx, s.key(eventID, subscriber), time.Now().UTC().Format(time.RFC3339Nano), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set processed marker: %w", err)
	}
	return nil
}
