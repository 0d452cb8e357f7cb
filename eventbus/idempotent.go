package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/overtonx/eventrelay/event"
)

// ProcessedStore remembers which events a subscriber already handled.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, eventID uuid.UUID, subscriber string) (bool, error)
	MarkProcessed(ctx context.Context, eventID uuid.UUID, subscriber string) error
}

type idempotentHandler struct {
	next  Handler
	store ProcessedStore
}

// Idempotent wraps h so a redelivered event is handled at most once per
// handler name. The wrapper keeps h's name.
func Idempotent(h Handler, store ProcessedStore) Handler {
	return &idempotentHandler{next: h, store: store}
}

func (h *idempotentHandler) Name() string { return h.next.Name() }

func (h *idempotentHandler) Handle(ctx context.Context, ev event.Event) error {
	done, err := h.store.IsProcessed(ctx, ev.EventID(), h.next.Name())
	if err != nil {
		return fmt.Errorf("failed to check for event idempotency: %w", err)
	}
	if done {
		return nil
	}

	if err := h.next.Handle(ctx, ev); err != nil {
		return err
	}

	if err := h.store.MarkProcessed(ctx, ev.EventID(), h.next.Name()); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return nil
}

// MemoryProcessedStore is a ProcessedStore for a single process.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

func (s *MemoryProcessedStore) IsProcessed(_ context.Context, eventID uuid.UUID, subscriber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[subscriber+"/"+eventID.String()]
	return ok, nil
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, eventID uuid.UUID, subscriber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[subscriber+"/"+eventID.String()] = struct{}{}
	return nil
}
