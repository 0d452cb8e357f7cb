package authors

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/uow"
)

// Store is what the service needs from author persistence.
type Store interface {
	Save(ctx context.Context, a *Author) (int64, error)
	Get(ctx context.Context, id string) (*Author, error)
}

// Service runs author commands. Every command saves the aggregate and its
// outbox rows in one unit of work.
type Service struct {
	store  Store
	coord  *uow.Coordinator
	logger *zap.Logger
}

func NewService(store Store, coord *uow.Coordinator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, coord: coord, logger: logger}
}

func (s *Service) Create(ctx context.Context, id string, d Details) (*Author, error) {
	a, err := Create(id, d)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("Author created", zap.String("author_id", a.ID))
	return a, nil
}

func (s *Service) Update(ctx context.Context, id string, d Details) (*Author, error) {
	return s.mutate(ctx, id, func(a *Author) error { return a.Update(d) })
}

func (s *Service) SignContract(ctx context.Context, id string) (*Author, error) {
	return s.mutate(ctx, id, (*Author).SignContract)
}

func (s *Service) TerminateContract(ctx context.Context, id string) (*Author, error) {
	return s.mutate(ctx, id, (*Author).TerminateContract)
}

func (s *Service) mutate(ctx context.Context, id string, fn func(a *Author) error) (*Author, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	if err := s.save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) save(ctx context.Context, a *Author) error {
	work := s.coord.Begin()
	work.Track(a, func(ctx context.Context) (int64, error) {
		return s.store.Save(ctx, a)
	})
	if _, err := work.SaveEntities(ctx); err != nil {
		return fmt.Errorf("failed to save author %s: %w", a.ID, err)
	}
	return nil
}
