package eventrelay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventrelay/event"
	"github.com/overtonx/eventrelay/storage"
)

// MockPublisher is a mock implementation of the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

type authorCreated struct {
	event.BaseIntegrationEvent
	AuthorID string `json:"author_id"`
	Name     string `json:"name"`
}

func (authorCreated) EventType() string { return "AuthorCreated" }

func newAuthorCreated(name string) authorCreated {
	return authorCreated{
		BaseIntegrationEvent: event.NewBaseIntegrationEvent(),
		AuthorID:             "author-" + name,
		Name:                 name,
	}
}

func newTestRegistry(t *testing.T) *event.Registry {
	t.Helper()
	registry := event.NewRegistry()
	require.NoError(t, event.RegisterJSON[authorCreated](registry))
	return registry
}

// appendEvent stores ev as a NotPublished row and returns the row.
func appendEvent(t *testing.T, store storage.Store, registry *event.Registry, ev event.IntegrationEvent) storage.Row {
	t.Helper()
	payload, err := registry.Encode(ev)
	require.NoError(t, err)
	row := storage.NewRow(ev.EventID(), ev.EventType(), payload, ev.CreatedAt())
	require.NoError(t, store.Append(context.Background(), row))
	return row
}
