package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Append(ctx context.Context, row Row) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

func (m *MockStore) FetchAndClaim(ctx context.Context, limit int, maxAttempts int) ([]Row, error) {
	args := m.Called(ctx, limit, maxAttempts)
	rows, _ := args.Get(0).([]Row)
	return rows, args.Error(1)
}

func (m *MockStore) RenewClaim(ctx context.Context, eventID uuid.UUID) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockStore) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockStore) MarkFailed(ctx context.Context, eventID uuid.UUID, nextAttemptAt time.Time, lastError string) error {
	args := m.Called(ctx, eventID, nextAttemptAt, lastError)
	return args.Error(0)
}

func (m *MockStore) ResetStaleInProgress(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ListPoison(ctx context.Context, maxAttempts int, limit int) ([]Row, error) {
	args := m.Called(ctx, maxAttempts, limit)
	rows, _ := args.Get(0).([]Row)
	return rows, args.Error(1)
}

func (m *MockStore) PurgePublished(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}
