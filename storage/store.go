// Package storage defines the outbox store contract and the row it persists.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEventAlreadyExists is returned when a row with the same event id is already stored.
	ErrEventAlreadyExists = errors.New("event already exists")
	// ErrRowNotFound is returned when no row has the given event id.
	ErrRowNotFound = errors.New("outbox row not found")
	// ErrInvalidTransition is returned when a row is not in a state the operation can move it from.
	ErrInvalidTransition = errors.New("invalid outbox state transition")
)

// Store is the durable outbox log.
type Store interface {
	// Append inserts a NotPublished row. It runs on the transaction carried by ctx.
	Append(ctx context.Context, row Row) error
	// FetchAndClaim atomically moves up to limit due rows to InProgress and returns
	// the rows it claimed, oldest first. Rows with attempts >= maxAttempts are
	// skipped; maxAttempts <= 0 disables the ceiling.
	FetchAndClaim(ctx context.Context, limit int, maxAttempts int) ([]Row, error)
	// RenewClaim refreshes the claim time of a row still InProgress so stale
	// recovery does not release it mid-batch. ErrInvalidTransition means the
	// claim was already released.
	RenewClaim(ctx context.Context, eventID uuid.UUID) error
	// MarkPublished moves an InProgress row to Published. It is a no-op for a Published row.
	MarkPublished(ctx context.Context, eventID uuid.UUID) error
	// MarkFailed moves an InProgress row to PublishedFailed and increments its attempts.
	MarkFailed(ctx context.Context, eventID uuid.UUID, nextAttemptAt time.Time, lastError string) error
	// ResetStaleInProgress returns rows claimed longer than olderThan ago to NotPublished.
	ResetStaleInProgress(ctx context.Context, olderThan time.Duration) (int64, error)
	// ListPoison returns PublishedFailed rows whose attempts reached maxAttempts.
	ListPoison(ctx context.Context, maxAttempts int, limit int) ([]Row, error)
	// PurgePublished deletes Published rows last updated before now-olderThan.
	PurgePublished(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SchemaManager is implemented by stores that can create their own tables.
type SchemaManager interface {
	EnsureTables(ctx context.Context) error
}

// Row is the stored projection of one integration event.
type Row struct {
	EventID       uuid.UUID
	EventType     string
	Payload       []byte
	Headers       Headers
	CreatedAt     time.Time
	State         State
	Attempts      int
	NextAttemptAt *time.Time
	LastError     string
	UpdatedAt     time.Time
}

// NewRow builds a NotPublished row.
func NewRow(eventID uuid.UUID, eventType string, payload []byte, createdAt time.Time) Row {
	return Row{
		EventID:   eventID,
		EventType: eventType,
		Payload:   payload,
		Headers:   Headers{},
		CreatedAt: createdAt,
		State:     NotPublished,
	}
}

// Claimable reports whether the row may be claimed at now under the given ceiling.
func (r Row) Claimable(now time.Time, maxAttempts int) bool {
	if r.State != NotPublished && r.State != PublishedFailed {
		return false
	}
	if maxAttempts > 0 && r.Attempts >= maxAttempts {
		return false
	}
	return r.NextAttemptAt == nil || !r.NextAttemptAt.After(now)
}
