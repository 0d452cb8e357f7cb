// Package memstore is an in-memory outbox store. It is safe for concurrent
// use within one process and doubles as the transactor for the rows it holds.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overtonx/eventrelay/storage"
)

var errTxDone = errors.New("transaction already finished")

type txKey struct{}

// tx stages appends until the surrounding Do commits.
type tx struct {
	rows []storage.Row
	done bool
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for stale-claim tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store keeps rows in a map keyed by event id plus an insertion sequence so
// rows with equal timestamps keep their append order.
type Store struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*entry
	seq  int64
	now  func() time.Time
}

type entry struct {
	row storage.Row
	seq int64
}

var _ storage.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		rows: make(map[uuid.UUID]*entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Do runs fn with a staging transaction in ctx. Rows appended inside fn become
// visible only if fn returns nil and none of them collides with a stored id.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(txKey{}).(*tx); nested {
		return fn(ctx)
	}

	t := &tx{}
	err := fn(context.WithValue(ctx, txKey{}, t))
	t.done = true
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(t.rows))
	for _, row := range t.rows {
		if _, ok := s.rows[row.EventID]; ok {
			return fmt.Errorf("failed to commit outbox rows: %w", storage.ErrEventAlreadyExists)
		}
		if _, ok := seen[row.EventID]; ok {
			return fmt.Errorf("failed to commit outbox rows: %w", storage.ErrEventAlreadyExists)
		}
		seen[row.EventID] = struct{}{}
	}
	for _, row := range t.rows {
		s.insertLocked(row)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, row storage.Row) error {
	row.State = storage.NotPublished
	row.Attempts = 0
	row.NextAttemptAt = nil
	row.LastError = ""
	row.Headers = cloneHeaders(row.Headers)

	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		if t.done {
			return errTxDone
		}
		t.rows = append(t.rows, row)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[row.EventID]; ok {
		return storage.ErrEventAlreadyExists
	}
	s.insertLocked(row)
	return nil
}

func (s *Store) insertLocked(row storage.Row) {
	s.seq++
	row.UpdatedAt = s.now()
	s.rows[row.EventID] = &entry{row: row, seq: s.seq}
}

func (s *Store) FetchAndClaim(_ context.Context, limit int, maxAttempts int) ([]storage.Row, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	candidates := make([]*entry, 0)
	for _, e := range s.rows {
		if e.row.Claimable(now, maxAttempts) {
			candidates = append(candidates, e)
		}
	}
	sortEntries(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]storage.Row, 0, len(candidates))
	for _, e := range candidates {
		e.row.State = storage.InProgress
		e.row.UpdatedAt = now
		claimed = append(claimed, copyRow(e.row))
	}
	return claimed, nil
}

func (s *Store) RenewClaim(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rows[eventID]
	if !ok {
		return storage.ErrRowNotFound
	}
	if e.row.State != storage.InProgress {
		return fmt.Errorf("%w: %s is no longer claimed", storage.ErrInvalidTransition, e.row.State)
	}
	e.row.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkPublished(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rows[eventID]
	if !ok {
		return storage.ErrRowNotFound
	}
	if e.row.State == storage.Published {
		return nil
	}
	if err := storage.ValidateTransition(e.row.State, storage.Published); err != nil {
		return err
	}
	e.row.State = storage.Published
	e.row.NextAttemptAt = nil
	e.row.LastError = ""
	e.row.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkFailed(_ context.Context, eventID uuid.UUID, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rows[eventID]
	if !ok {
		return storage.ErrRowNotFound
	}
	if err := storage.ValidateTransition(e.row.State, storage.PublishedFailed); err != nil {
		return err
	}
	next := nextAttemptAt
	e.row.State = storage.PublishedFailed
	e.row.Attempts++
	e.row.NextAttemptAt = &next
	e.row.LastError = lastError
	e.row.UpdatedAt = s.now()
	return nil
}

func (s *Store) ResetStaleInProgress(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	threshold := now.Add(-olderThan)
	var n int64
	for _, e := range s.rows {
		if e.row.State == storage.InProgress && e.row.UpdatedAt.Before(threshold) {
			e.row.State = storage.NotPublished
			e.row.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *Store) ListPoison(_ context.Context, maxAttempts int, limit int) ([]storage.Row, error) {
	if maxAttempts <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	poison := make([]*entry, 0)
	for _, e := range s.rows {
		if e.row.State == storage.PublishedFailed && e.row.Attempts >= maxAttempts {
			poison = append(poison, e)
		}
	}
	sortEntries(poison)
	if limit > 0 && len(poison) > limit {
		poison = poison[:limit]
	}

	out := make([]storage.Row, 0, len(poison))
	for _, e := range poison {
		out = append(out, copyRow(e.row))
	}
	return out, nil
}

func (s *Store) PurgePublished(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.now().Add(-olderThan)
	var n int64
	for id, e := range s.rows {
		if e.row.State == storage.Published && e.row.UpdatedAt.Before(threshold) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the row with the given id.
func (s *Store) Get(eventID uuid.UUID) (storage.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rows[eventID]
	if !ok {
		return storage.Row{}, false
	}
	return copyRow(e.row), true
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func sortEntries(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].row.CreatedAt.Equal(entries[j].row.CreatedAt) {
			return entries[i].row.CreatedAt.Before(entries[j].row.CreatedAt)
		}
		return entries[i].seq < entries[j].seq
	})
}

func copyRow(r storage.Row) storage.Row {
	r.Headers = cloneHeaders(r.Headers)
	if r.Payload != nil {
		r.Payload = append([]byte(nil), r.Payload...)
	}
	if r.NextAttemptAt != nil {
		next := *r.NextAttemptAt
		r.NextAttemptAt = &next
	}
	return r
}

func cloneHeaders(h storage.Headers) storage.Headers {
	out := make(storage.Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
