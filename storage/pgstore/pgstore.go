// Package pgstore is the PostgreSQL outbox store built on pgx and squirrel.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/storage"
)

const (
	// Table
	eventsTable = "outbox_events"

	// Columns
	eventIDColumn       = "event_id"
	eventTypeColumn     = "event_type"
	payloadColumn       = "payload"
	headersColumn       = "headers"
	createdAtColumn     = "created_at"
	stateColumn         = "state"
	attemptsColumn      = "attempts"
	nextAttemptAtColumn = "next_attempt_at"
	lastErrorColumn     = "last_error"
	updatedAtColumn     = "updated_at"
)

const uniqueViolation = "23505"

var rowColumns = []string{
	eventIDColumn,
	eventTypeColumn,
	payloadColumn,
	headersColumn,
	createdAtColumn,
	stateColumn,
	attemptsColumn,
	nextAttemptAtColumn,
	lastErrorColumn,
	updatedAtColumn,
}

// claimQuery locks due rows with SKIP LOCKED and flips them in one statement,
// so concurrent relays never return the same row. RETURNING has no order of its
// own, the outer select restores (created_at, seq).
const claimQuery = `
	WITH claimed AS (
		UPDATE outbox_events
		SET state = $1, updated_at = $2
		WHERE event_id IN (
			SELECT event_id FROM outbox_events
			WHERE state IN ($3, $4) AND attempts < $5 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
			ORDER BY created_at, seq
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING seq, event_id, event_type, payload, headers, created_at, state, attempts, next_attempt_at, last_error, updated_at
	)
	SELECT event_id, event_type, payload, headers, created_at, state, attempts, next_attempt_at, last_error, updated_at
	FROM claimed
	ORDER BY created_at, seq`

const createTableQuery = `
	CREATE TABLE IF NOT EXISTS outbox_events (
		seq             BIGSERIAL,
		event_id        UUID        PRIMARY KEY,
		event_type      TEXT        NOT NULL,
		payload         JSONB       NOT NULL,
		headers         JSONB       NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		state           SMALLINT    NOT NULL DEFAULT 0,
		attempts        INT         NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NULL,
		last_error      TEXT        NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_events_claim ON outbox_events (state, next_attempt_at, created_at)`

var (
	_ storage.Store         = (*Store)(nil)
	_ storage.SchemaManager = (*Store)(nil)
)

type Store struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
	logger  *zap.Logger
	now     func() time.Time
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Append(ctx context.Context, row storage.Row) error {
	sql, args, err := s.insertSQL(row)
	if err != nil {
		return err
	}

	if _, err := GetExecutor(ctx, s.pool).Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrEventAlreadyExists
		}
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

func (s *Store) insertSQL(row storage.Row) (string, []any, error) {
	headers, err := row.Headers.Marshal()
	if err != nil {
		return "", nil, err
	}

	sql, args, err := s.builder.
		Insert(eventsTable).
		Columns(
			eventIDColumn,
			eventTypeColumn,
			payloadColumn,
			headersColumn,
			createdAtColumn,
			stateColumn,
			attemptsColumn,
		).
		Values(
			row.EventID,
			row.EventType,
			row.Payload,
			headers,
			row.CreatedAt.UTC(),
			int(storage.NotPublished),
			0,
		).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build insert query: %w", err)
	}
	return sql, args, nil
}

func (s *Store) FetchAndClaim(ctx context.Context, limit int, maxAttempts int) ([]storage.Row, error) {
	if limit <= 0 {
		return nil, nil
	}
	ceiling := maxAttempts
	if ceiling <= 0 {
		ceiling = math.MaxInt32
	}

	rows, err := GetExecutor(ctx, s.pool).Query(ctx, claimQuery,
		int(storage.InProgress),
		s.now(),
		int(storage.NotPublished),
		int(storage.PublishedFailed),
		ceiling,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim events: %w", err)
	}
	return scanRows(rows)
}

func (s *Store) RenewClaim(ctx context.Context, eventID uuid.UUID) error {
	sql, args, err := s.builder.
		Update(eventsTable).
		Set(updatedAtColumn, s.now()).
		Where(squirrel.Eq{eventIDColumn: eventID, stateColumn: int(storage.InProgress)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build renew claim query: %w", err)
	}

	tag, err := GetExecutor(ctx, s.pool).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to renew claim: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.state(ctx, eventID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is no longer claimed", storage.ErrInvalidTransition, current)
}

func (s *Store) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	sql, args, err := s.builder.
		Update(eventsTable).
		Set(stateColumn, int(storage.Published)).
		Set(nextAttemptAtColumn, nil).
		Set(lastErrorColumn, nil).
		Set(updatedAtColumn, s.now()).
		Where(squirrel.Eq{eventIDColumn: eventID, stateColumn: int(storage.InProgress)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build mark published query: %w", err)
	}

	tag, err := GetExecutor(ctx, s.pool).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	return s.checkTransition(ctx, tag, eventID, storage.Published)
}

func (s *Store) MarkFailed(ctx context.Context, eventID uuid.UUID, nextAttemptAt time.Time, lastError string) error {
	sql, args, err := s.builder.
		Update(eventsTable).
		Set(stateColumn, int(storage.PublishedFailed)).
		Set(attemptsColumn, squirrel.Expr(attemptsColumn+" + 1")).
		Set(nextAttemptAtColumn, nextAttemptAt.UTC()).
		Set(lastErrorColumn, lastError).
		Set(updatedAtColumn, s.now()).
		Where(squirrel.Eq{eventIDColumn: eventID, stateColumn: int(storage.InProgress)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build mark failed query: %w", err)
	}

	tag, err := GetExecutor(ctx, s.pool).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return s.checkTransition(ctx, tag, eventID, storage.PublishedFailed)
}

func (s *Store) checkTransition(ctx context.Context, tag pgconn.CommandTag, eventID uuid.UUID, to storage.State) error {
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.state(ctx, eventID)
	if err != nil {
		return err
	}
	if current == storage.Published && to == storage.Published {
		return nil
	}
	return storage.ValidateTransition(current, to)
}

// state reads the current state of one row, or ErrRowNotFound.
func (s *Store) state(ctx context.Context, eventID uuid.UUID) (storage.State, error) {
	sql, args, err := s.builder.
		Select(stateColumn).
		From(eventsTable).
		Where(squirrel.Eq{eventIDColumn: eventID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build state query: %w", err)
	}

	var current int
	err = GetExecutor(ctx, s.pool).QueryRow(ctx, sql, args...).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrRowNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read event state: %w", err)
	}
	return storage.State(current), nil
}

func (s *Store) ResetStaleInProgress(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	sql, args, err := s.builder.
		Update(eventsTable).
		Set(stateColumn, int(storage.NotPublished)).
		Set(updatedAtColumn, now).
		Where(squirrel.And{
			squirrel.Eq{stateColumn: int(storage.InProgress)},
			squirrel.Lt{updatedAtColumn: now.Add(-olderThan)},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build reset query: %w", err)
	}

	tag, err := GetExecutor(ctx, s.pool).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListPoison(ctx context.Context, maxAttempts int, limit int) ([]storage.Row, error) {
	if maxAttempts <= 0 || limit <= 0 {
		return nil, nil
	}

	sql, args, err := s.builder.
		Select(rowColumns...).
		From(eventsTable).
		Where(squirrel.And{
			squirrel.Eq{stateColumn: int(storage.PublishedFailed)},
			squirrel.GtOrEq{attemptsColumn: maxAttempts},
		}).
		OrderBy("created_at ASC", "seq ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build poison query: %w", err)
	}

	rows, err := GetExecutor(ctx, s.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query poison events: %w", err)
	}
	return scanRows(rows)
}

func (s *Store) PurgePublished(ctx context.Context, olderThan time.Duration) (int64, error) {
	sql, args, err := s.builder.
		Delete(eventsTable).
		Where(squirrel.And{
			squirrel.Eq{stateColumn: int(storage.Published)},
			squirrel.Lt{updatedAtColumn: s.now().Add(-olderThan)},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build purge query: %w", err)
	}

	tag, err := GetExecutor(ctx, s.pool).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge published events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EnsureTables creates the outbox table and its claim index.
func (s *Store) EnsureTables(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableQuery); err != nil {
		return fmt.Errorf("failed to create %s table: %w", eventsTable, err)
	}
	return nil
}

func scanRows(rows pgx.Rows) ([]storage.Row, error) {
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		var (
			row       storage.Row
			headers   []byte
			state     int
			lastError *string
		)
		if err := rows.Scan(
			&row.EventID,
			&row.EventType,
			&row.Payload,
			&headers,
			&row.CreatedAt,
			&state,
			&row.Attempts,
			&row.NextAttemptAt,
			&lastError,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		var err error
		if row.Headers, err = storage.UnmarshalHeaders(headers); err != nil {
			return nil, err
		}
		row.State = storage.State(state)
		if lastError != nil {
			row.LastError = *lastError
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading event rows: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
