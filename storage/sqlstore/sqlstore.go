// Package sqlstore is the MySQL outbox store. Appends join the transaction
// carried in ctx by the avito transaction manager; relay operations run on
// their own short transactions.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/storage"
)

const tableEvents = "outbox_events"

const mysqlDuplicateEntry = 1062

// SQL queries
const (
	insertQuery = `
		INSERT INTO outbox_events (event_id, event_type, payload, headers, created_at, state, attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`

	selectClaimableQuery = `
		SELECT event_id, event_type, payload, headers, created_at, state, attempts, next_attempt_at, last_error, updated_at
		FROM outbox_events
		WHERE state IN (?, ?) AND (? <= 0 OR attempts < ?) AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at, id
		LIMIT ?
		FOR UPDATE SKIP LOCKED`

	claimQuery = `UPDATE outbox_events SET state = ?, updated_at = ? WHERE event_id = ? AND state = ?`

	renewClaimQuery = `UPDATE outbox_events SET updated_at = ? WHERE event_id = ? AND state = ?`

	markPublishedQuery = `
		UPDATE outbox_events
		SET state = ?, next_attempt_at = NULL, last_error = NULL, updated_at = ?
		WHERE event_id = ? AND state = ?`

	markFailedQuery = `
		UPDATE outbox_events
		SET state = ?, attempts = attempts + 1, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE event_id = ? AND state = ?`

	selectStateQuery = `SELECT state FROM outbox_events WHERE event_id = ?`

	resetStaleQuery = `
		UPDATE outbox_events
		SET state = ?, updated_at = ?
		WHERE state = ? AND updated_at < ?`

	selectPoisonQuery = `
		SELECT event_id, event_type, payload, headers, created_at, state, attempts, next_attempt_at, last_error, updated_at
		FROM outbox_events
		WHERE state = ? AND attempts >= ?
		ORDER BY created_at, id
		LIMIT ?`

	purgePublishedQuery = `DELETE FROM outbox_events WHERE state = ? AND updated_at < ?`
)

const createEventsTableQuery = `
	CREATE TABLE IF NOT EXISTS outbox_events (
		id              BIGINT AUTO_INCREMENT PRIMARY KEY,
		event_id        CHAR(36)     NOT NULL UNIQUE,
		event_type      VARCHAR(255) NOT NULL,
		payload         JSON         NOT NULL,
		headers         JSON         NULL,
		created_at      TIMESTAMP(6) NOT NULL,
		state           INT          NOT NULL DEFAULT 0 COMMENT '0 - not published, 1 - in progress, 2 - published, 3 - failed',
		attempts        INT          NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMP(6) NULL,
		last_error      TEXT         NULL,
		updated_at      TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_state_next_attempt (state, next_attempt_at),
		INDEX idx_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

var (
	_ storage.Store         = (*SQLStore)(nil)
	_ storage.SchemaManager = (*SQLStore)(nil)
)

type SQLStore struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	logger *zap.Logger
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		getter: trmsql.DefaultCtxGetter,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append writes the row on the transaction in ctx, or directly on the pool
// when there is none.
func (s *SQLStore) Append(ctx context.Context, row storage.Row) error {
	headers, err := row.Headers.Marshal()
	if err != nil {
		return err
	}

	_, err = s.getter.DefaultTrOrDB(ctx, s.db).ExecContext(ctx, insertQuery,
		row.EventID.String(),
		row.EventType,
		row.Payload,
		headers,
		row.CreatedAt.UTC(),
		storage.NotPublished,
		s.now(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return storage.ErrEventAlreadyExists
		}
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

// FetchAndClaim locks due rows with SKIP LOCKED so concurrent relays see
// disjoint batches, then flips each one with a state-guarded update.
func (s *SQLStore) FetchAndClaim(ctx context.Context, limit int, maxAttempts int) ([]storage.Row, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	rows, err := tx.QueryContext(ctx, selectClaimableQuery,
		storage.NotPublished, storage.PublishedFailed,
		maxAttempts, maxAttempts,
		now,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query claimable events: %w", err)
	}
	candidates, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	claimed := make([]storage.Row, 0, len(candidates))
	for _, row := range candidates {
		res, err := tx.ExecContext(ctx, claimQuery, storage.InProgress, now, row.EventID.String(), row.State)
		if err != nil {
			return nil, fmt.Errorf("failed to claim event %s: %w", row.EventID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to claim event %s: %w", row.EventID, err)
		}
		if n != 1 {
			s.logger.Debug("Event claimed elsewhere", zap.Stringer("event_id", row.EventID))
			continue
		}
		row.State = storage.InProgress
		row.UpdatedAt = now
		claimed = append(claimed, row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return claimed, nil
}

// RenewClaim moves updated_at forward on a row still InProgress.
func (s *SQLStore) RenewClaim(ctx context.Context, eventID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, renewClaimQuery, s.now(), eventID.String(), storage.InProgress)
	if err != nil {
		return fmt.Errorf("failed to renew claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	// MySQL reports zero changed rows when the timestamp did not move.
	current, err := s.state(ctx, eventID)
	if err != nil {
		return err
	}
	if current == storage.InProgress {
		return nil
	}
	return fmt.Errorf("%w: %s is no longer claimed", storage.ErrInvalidTransition, current)
}

func (s *SQLStore) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, markPublishedQuery, storage.Published, s.now(), eventID.String(), storage.InProgress)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	return s.checkTransition(ctx, res, eventID, storage.Published)
}

func (s *SQLStore) MarkFailed(ctx context.Context, eventID uuid.UUID, nextAttemptAt time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, markFailedQuery,
		storage.PublishedFailed,
		nextAttemptAt.UTC(),
		lastError,
		s.now(),
		eventID.String(),
		storage.InProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return s.checkTransition(ctx, res, eventID, storage.PublishedFailed)
}

// checkTransition explains a guarded update that touched no rows.
func (s *SQLStore) checkTransition(ctx context.Context, res sql.Result, eventID uuid.UUID, to storage.State) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.state(ctx, eventID)
	if err != nil {
		return err
	}
	if current == to && to == storage.Published {
		return nil
	}
	return storage.ValidateTransition(current, to)
}

func (s *SQLStore) state(ctx context.Context, eventID uuid.UUID) (storage.State, error) {
	var current storage.State
	err := s.db.QueryRowContext(ctx, selectStateQuery, eventID.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrRowNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read event state: %w", err)
	}
	return current, nil
}

func (s *SQLStore) ResetStaleInProgress(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, resetStaleQuery, storage.NotPublished, now, storage.InProgress, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) ListPoison(ctx context.Context, maxAttempts int, limit int) ([]storage.Row, error) {
	if maxAttempts <= 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, selectPoisonQuery, storage.PublishedFailed, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query poison events: %w", err)
	}
	return scanRows(rows)
}

func (s *SQLStore) PurgePublished(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, purgePublishedQuery, storage.Published, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge published events: %w", err)
	}
	return res.RowsAffected()
}

// EnsureTables creates the outbox table if it does not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createEventsTableQuery); err != nil {
		return fmt.Errorf("failed to create %s table: %w", tableEvents, err)
	}
	return nil
}

func scanRows(rows *sql.Rows) ([]storage.Row, error) {
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		var (
			row       storage.Row
			eventID   string
			headers   []byte
			next      sql.NullTime
			lastError sql.NullString
		)
		if err := rows.Scan(
			&eventID,
			&row.EventType,
			&row.Payload,
			&headers,
			&row.CreatedAt,
			&row.State,
			&row.Attempts,
			&next,
			&lastError,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		id, err := uuid.Parse(eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event id %q: %w", eventID, err)
		}
		row.EventID = id
		if row.Headers, err = storage.UnmarshalHeaders(headers); err != nil {
			return nil, err
		}
		if next.Valid {
			t := next.Time
			row.NextAttemptAt = &t
		}
		row.LastError = lastError.String
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading event rows: %w", err)
	}
	return out, nil
}
