package authors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
)

var ErrNotFound = errors.New("author not found")

const (
	upsertAuthorQuery = `
		INSERT INTO authors (id, first_name, last_name, phone, street, city, state, zip_code, has_contract)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			first_name = VALUES(first_name), last_name = VALUES(last_name), phone = VALUES(phone),
			street = VALUES(street), city = VALUES(city), state = VALUES(state), zip_code = VALUES(zip_code),
			has_contract = VALUES(has_contract)`

	selectAuthorQuery = `
		SELECT id, first_name, last_name, phone, street, city, state, zip_code, has_contract
		FROM authors WHERE id = ?`

	createAuthorsTableQuery = `
		CREATE TABLE IF NOT EXISTS authors (
			id           VARCHAR(11)  PRIMARY KEY,
			first_name   VARCHAR(20)  NOT NULL,
			last_name    VARCHAR(40)  NOT NULL,
			phone        VARCHAR(32)  NOT NULL,
			street       VARCHAR(255) NULL,
			city         VARCHAR(255) NULL,
			state        VARCHAR(255) NULL,
			zip_code     VARCHAR(16)  NULL,
			has_contract BOOLEAN      NOT NULL DEFAULT FALSE
		) ENGINE=InnoDB`
)

// Repository stores authors in MySQL. Writes join the transaction the avito
// manager keeps in ctx, so they commit together with the outbox rows.
type Repository struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, getter: trmsql.DefaultCtxGetter}
}

func (r *Repository) EnsureTables(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAuthorsTableQuery); err != nil {
		return fmt.Errorf("failed to create authors table: %w", err)
	}
	return nil
}

// Save upserts a and reports the affected row count.
func (r *Repository) Save(ctx context.Context, a *Author) (int64, error) {
	var street, city, state, zip sql.NullString
	if a.Address != nil {
		street = sql.NullString{String: a.Address.Street, Valid: true}
		city = sql.NullString{String: a.Address.City, Valid: true}
		state = sql.NullString{String: a.Address.State, Valid: a.Address.State != ""}
		zip = sql.NullString{String: a.Address.ZipCode, Valid: a.Address.ZipCode != ""}
	}

	res, err := r.getter.DefaultTrOrDB(ctx, r.db).ExecContext(ctx, upsertAuthorQuery,
		a.ID, a.Name.First, a.Name.Last, a.Phone, street, city, state, zip, a.HasContract)
	if err != nil {
		return 0, fmt.Errorf("failed to save author %s: %w", a.ID, err)
	}
	return res.RowsAffected()
}

func (r *Repository) Get(ctx context.Context, id string) (*Author, error) {
	var (
		a                        Author
		street, city, state, zip sql.NullString
	)
	err := r.getter.DefaultTrOrDB(ctx, r.db).QueryRowContext(ctx, selectAuthorQuery, id).Scan(
		&a.ID, &a.Name.First, &a.Name.Last, &a.Phone, &street, &city, &state, &zip, &a.HasContract)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load author %s: %w", id, err)
	}
	if street.Valid && city.Valid {
		a.Address = &Address{Street: street.String, City: city.String, State: state.String, ZipCode: zip.String}
	}
	return &a, nil
}
