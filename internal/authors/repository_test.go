package authors

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var authorColumns = []string{"id", "first_name", "last_name", "phone", "street", "city", "state", "zip_code", "has_contract"}

func TestRepository_SaveJoinsTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	trManager := manager.Must(trmsql.NewDefaultFactory(db))

	a, err := Create("A-1", details())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO authors").
		WithArgs("A-1", "Leo", "Tolstoy", "+7 495 000 00 00", "Lva Tolstogo 21", "Moscow", nil, nil, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var affected int64
	err = trManager.Do(context.Background(), func(ctx context.Context) error {
		affected, err = repo.Save(ctx, a)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM authors WHERE id = ?")).
		WithArgs("A-1").
		WillReturnRows(sqlmock.NewRows(authorColumns).
			AddRow("A-1", "Anton", "Chekhov", "+7 000", "Sadovaya 6", "Moscow", nil, "123001", true))

	a, err := repo.Get(context.Background(), "A-1")
	require.NoError(t, err)
	assert.Equal(t, "Anton Chekhov", a.Name.Full())
	assert.True(t, a.HasContract)
	require.NotNil(t, a.Address)
	assert.Equal(t, "123001", a.Address.ZipCode)
	assert.Empty(t, a.Pending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM authors").WillReturnRows(sqlmock.NewRows(authorColumns))

	_, err = NewRepository(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_EnsureTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS authors").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewRepository(db).EnsureTables(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
