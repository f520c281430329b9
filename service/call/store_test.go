package call

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return NewGormStore(db), mock
}

func TestGormStore_GetMissing(t *testing.T) {
	store, mock := setupGormStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "calls"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Get(context.Background(), 9)
	assert.ErrorIs(t, err, utils.ErrCallNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_EndAlreadyEnded(t *testing.T) {
	store, mock := setupGormStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "calls" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.End(context.Background(), 3, Ending{At: time.Now(), Reason: "completed"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_Activate(t *testing.T) {
	store, mock := setupGormStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "calls" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.Activate(context.Background(), 3, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
