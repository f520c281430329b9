package availability

import (
	"context"
	"regexp"
	"testing"

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

func TestGormStore_GetDay(t *testing.T) {
	store, mock := setupGormStore(t)

	rows := sqlmock.NewRows([]string{"id", "doctor_id", "weekday", "is_available", "time_ranges", "time_slots"}).
		AddRow(1, 7, "monday", true, `[{"start":"09:00","end":"10:00"}]`, "{09:00,09:30}")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "doctor_availabilities"`)).WillReturnRows(rows)

	day, err := store.GetDay(context.Background(), 7, "monday")
	require.NoError(t, err)
	assert.True(t, day.IsAvailable)
	assert.Equal(t, []string{"09:00", "09:30"}, []string(day.TimeSlots))
	require.Len(t, day.TimeRanges, 1)
	assert.Equal(t, "10:00", day.TimeRanges[0].End)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetDayNotFound(t *testing.T) {
	store, mock := setupGormStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "doctor_availabilities"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetDay(context.Background(), 7, "sunday")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}
