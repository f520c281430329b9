package appointment

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/jackc/pgx/v5/pgconn"
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

func liveAppointment(start time.Time) *models.Appointment {
	return &models.Appointment{
		PatientID: 1,
		DoctorID:  doctorID,
		StartTime: start,
		EndTime:   start.Add(models.SlotDuration),
		Status:    models.AppointmentScheduled,
	}
}

func TestGormStore_CreateOverlapIsSlotTaken(t *testing.T) {
	store, mock := setupGormStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "appointments"`)).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})

	err := store.Create(context.Background(), liveAppointment(time.Date(2030, 1, 7, 9, 15, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, utils.ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_CreateOtherErrorsPassThrough(t *testing.T) {
	store, mock := setupGormStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "appointments"`)).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := store.Create(context.Background(), liveAppointment(time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)))
	require.Error(t, err)
	assert.NotErrorIs(t, err, utils.ErrSlotTaken)
}

func TestMemoryStore_CreateRejectsOverlap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	nine := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, liveAppointment(nine)))

	tests := []struct {
		name  string
		start time.Time
		err   error
	}{
		{"same start", nine, utils.ErrSlotTaken},
		{"starts inside", nine.Add(15 * time.Minute), utils.ErrSlotTaken},
		{"ends inside", nine.Add(-15 * time.Minute), utils.ErrSlotTaken},
		{"adjacent after", nine.Add(30 * time.Minute), nil},
		{"adjacent before", nine.Add(-30 * time.Minute), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appt := liveAppointment(tt.start)
			err := store.Create(ctx, appt)
			if tt.err == nil {
				require.NoError(t, err)
				ok, err := store.UpdateStatus(ctx, appt.ID, models.AppointmentScheduled, models.AppointmentCancelled)
				require.NoError(t, err)
				require.True(t, ok)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}

	other := liveAppointment(nine.Add(15 * time.Minute))
	other.DoctorID = doctorID + 1
	assert.NoError(t, store.Create(ctx, other), "another doctor's calendar is independent")
}
