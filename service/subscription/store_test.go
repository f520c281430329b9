package subscription

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/KAsare1/teleconsult-server/cmd/models"
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

func TestGormStore_IncrementUsageAtCeiling(t *testing.T) {
	store, mock := setupGormStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "subscriptions" SET "meetings_used"=meetings_used + 1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := store.IncrementUsage(context.Background(), 4, &models.UsageRecord{UserID: 1, Kind: models.ResourceMeeting})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_IncrementUsageGranted(t *testing.T) {
	store, mock := setupGormStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "subscriptions" SET "ai_usage_used"=ai_usage_used + 1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "usage_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	rec := &models.UsageRecord{UserID: 1, Kind: models.ResourceAIUsage}
	ok, err := store.IncrementUsage(context.Background(), 4, rec)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, rec.SubscriptionID)
	assert.Equal(t, uint(4), *rec.SubscriptionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore_ListFilters(t *testing.T) {
	store := NewMemoryStore()
	cheap := activePlan(1, 4, 0, 5, 0)
	cheap.Amount = 50
	premium := activePlan(2, 8, 0, 20, 0)
	premium.Amount = 200
	premium.StartDate = fixedNow.AddDate(0, 0, -3)
	premium.EndDate = fixedNow.AddDate(0, 2, 0)
	store.Put(cheap)
	store.Put(premium)

	tests := []struct {
		name   string
		filter Filter
		users  []uint
	}{
		{"no filter", Filter{}, []uint{1, 2}},
		{"min amount", Filter{MinAmount: 100}, []uint{2}},
		{"max amount", Filter{MaxAmount: 100}, []uint{1}},
		{"start date", Filter{StartDate: fixedNow.AddDate(0, 0, -7)}, []uint{2}},
		{"end date", Filter{EndDate: fixedNow.AddDate(0, 1, 1)}, []uint{1}},
		{"amount window excludes all", Filter{MinAmount: 60, MaxAmount: 150}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs, total, err := store.List(context.Background(), tt.filter, fixedNow, 10, 0)
			require.NoError(t, err)
			var users []uint
			for _, sub := range subs {
				users = append(users, sub.UserID)
			}
			assert.ElementsMatch(t, tt.users, users)
			assert.Equal(t, int64(len(tt.users)), total)
		})
	}
}
