package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2030, 1, 7, 12, 0, 0, 0, time.UTC)

func setupGuard(t *testing.T) (*Guard, *MemoryStore) {
	store := NewMemoryStore()
	g := NewGuard(store, 3)
	g.now = func() time.Time { return fixedNow }
	return g, store
}

func activePlan(userID uint, meetings, meetingsUsed, ai, aiUsed int) models.Subscription {
	return models.Subscription{
		UserID:        userID,
		Plan:          "monthly",
		Status:        models.SubscriptionActive,
		MeetingAmount: meetings,
		MeetingsUsed:  meetingsUsed,
		AIUsageAmount: ai,
		AIUsageUsed:   aiUsed,
		StartDate:     fixedNow.AddDate(0, -1, 0),
		EndDate:       fixedNow.AddDate(0, 1, 0),
	}
}

func TestGuard_SubscriptionAIExhausted(t *testing.T) {
	g, store := setupGuard(t)
	store.Put(activePlan(1, 4, 0, 5, 5))

	_, err := g.CheckAndReserve(context.Background(), 1, models.ResourceAIUsage)
	require.ErrorIs(t, err, utils.ErrQuotaExceeded)
	assert.Contains(t, utils.AsAppError(err).Message, "5/5")
}

func TestGuard_SubscriptionMeetingsExhaustedDoesNotFallBackToFreeTier(t *testing.T) {
	g, store := setupGuard(t)
	store.Put(activePlan(1, 2, 2, 5, 0))

	_, err := g.CheckAndReserve(context.Background(), 1, models.ResourceMeeting)
	require.ErrorIs(t, err, utils.ErrQuotaExceeded)
	assert.Contains(t, utils.AsAppError(err).Message, "2/2")
}

func TestGuard_ReserveAndCommitSubscription(t *testing.T) {
	g, store := setupGuard(t)
	sub := store.Put(activePlan(1, 2, 1, 0, 0))

	res, err := g.CheckAndReserve(context.Background(), 1, models.ResourceMeeting)
	require.NoError(t, err)
	require.NotNil(t, res.SubscriptionID)
	assert.Equal(t, sub.ID, *res.SubscriptionID)

	require.NoError(t, g.Commit(context.Background(), res, "appointment:10"))

	got, err := store.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MeetingsUsed)

	// reservation alone never consumes
	_, err = g.CheckAndReserve(context.Background(), 1, models.ResourceMeeting)
	assert.ErrorIs(t, err, utils.ErrQuotaExceeded)
}

func TestGuard_FreeTierFourthUseRejected(t *testing.T) {
	g, store := setupGuard(t)
	for i := 0; i < 3; i++ {
		store.AddUsage(models.UsageRecord{UserID: 2, Kind: models.ResourceMeeting, CreatedAt: fixedNow.Add(-time.Duration(i+1) * 24 * time.Hour)})
	}
	// older than the window, not counted
	store.AddUsage(models.UsageRecord{UserID: 2, Kind: models.ResourceMeeting, CreatedAt: fixedNow.Add(-8 * 24 * time.Hour)})

	_, err := g.CheckAndReserve(context.Background(), 2, models.ResourceMeeting)
	require.ErrorIs(t, err, utils.ErrQuotaExceeded)
	assert.Contains(t, utils.AsAppError(err).Message, "3/3")

	res, err := g.CheckAndReserve(context.Background(), 2, models.ResourceAIUsage)
	require.NoError(t, err)
	assert.True(t, res.FreeTier())
}

func TestGuard_ConcurrentCommitsRespectCeiling(t *testing.T) {
	g, store := setupGuard(t)
	sub := store.Put(activePlan(1, 3, 0, 0, 0))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := sub.ID
			res := &Reservation{UserID: 1, Kind: models.ResourceMeeting, SubscriptionID: &id}
			if err := g.Commit(context.Background(), res, "race"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	got, err := store.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MeetingsUsed)
}

func TestGuard_ConcurrentFreeTierCommits(t *testing.T) {
	g, _ := setupGuard(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Commit(context.Background(), &Reservation{UserID: 5, Kind: models.ResourceAIUsage}, "analysis")
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, utils.ErrQuotaExceeded)
		}
	}
	assert.Equal(t, 3, ok)
}

func TestGuard_Usage(t *testing.T) {
	g, store := setupGuard(t)
	store.AddUsage(models.UsageRecord{UserID: 9, Kind: models.ResourceAIUsage, CreatedAt: fixedNow.Add(-time.Hour)})

	summary, err := g.Usage(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "free_tier", summary[1].Source)
	assert.Equal(t, 1, summary[1].Used)
	assert.Equal(t, 3, summary[1].Limit)
}

type quotaCounts map[string]int

func (q quotaCounts) ObserveQuota(kind, result string) {
	q[kind+"/"+result]++
}

func TestGuard_ObservesDecisions(t *testing.T) {
	g, store := setupGuard(t)
	counts := quotaCounts{}
	g.SetObserver(counts)
	ctx := context.Background()
	store.Put(activePlan(1, 1, 0, 5, 5))

	res, err := g.CheckAndReserve(ctx, 1, models.ResourceMeeting)
	require.NoError(t, err)
	require.NoError(t, g.Commit(ctx, res, "appointment:1"))

	require.ErrorIs(t, g.Commit(ctx, res, "appointment:2"), utils.ErrQuotaExceeded)

	_, err = g.CheckAndReserve(ctx, 1, models.ResourceAIUsage)
	require.ErrorIs(t, err, utils.ErrQuotaExceeded)

	assert.Equal(t, quotaCounts{
		"meeting/reserved":      1,
		"meeting/committed":     1,
		"meeting/commit_denied": 1,
		"ai_usage/denied":       1,
	}, counts)
}
