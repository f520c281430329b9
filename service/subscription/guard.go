package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
)

// FreeTierWindow is the rolling window for free-tier counting.
const FreeTierWindow = 7 * 24 * time.Hour

// Reservation is a granted but not yet consumed quota unit. Nothing is
// counted until Commit succeeds.
type Reservation struct {
	UserID         uint
	Kind           models.ResourceKind
	SubscriptionID *uint
}

// FreeTier reports whether the reservation falls under the weekly free allowance.
func (r *Reservation) FreeTier() bool {
	return r.SubscriptionID == nil
}

// QuotaObserver counts guard decisions. *metrics.Metrics implements it.
type QuotaObserver interface {
	ObserveQuota(kind, result string)
}

// Guard grants and commits metered usage.
type Guard struct {
	store     Store
	freeLimit int
	observer  QuotaObserver
	now       func() time.Time
}

func NewGuard(store Store, freeLimit int) *Guard {
	return &Guard{store: store, freeLimit: freeLimit, now: time.Now}
}

// SetObserver attaches o to every later decision.
func (g *Guard) SetObserver(o QuotaObserver) {
	g.observer = o
}

// CheckAndReserve grants one unit of kind to userID, preferring an active
// subscription and falling back to the free tier only when none exists.
func (g *Guard) CheckAndReserve(ctx context.Context, userID uint, kind models.ResourceKind) (*Reservation, error) {
	res, err := g.reserve(ctx, userID, kind)
	g.observe(kind, "reserved", "denied", err)
	return res, err
}

// Commit consumes the reservation. It is an atomic increment-with-ceiling,
// so a concurrent commit that exhausts the quota first makes this one fail.
// Call it only after the protected record exists.
func (g *Guard) Commit(ctx context.Context, res *Reservation, reference string) error {
	err := g.commit(ctx, res, reference)
	g.observe(res.Kind, "committed", "commit_denied", err)
	return err
}

func (g *Guard) observe(kind models.ResourceKind, ok, denied string, err error) {
	if g.observer == nil {
		return
	}
	result := ok
	switch {
	case errors.Is(err, utils.ErrQuotaExceeded):
		result = denied
	case err != nil:
		result = "error"
	}
	g.observer.ObserveQuota(string(kind), result)
}

func (g *Guard) reserve(ctx context.Context, userID uint, kind models.ResourceKind) (*Reservation, error) {
	if _, _, ok := usedColumn(kind); !ok {
		return nil, utils.NewError(utils.KindValidation, "unknown resource kind %q", kind)
	}
	now := g.now()

	sub, err := g.store.FindActive(ctx, userID, now)
	switch {
	case err == nil:
		used, amount := sub.Counters(kind)
		if used >= amount {
			return nil, exhausted(kind, used, amount)
		}
		id := sub.ID
		return &Reservation{UserID: userID, Kind: kind, SubscriptionID: &id}, nil
	case !errors.Is(err, utils.ErrNotFound):
		return nil, fmt.Errorf("find active subscription: %w", err)
	}

	count, err := g.store.CountFreeUsage(ctx, userID, kind, now.Add(-FreeTierWindow))
	if err != nil {
		return nil, fmt.Errorf("count free usage: %w", err)
	}
	if count >= int64(g.freeLimit) {
		return nil, freeExhausted(int(count), g.freeLimit)
	}
	return &Reservation{UserID: userID, Kind: kind}, nil
}

func (g *Guard) commit(ctx context.Context, res *Reservation, reference string) error {
	now := g.now()
	rec := &models.UsageRecord{
		UserID:    res.UserID,
		Kind:      res.Kind,
		Reference: reference,
		CreatedAt: now,
	}

	if res.SubscriptionID != nil {
		ok, err := g.store.IncrementUsage(ctx, *res.SubscriptionID, rec)
		if err != nil {
			return fmt.Errorf("increment usage: %w", err)
		}
		if !ok {
			return utils.NewError(utils.KindQuotaExceeded, "%s limit reached", kindLabel(res.Kind))
		}
		return nil
	}

	ok, err := g.store.InsertFreeUsage(ctx, rec, now.Add(-FreeTierWindow), g.freeLimit)
	if err != nil {
		return fmt.Errorf("record free usage: %w", err)
	}
	if !ok {
		return freeExhausted(g.freeLimit, g.freeLimit)
	}
	return nil
}

// Summary describes a user's remaining allowance for one kind.
type Summary struct {
	Kind           models.ResourceKind `json:"kind"`
	Source         string              `json:"source"` // subscription or free_tier
	SubscriptionID *uint               `json:"subscription_id,omitempty"`
	Used           int                 `json:"used"`
	Limit          int                 `json:"limit"`
}

// Usage reports meeting and AI allowance for userID.
func (g *Guard) Usage(ctx context.Context, userID uint) ([]Summary, error) {
	now := g.now()
	sub, err := g.store.FindActive(ctx, userID, now)
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		return nil, err
	}

	kinds := []models.ResourceKind{models.ResourceMeeting, models.ResourceAIUsage}
	out := make([]Summary, 0, len(kinds))
	for _, kind := range kinds {
		if sub != nil {
			used, amount := sub.Counters(kind)
			id := sub.ID
			out = append(out, Summary{Kind: kind, Source: "subscription", SubscriptionID: &id, Used: used, Limit: amount})
			continue
		}
		count, err := g.store.CountFreeUsage(ctx, userID, kind, now.Add(-FreeTierWindow))
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{Kind: kind, Source: "free_tier", Used: int(count), Limit: g.freeLimit})
	}
	return out, nil
}

func kindLabel(kind models.ResourceKind) string {
	if kind == models.ResourceAIUsage {
		return "AI usage"
	}
	return "Meeting"
}

func exhausted(kind models.ResourceKind, used, amount int) error {
	return utils.NewError(utils.KindQuotaExceeded, "%s limit reached (%d/%d)", kindLabel(kind), used, amount)
}

func freeExhausted(used, limit int) error {
	return utils.NewError(utils.KindQuotaExceeded, "Free tier limit reached (%d/%d this week), please subscribe to continue", used, limit)
}
