package subscription

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"gorm.io/gorm"
)

// Filter narrows subscription listings. Zero values are ignored.
type Filter struct {
	UserID    uint
	Plan      string
	Status    string
	MinAmount float64
	MaxAmount float64
	StartDate time.Time
	EndDate   time.Time
	IsExpired *bool // nil means not filtered
}

// Store persists subscriptions and usage records.
type Store interface {
	FindActive(ctx context.Context, userID uint, at time.Time) (*models.Subscription, error)
	CountFreeUsage(ctx context.Context, userID uint, kind models.ResourceKind, since time.Time) (int64, error)
	// IncrementUsage bumps the used counter only while it is below its amount,
	// and records the usage. It reports false when the ceiling was hit.
	IncrementUsage(ctx context.Context, subscriptionID uint, rec *models.UsageRecord) (bool, error)
	// InsertFreeUsage records usage only while fewer than limit free-tier
	// records exist since the given time.
	InsertFreeUsage(ctx context.Context, rec *models.UsageRecord, since time.Time, limit int) (bool, error)

	Get(ctx context.Context, id uint) (*models.Subscription, error)
	List(ctx context.Context, filter Filter, now time.Time, limit, offset int) ([]models.Subscription, int64, error)
	ExpireEnded(ctx context.Context, now time.Time) (int64, error)
}

func usedColumn(kind models.ResourceKind) (used, amount string, ok bool) {
	switch kind {
	case models.ResourceMeeting:
		return "meetings_used", "meeting_amount", true
	case models.ResourceAIUsage:
		return "ai_usage_used", "ai_usage_amount", true
	}
	return "", "", false
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindActive(ctx context.Context, userID uint, at time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND start_date <= ? AND end_date >= ?", userID, models.SubscriptionActive, at, at).
		Order("end_date DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *GormStore) CountFreeUsage(ctx context.Context, userID uint, kind models.ResourceKind, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.UsageRecord{}).
		Where("user_id = ? AND kind = ? AND subscription_id IS NULL AND created_at >= ?", userID, kind, since).
		Count(&count).Error
	return count, err
}

func (s *GormStore) IncrementUsage(ctx context.Context, subscriptionID uint, rec *models.UsageRecord) (bool, error) {
	used, amount, ok := usedColumn(rec.Kind)
	if !ok {
		return false, utils.NewError(utils.KindValidation, "unknown resource kind %q", rec.Kind)
	}

	granted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND status = ? AND "+used+" < "+amount, subscriptionID, models.SubscriptionActive).
			UpdateColumn(used, gorm.Expr(used+" + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		rec.SubscriptionID = &subscriptionID
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		granted = true
		return nil
	})
	return granted, err
}

func (s *GormStore) InsertFreeUsage(ctx context.Context, rec *models.UsageRecord, since time.Time, limit int) (bool, error) {
	granted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// serializes free-tier commits of one user until the transaction ends
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(rec.UserID)).Error; err != nil {
			return err
		}
		var count int64
		err := tx.Model(&models.UsageRecord{}).
			Where("user_id = ? AND kind = ? AND subscription_id IS NULL AND created_at >= ?", rec.UserID, rec.Kind, since).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count >= int64(limit) {
			return nil
		}
		rec.SubscriptionID = nil
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		granted = true
		return nil
	})
	return granted, err
}

func (s *GormStore) Get(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Preload("User").First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewError(utils.KindNotFound, "Subscription not found")
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *GormStore) List(ctx context.Context, filter Filter, now time.Time, limit, offset int) ([]models.Subscription, int64, error) {
	query := applyFilters(s.db.WithContext(ctx).Model(&models.Subscription{}), filter, now)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var subs []models.Subscription
	if err := query.Order("end_date DESC").Limit(limit).Offset(offset).Find(&subs).Error; err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

func (s *GormStore) ExpireEnded(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ? AND end_date < ?", models.SubscriptionActive, now).
		Update("status", models.SubscriptionExpired)
	return res.RowsAffected, res.Error
}

func applyFilters(query *gorm.DB, filter Filter, now time.Time) *gorm.DB {
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Plan != "" {
		query = query.Where("plan = ?", filter.Plan)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.MinAmount != 0 {
		query = query.Where("amount >= ?", filter.MinAmount)
	}
	if filter.MaxAmount != 0 {
		query = query.Where("amount <= ?", filter.MaxAmount)
	}
	if !filter.StartDate.IsZero() {
		query = query.Where("start_date >= ?", filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query = query.Where("end_date <= ?", filter.EndDate)
	}
	if filter.IsExpired != nil {
		if *filter.IsExpired {
			query = query.Where("end_date < ?", now)
		} else {
			query = query.Where("end_date >= ?", now)
		}
	}
	return query
}

// matches is the in-memory form of applyFilters.
func (f Filter) matches(sub *models.Subscription, now time.Time) bool {
	switch {
	case f.UserID != 0 && sub.UserID != f.UserID:
		return false
	case f.Plan != "" && sub.Plan != f.Plan:
		return false
	case f.Status != "" && sub.Status != f.Status:
		return false
	case f.MinAmount != 0 && sub.Amount < f.MinAmount:
		return false
	case f.MaxAmount != 0 && sub.Amount > f.MaxAmount:
		return false
	case !f.StartDate.IsZero() && sub.StartDate.Before(f.StartDate):
		return false
	case !f.EndDate.IsZero() && sub.EndDate.After(f.EndDate):
		return false
	case f.IsExpired != nil && *f.IsExpired != sub.EndDate.Before(now):
		return false
	}
	return true
}

// MemoryStore backs the memory storage driver and tests.
type MemoryStore struct {
	mu     sync.Mutex
	subs   map[uint]*models.Subscription
	usage  []models.UsageRecord
	nextID uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uint]*models.Subscription)}
}

// Put inserts or replaces a subscription, assigning an id when missing.
func (s *MemoryStore) Put(sub models.Subscription) *models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		s.nextID++
		sub.ID = s.nextID
	}
	s.subs[sub.ID] = &sub
	cp := sub
	return &cp
}

// AddUsage appends a usage record as-is.
func (s *MemoryStore) AddUsage(rec models.UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, rec)
}

func (s *MemoryStore) FindActive(_ context.Context, userID uint, at time.Time) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.ActiveAt(at) && (best == nil || sub.EndDate.After(best.EndDate)) {
			best = sub
		}
	}
	if best == nil {
		return nil, utils.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) CountFreeUsage(_ context.Context, userID uint, kind models.ResourceKind, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countFree(userID, kind, since), nil
}

func (s *MemoryStore) countFree(userID uint, kind models.ResourceKind, since time.Time) int64 {
	var n int64
	for _, u := range s.usage {
		if u.UserID == userID && u.Kind == kind && u.SubscriptionID == nil && !u.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) IncrementUsage(_ context.Context, subscriptionID uint, rec *models.UsageRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[subscriptionID]
	if !ok || sub.Status != models.SubscriptionActive {
		return false, nil
	}
	used, amount := sub.Counters(rec.Kind)
	if used >= amount {
		return false, nil
	}
	switch rec.Kind {
	case models.ResourceMeeting:
		sub.MeetingsUsed++
	case models.ResourceAIUsage:
		sub.AIUsageUsed++
	}
	rec.ID = uint(len(s.usage) + 1)
	rec.SubscriptionID = &subscriptionID
	s.usage = append(s.usage, *rec)
	return true, nil
}

func (s *MemoryStore) InsertFreeUsage(_ context.Context, rec *models.UsageRecord, since time.Time, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countFree(rec.UserID, rec.Kind, since) >= int64(limit) {
		return false, nil
	}
	rec.ID = uint(len(s.usage) + 1)
	rec.SubscriptionID = nil
	s.usage = append(s.usage, *rec)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, id uint) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, utils.NewError(utils.KindNotFound, "Subscription not found")
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter, now time.Time, limit, offset int) ([]models.Subscription, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Subscription
	for _, sub := range s.subs {
		if filter.matches(sub, now) {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.After(out[j].EndDate) })

	total := int64(len(out))
	if offset >= len(out) {
		return []models.Subscription{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (s *MemoryStore) ExpireEnded(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sub := range s.subs {
		if sub.Status == models.SubscriptionActive && sub.EndDate.Before(now) {
			sub.Status = models.SubscriptionExpired
			n++
		}
	}
	return n, nil
}
