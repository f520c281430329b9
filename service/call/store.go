package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"gorm.io/gorm"
)

// Ending describes the terminal transition of a call.
type Ending struct {
	At       time.Time
	By       *uint
	Reason   string
	Duration time.Duration
}

// Store persists calls. Every transition is conditional on the current
// status and reports whether it happened.
type Store interface {
	Create(ctx context.Context, c *models.Call) error
	Get(ctx context.Context, id uint) (*models.Call, error)
	MarkRinging(ctx context.Context, id uint) (bool, error)
	Activate(ctx context.Context, id uint, at time.Time) (bool, error)
	End(ctx context.Context, id uint, e Ending) (bool, error)
	// SweepStale ends calls that never became active and were created before cutoff.
	SweepStale(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, c *models.Call) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *GormStore) Get(ctx context.Context, id uint) (*models.Call, error) {
	var c models.Call
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrCallNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStore) MarkRinging(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Call{}).
		Where("id = ? AND status = ?", id, models.CallInitiated).
		Update("status", models.CallRinging)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) Activate(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Call{}).
		Where("id = ? AND status IN ?", id, []string{models.CallInitiated, models.CallRinging}).
		Updates(map[string]interface{}{"status": models.CallActive, "start_time": at})
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) End(ctx context.Context, id uint, e Ending) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Call{}).
		Where("id = ? AND status <> ?", id, models.CallEnded).
		Updates(map[string]interface{}{
			"status":           models.CallEnded,
			"end_time":         e.At,
			"ended_by":         e.By,
			"end_reason":       e.Reason,
			"duration_seconds": int64(e.Duration / time.Second),
		})
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Call{}).
		Where("status IN ? AND created_at < ?", []string{models.CallInitiated, models.CallRinging}, cutoff).
		Updates(map[string]interface{}{
			"status":     models.CallEnded,
			"end_time":   time.Now(),
			"end_reason": models.EndReasonAbandoned,
		})
	return res.RowsAffected, res.Error
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Call{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

type MemoryStore struct {
	mu     sync.Mutex
	calls  map[uint]*models.Call
	nextID uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[uint]*models.Call)}
}

func (s *MemoryStore) Create(_ context.Context, c *models.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt
	cp := *c
	s.calls[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint) (*models.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, utils.ErrCallNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) MarkRinging(_ context.Context, id uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok || c.Status != models.CallInitiated {
		return false, nil
	}
	c.Status = models.CallRinging
	return true, nil
}

func (s *MemoryStore) Activate(_ context.Context, id uint, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok || (c.Status != models.CallInitiated && c.Status != models.CallRinging) {
		return false, nil
	}
	c.Status = models.CallActive
	c.StartTime = &at
	return true, nil
}

func (s *MemoryStore) End(_ context.Context, id uint, e Ending) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok || c.Status == models.CallEnded {
		return false, nil
	}
	at := e.At
	c.Status = models.CallEnded
	c.EndTime = &at
	c.EndedBy = e.By
	c.EndReason = e.Reason
	c.DurationSeconds = int64(e.Duration / time.Second)
	return true, nil
}

func (s *MemoryStore) SweepStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now()
	for _, c := range s.calls {
		if (c.Status == models.CallInitiated || c.Status == models.CallRinging) && c.CreatedAt.Before(cutoff) {
			c.Status = models.CallEnded
			c.EndTime = &now
			c.EndReason = models.EndReasonAbandoned
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, c := range s.calls {
		out[c.Status]++
	}
	return out, nil
}
