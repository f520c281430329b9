package user

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"gorm.io/gorm"
)

type Store interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	ListDoctors(ctx context.Context, specialization string, limit, offset int) ([]models.User, int64, error)
	CountByRole(ctx context.Context, role string) (int64, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewError(utils.KindNotFound, "User not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) ListDoctors(ctx context.Context, specialization string, limit, offset int) ([]models.User, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", models.RoleDoctor)
	if specialization != "" {
		query = query.Where("specialization ILIKE ?", "%"+specialization+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var doctors []models.User
	err := query.Order("full_name ASC").Limit(limit).Offset(offset).Find(&doctors).Error
	return doctors, total, err
}

func (s *GormStore) CountByRole(ctx context.Context, role string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", role).Count(&n).Error
	return n, err
}

// MemoryStore backs the memory storage driver and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[uint]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[uint]models.User)}
}

// Put stores u, assigning the next id when u.ID is zero.
func (s *MemoryStore) Put(u models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = uint(len(s.users) + 1)
	}
	s.users[u.ID] = u
	return u
}

func (s *MemoryStore) GetUser(_ context.Context, id uint) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, utils.NewError(utils.KindNotFound, "User not found")
	}
	return &u, nil
}

func (s *MemoryStore) ListDoctors(_ context.Context, specialization string, limit, offset int) ([]models.User, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.User
	for _, u := range s.users {
		if u.Role != models.RoleDoctor {
			continue
		}
		if specialization != "" && !strings.Contains(strings.ToLower(u.Specialization), strings.ToLower(specialization)) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	total := int64(len(out))
	if offset >= len(out) {
		return []models.User{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (s *MemoryStore) CountByRole(_ context.Context, role string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, u := range s.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}
