package notification

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

type Store interface {
	UpsertDevice(ctx context.Context, device *models.Device) error
	DevicesForUser(ctx context.Context, userID uint) ([]models.Device, error)
	DeleteDevice(ctx context.Context, id, userID uint) error
	RemoveTokens(ctx context.Context, tokens []string) error
	AddHistory(ctx context.Context, entry *models.NotificationHistory) error
	History(ctx context.Context, userID uint, limit, offset int) ([]models.NotificationHistory, int64, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) UpsertDevice(ctx context.Context, device *models.Device) error {
	var existing models.Device
	err := s.db.WithContext(ctx).Where("token = ? AND user_id = ?", device.Token, device.UserID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(device).Error
	}
	if err != nil {
		return err
	}
	existing.DeviceType = device.DeviceType
	existing.DeviceName = device.DeviceName
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return err
	}
	*device = existing
	return nil
}

func (s *GormStore) DevicesForUser(ctx context.Context, userID uint) ([]models.Device, error) {
	var devices []models.Device
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&devices).Error
	return devices, err
}

func (s *GormStore) DeleteDevice(ctx context.Context, id, userID uint) error {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Device{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewError(utils.KindNotFound, "Device not found")
	}
	return nil
}

func (s *GormStore) RemoveTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("token IN ?", tokens).Delete(&models.Device{}).Error
}

func (s *GormStore) AddHistory(ctx context.Context, entry *models.NotificationHistory) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) History(ctx context.Context, userID uint, limit, offset int) ([]models.NotificationHistory, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.NotificationHistory{}).Where("user_id = ?", userID)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var history []models.NotificationHistory
	err := query.Order("sent_at DESC").Limit(limit).Offset(offset).Find(&history).Error
	return history, count, err
}

type MemoryStore struct {
	mu      sync.Mutex
	devices []models.Device
	history []models.NotificationHistory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) UpsertDevice(_ context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.devices {
		if s.devices[i].Token == device.Token && s.devices[i].UserID == device.UserID {
			s.devices[i].DeviceType = device.DeviceType
			s.devices[i].DeviceName = device.DeviceName
			s.devices[i].UpdatedAt = time.Now()
			*device = s.devices[i]
			return nil
		}
	}
	device.ID = uint(len(s.devices) + 1)
	device.CreatedAt = time.Now()
	s.devices = append(s.devices, *device)
	return nil
}

func (s *MemoryStore) DevicesForUser(_ context.Context, userID uint) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Device
	for _, d := range s.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteDevice(_ context.Context, id, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.devices {
		if d.ID == id && d.UserID == userID {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			return nil
		}
	}
	return utils.NewError(utils.KindNotFound, "Device not found")
}

func (s *MemoryStore) RemoveTokens(_ context.Context, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		drop[t] = true
	}
	kept := s.devices[:0]
	for _, d := range s.devices {
		if !drop[d.Token] {
			kept = append(kept, d)
		}
	}
	s.devices = kept
	return nil
}

func (s *MemoryStore) AddHistory(_ context.Context, entry *models.NotificationHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uint(len(s.history) + 1)
	s.history = append(s.history, *entry)
	return nil
}

func (s *MemoryStore) History(_ context.Context, userID uint, limit, offset int) ([]models.NotificationHistory, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationHistory
	for _, h := range s.history {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	total := int64(len(out))
	if offset >= len(out) {
		return []models.NotificationHistory{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}
