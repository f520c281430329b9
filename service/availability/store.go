package availability

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists weekly schedules.
type Store interface {
	GetDay(ctx context.Context, doctorID uint, weekday string) (*models.DoctorAvailability, error)
	GetWeek(ctx context.Context, doctorID uint) ([]models.DoctorAvailability, error)
	ReplaceWeek(ctx context.Context, doctorID uint, days []models.DoctorAvailability) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetDay(ctx context.Context, doctorID uint, weekday string) (*models.DoctorAvailability, error) {
	var day models.DoctorAvailability
	err := s.db.WithContext(ctx).
		Where("doctor_id = ? AND weekday = ?", doctorID, weekday).
		First(&day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &day, nil
}

func (s *GormStore) GetWeek(ctx context.Context, doctorID uint) ([]models.DoctorAvailability, error) {
	var days []models.DoctorAvailability
	if err := s.db.WithContext(ctx).Where("doctor_id = ?", doctorID).Find(&days).Error; err != nil {
		return nil, err
	}
	return days, nil
}

// ReplaceWeek upserts every given day in one transaction.
func (s *GormStore) ReplaceWeek(ctx context.Context, doctorID uint, days []models.DoctorAvailability) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range days {
			days[i].DoctorID = doctorID
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "doctor_id"}, {Name: "weekday"}},
				DoUpdates: clause.AssignmentColumns([]string{"is_available", "time_ranges", "time_slots", "updated_at"}),
			}).Create(&days[i]).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// MemoryStore backs the memory storage driver and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	days map[uint]map[string]models.DoctorAvailability
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[uint]map[string]models.DoctorAvailability)}
}

func (s *MemoryStore) GetDay(_ context.Context, doctorID uint, weekday string) (*models.DoctorAvailability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day, ok := s.days[doctorID][weekday]
	if !ok {
		return nil, utils.ErrNotFound
	}
	day.TimeSlots = append([]string(nil), day.TimeSlots...)
	return &day, nil
}

func (s *MemoryStore) GetWeek(_ context.Context, doctorID uint) ([]models.DoctorAvailability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	week := make([]models.DoctorAvailability, 0, len(s.days[doctorID]))
	for _, day := range s.days[doctorID] {
		week = append(week, day)
	}
	sort.Slice(week, func(i, j int) bool { return weekdayIndex(week[i].Weekday) < weekdayIndex(week[j].Weekday) })
	return week, nil
}

func (s *MemoryStore) ReplaceWeek(_ context.Context, doctorID uint, days []models.DoctorAvailability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.days[doctorID] == nil {
		s.days[doctorID] = make(map[string]models.DoctorAvailability)
	}
	for _, day := range days {
		day.DoctorID = doctorID
		s.days[doctorID][day.Weekday] = day
	}
	return nil
}

func weekdayIndex(name string) int {
	for i, w := range models.Weekdays {
		if w == name {
			return i
		}
	}
	return len(models.Weekdays)
}
