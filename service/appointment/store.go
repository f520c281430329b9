package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Store persists appointments. Create must reject a live booking that
// overlaps another live booking of the same doctor with utils.ErrSlotTaken.
type Store interface {
	Create(ctx context.Context, appt *models.Appointment) error
	Get(ctx context.Context, id uint) (*models.Appointment, error)
	ListByPatient(ctx context.Context, patientID uint, status string) ([]models.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uint, status string) ([]models.Appointment, error)
	ListActiveForDoctorBetween(ctx context.Context, doctorID uint, from, to time.Time) ([]models.Appointment, error)
	// UpdateStatus moves id from one status to another and reports whether it did.
	UpdateStatus(ctx context.Context, id uint, from, to string) (bool, error)
	// SetCallID links a call only when none is linked yet.
	SetCallID(ctx context.Context, id, callID uint) (bool, error)
	SetChatChannel(ctx context.Context, id uint, channelID string) error
	CompletePast(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, appt *models.Appointment) error {
	err := s.db.WithContext(ctx).Create(appt).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) || isExclusionViolation(err) {
		return utils.ErrSlotTaken
	}
	return err
}

// exclusionViolation is the SQLSTATE raised by appointments_no_overlap.
const exclusionViolation = "23P01"

// isExclusionViolation is needed because gorm's error translation only
// covers unique and foreign key violations.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == exclusionViolation
}

func (s *GormStore) Get(ctx context.Context, id uint) (*models.Appointment, error) {
	var appt models.Appointment
	err := s.db.WithContext(ctx).First(&appt, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

func (s *GormStore) ListByPatient(ctx context.Context, patientID uint, status string) ([]models.Appointment, error) {
	return s.list(ctx, "patient_id = ?", patientID, status)
}

func (s *GormStore) ListByDoctor(ctx context.Context, doctorID uint, status string) ([]models.Appointment, error) {
	return s.list(ctx, "doctor_id = ?", doctorID, status)
}

func (s *GormStore) list(ctx context.Context, cond string, id uint, status string) ([]models.Appointment, error) {
	query := s.db.WithContext(ctx).Where(cond, id)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var appts []models.Appointment
	err := query.Order("start_time DESC").Find(&appts).Error
	return appts, err
}

func (s *GormStore) ListActiveForDoctorBetween(ctx context.Context, doctorID uint, from, to time.Time) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).
		Where("doctor_id = ? AND status <> ? AND start_time < ? AND end_time > ?", doctorID, models.AppointmentCancelled, to, from).
		Order("start_time ASC").
		Find(&appts).Error
	return appts, err
}

func (s *GormStore) UpdateStatus(ctx context.Context, id uint, from, to string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) SetCallID(ctx context.Context, id, callID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND call_id IS NULL", id).
		Update("call_id", callID)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) SetChatChannel(ctx context.Context, id uint, channelID string) error {
	return s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ?", id).
		Update("chat_channel_id", channelID).Error
}

func (s *GormStore) CompletePast(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("status = ? AND end_time < ?", models.AppointmentScheduled, before).
		Update("status", models.AppointmentCompleted)
	return res.RowsAffected, res.Error
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Appointment{}).
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

// MemoryStore enforces the same no-overlap rule as the postgres exclusion
// constraint.
type MemoryStore struct {
	mu     sync.Mutex
	appts  map[uint]*models.Appointment
	nextID uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{appts: make(map[uint]*models.Appointment)}
}

func (s *MemoryStore) slotTaken(doctorID uint, start, end time.Time) bool {
	for _, a := range s.appts {
		if a.DoctorID == doctorID && a.Status != models.AppointmentCancelled && a.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) Create(_ context.Context, appt *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slotTaken(appt.DoctorID, appt.StartTime, appt.EndTime) {
		return utils.ErrSlotTaken
	}
	s.nextID++
	appt.ID = s.nextID
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	cp := *appt
	s.appts[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uint) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return nil, utils.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) filter(keep func(*models.Appointment) bool) []models.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Appointment{}
	for _, a := range s.appts {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

func (s *MemoryStore) ListByPatient(_ context.Context, patientID uint, status string) ([]models.Appointment, error) {
	return s.filter(func(a *models.Appointment) bool {
		return a.PatientID == patientID && (status == "" || a.Status == status)
	}), nil
}

func (s *MemoryStore) ListByDoctor(_ context.Context, doctorID uint, status string) ([]models.Appointment, error) {
	return s.filter(func(a *models.Appointment) bool {
		return a.DoctorID == doctorID && (status == "" || a.Status == status)
	}), nil
}

func (s *MemoryStore) ListActiveForDoctorBetween(_ context.Context, doctorID uint, from, to time.Time) ([]models.Appointment, error) {
	out := s.filter(func(a *models.Appointment) bool {
		return a.DoctorID == doctorID && a.Status != models.AppointmentCancelled && a.Overlaps(from, to)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uint, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) SetCallID(_ context.Context, id, callID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok || a.CallID != nil {
		return false, nil
	}
	a.CallID = &callID
	return true, nil
}

func (s *MemoryStore) SetChatChannel(_ context.Context, id uint, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return utils.ErrAppointmentNotFound
	}
	a.ChatChannelID = channelID
	return nil
}

func (s *MemoryStore) CompletePast(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.appts {
		if a.Status == models.AppointmentScheduled && a.EndTime.Before(before) {
			a.Status = models.AppointmentCompleted
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, a := range s.appts {
		out[a.Status]++
	}
	return out, nil
}
