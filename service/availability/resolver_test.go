package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBookings struct {
	mu    sync.Mutex
	appts []models.Appointment
}

func (f *fakeBookings) ListActiveForDoctorBetween(_ context.Context, doctorID uint, from, to time.Time) ([]models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Appointment
	for _, a := range f.appts {
		if a.DoctorID == doctorID && a.Status != models.AppointmentCancelled && a.Overlaps(from, to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeBookings) book(doctorID uint, start time.Time, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appts = append(f.appts, models.Appointment{
		DoctorID:  doctorID,
		StartTime: start,
		EndTime:   start.Add(models.SlotDuration),
		Status:    status,
	})
}

func setupResolver(t *testing.T) (*Resolver, *MemoryStore, *fakeBookings) {
	store := NewMemoryStore()
	_, err := SaveWeeklySchedule(context.Background(), store, 7, WeeklySchedule{
		"monday":  {IsAvailable: true, TimeRanges: []models.TimeRange{{Start: "09:00", End: "11:00"}}},
		"tuesday": {IsAvailable: false, TimeRanges: []models.TimeRange{{Start: "09:00", End: "11:00"}}},
	})
	require.NoError(t, err)

	bookings := &fakeBookings{}
	r := NewResolver(store, bookings, 30*time.Minute)
	r.now = func() time.Time { return time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC) }
	return r, store, bookings
}

func TestCheckAvailability_RemovesBookedSlots(t *testing.T) {
	r, _, bookings := setupResolver(t)
	monday := time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

	bookings.book(7, monday.Add(10*time.Hour), models.AppointmentScheduled)
	bookings.book(7, monday.Add(9*time.Hour), models.AppointmentCancelled)
	bookings.book(8, monday.Add(9*time.Hour+30*time.Minute), models.AppointmentScheduled)

	res, err := r.CheckAvailability(context.Background(), 7, monday)
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, []string{"09:00", "09:30", "10:30"}, res.TimeSlots)
}

func TestCheckAvailability_UnavailableDay(t *testing.T) {
	r, _, _ := setupResolver(t)

	res, err := r.CheckAvailability(context.Background(), 7, time.Date(2030, 1, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Empty(t, res.TimeSlots)

	// no record at all for wednesday
	res, err = r.CheckAvailability(context.Background(), 7, time.Date(2030, 1, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, res.Available)
}

func TestCheckAvailability_TodayDropsSlotsInsideBuffer(t *testing.T) {
	r, _, _ := setupResolver(t)
	monday := time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return monday.Add(9*time.Hour + 10*time.Minute) }

	res, err := r.CheckAvailability(context.Background(), 7, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "10:30"}, res.TimeSlots)

	r.now = func() time.Time { return monday.Add(10*time.Hour + 45*time.Minute) }
	res, err = r.CheckAvailability(context.Background(), 7, monday)
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Empty(t, res.TimeSlots)
}

func TestCheckAvailability_NoFreeSlotCoincidesWithBooking(t *testing.T) {
	r, _, bookings := setupResolver(t)
	monday := time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)
	for _, h := range []time.Duration{9 * time.Hour, 10*time.Hour + 30*time.Minute} {
		bookings.book(7, monday.Add(h), models.AppointmentScheduled)
	}

	res, err := r.CheckAvailability(context.Background(), 7, monday)
	require.NoError(t, err)
	for _, label := range res.TimeSlots {
		start, err := SlotStart(monday, label)
		require.NoError(t, err)
		for _, a := range bookings.appts {
			assert.False(t, a.StartTime.Equal(start), "slot %s is booked", label)
		}
	}
}
