package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
)

// BookingLister returns the non-cancelled appointments of a doctor that
// intersect [from, to).
type BookingLister interface {
	ListActiveForDoctorBetween(ctx context.Context, doctorID uint, from, to time.Time) ([]models.Appointment, error)
}

// Result is the answer to an availability query.
type Result struct {
	Available bool     `json:"available"`
	TimeSlots []string `json:"timeSlots"`
}

// Resolver computes the free slots of a doctor on a date. It only reads.
type Resolver struct {
	schedules Store
	bookings  BookingLister
	buffer    time.Duration
	now       func() time.Time
}

func NewResolver(schedules Store, bookings BookingLister, todayBuffer time.Duration) *Resolver {
	return &Resolver{
		schedules: schedules,
		bookings:  bookings,
		buffer:    todayBuffer,
		now:       time.Now,
	}
}

// Day returns the schedule record for the date's weekday. A doctor with no
// stored record for that weekday is reported as unavailable.
func (r *Resolver) Day(ctx context.Context, doctorID uint, date time.Time) (*models.DoctorAvailability, error) {
	weekday := models.WeekdayName(date)
	day, err := r.schedules.GetDay(ctx, doctorID, weekday)
	if errors.Is(err, utils.ErrNotFound) {
		return &models.DoctorAvailability{DoctorID: doctorID, Weekday: weekday}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	return day, nil
}

// CheckAvailability lists the slots on date that are neither booked nor,
// for today, starting inside the lead buffer. date must be a calendar date
// in the clinic location.
func (r *Resolver) CheckAvailability(ctx context.Context, doctorID uint, date time.Time) (*Result, error) {
	day, err := r.Day(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if !day.IsAvailable || len(day.TimeSlots) == 0 {
		return &Result{Available: false, TimeSlots: []string{}}, nil
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	booked, err := r.bookings.ListActiveForDoctorBetween(ctx, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	now := r.now().In(date.Location())
	isToday := sameDate(now, dayStart)
	cutoff := now.Add(r.buffer)

	free := make([]string, 0, len(day.TimeSlots))
	for _, label := range day.TimeSlots {
		start, err := SlotStart(dayStart, label)
		if err != nil {
			return nil, err
		}
		if isToday && start.Before(cutoff) {
			continue
		}
		if slotBooked(booked, start) {
			continue
		}
		free = append(free, label)
	}
	return &Result{Available: len(free) > 0, TimeSlots: free}, nil
}

func slotBooked(booked []models.Appointment, start time.Time) bool {
	end := start.Add(models.SlotDuration)
	for i := range booked {
		if booked[i].Overlaps(start, end) {
			return true
		}
	}
	return false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
