package availability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
)

const (
	minutesPerDay = 24 * 60
	slotMinutes   = int(models.SlotDuration / time.Minute)
)

// ParseClock converts "HH:MM" (24h) to minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, utils.NewError(utils.KindValidation, "invalid time %q, expected HH:MM", s)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, utils.NewError(utils.KindValidation, "invalid time %q, expected HH:MM", s)
	}
	return h*60 + m, nil
}

func FormatClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// GenerateSlots expands ranges into sorted, unique 30-minute start labels
// within [start, end). A range whose end is not after its start runs past
// midnight; its early-morning labels belong to the same weekday.
func GenerateSlots(ranges []models.TimeRange) ([]string, error) {
	seen := make(map[int]struct{})
	for _, r := range ranges {
		start, err := ParseClock(r.Start)
		if err != nil {
			return nil, err
		}
		end, err := ParseClock(r.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			end += minutesPerDay
		}
		for m := start; m < end; m += slotMinutes {
			seen[m%minutesPerDay] = struct{}{}
		}
	}

	mins := make([]int, 0, len(seen))
	for m := range seen {
		mins = append(mins, m)
	}
	sort.Ints(mins)

	slots := make([]string, len(mins))
	for i, m := range mins {
		slots[i] = FormatClock(m)
	}
	return slots, nil
}

// BuildDay returns the stored form of one weekday with its slot set
// recomputed from scratch.
func BuildDay(doctorID uint, weekday string, isAvailable bool, ranges []models.TimeRange) (models.DoctorAvailability, error) {
	day := models.DoctorAvailability{
		DoctorID:    doctorID,
		Weekday:     weekday,
		IsAvailable: isAvailable,
		TimeRanges:  ranges,
		TimeSlots:   []string{},
	}
	if day.TimeRanges == nil {
		day.TimeRanges = []models.TimeRange{}
	}

	slots, err := GenerateSlots(ranges)
	if err != nil {
		return day, err
	}
	if isAvailable {
		day.TimeSlots = slots
	}
	return day, nil
}

// ParseDate reads a YYYY-MM-DD calendar date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, utils.WrapError(utils.KindValidation, "invalid date, use YYYY-MM-DD", err)
	}
	return d, nil
}

// SlotStart places a slot label on the given calendar date.
func SlotStart(date time.Time, label string) (time.Time, error) {
	m, err := ParseClock(label)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := date.Date()
	return time.Date(y, mo, d, m/60, m%60, 0, 0, date.Location()), nil
}

func isWeekday(name string) bool {
	for _, w := range models.Weekdays {
		if w == name {
			return true
		}
	}
	return false
}
