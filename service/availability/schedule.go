package availability

import (
	"context"
	"fmt"

	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
)

// DayInput is one weekday as authored by the doctor.
type DayInput struct {
	IsAvailable bool               `json:"isAvailable"`
	TimeRanges  []models.TimeRange `json:"timeRanges"`
}

// WeeklySchedule maps lowercase weekday names to their input. Missing days
// are stored as unavailable.
type WeeklySchedule map[string]DayInput

// SaveWeeklySchedule recomputes all seven days and replaces the stored week.
func SaveWeeklySchedule(ctx context.Context, store Store, doctorID uint, week WeeklySchedule) ([]models.DoctorAvailability, error) {
	for name := range week {
		if !isWeekday(name) {
			return nil, utils.NewError(utils.KindValidation, "unknown weekday %q", name)
		}
	}

	days := make([]models.DoctorAvailability, 0, len(models.Weekdays))
	for _, name := range models.Weekdays {
		in := week[name]
		day, err := BuildDay(doctorID, name, in.IsAvailable, in.TimeRanges)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}

	if err := store.ReplaceWeek(ctx, doctorID, days); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	return days, nil
}
