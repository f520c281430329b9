package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Weekdays lists the fixed schedule keys, indexed by time.Weekday.
var Weekdays = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// WeekdayName returns the schedule key for the given date.
func WeekdayName(t time.Time) string {
	return Weekdays[t.Weekday()]
}

// TimeRange is a clock interval in HH:MM (24h). End <= Start wraps past midnight.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DoctorAvailability holds one weekday of a doctor's recurring schedule.
// TimeSlots is derived from TimeRanges and is never written on its own.
type DoctorAvailability struct {
	gorm.Model
	DoctorID    uint           `gorm:"column:doctor_id;not null;uniqueIndex:idx_doctor_weekday" json:"doctor_id"`
	Weekday     string         `gorm:"column:weekday;size:10;not null;uniqueIndex:idx_doctor_weekday" json:"weekday"`
	IsAvailable bool           `gorm:"column:is_available;default:false" json:"is_available"`
	TimeRanges  []TimeRange    `gorm:"column:time_ranges;serializer:json;type:jsonb" json:"time_ranges"`
	TimeSlots   pq.StringArray `gorm:"column:time_slots;type:text[]" json:"time_slots"`

	Doctor *User `gorm:"foreignKey:DoctorID" json:"-"`
}

func (DoctorAvailability) TableName() string {
	return "doctor_availabilities"
}
