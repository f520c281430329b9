package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	AppointmentScheduled = "scheduled"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// SlotDuration is the fixed length of a bookable slot.
const SlotDuration = 30 * time.Minute

// Appointment is a booked consultation. The exclusion constraint keeping a
// doctor's live appointments from overlapping is created in db.Migrate.
type Appointment struct {
	gorm.Model
	PatientID     uint      `gorm:"column:patient_id;not null;index" json:"patient_id"`
	DoctorID      uint      `gorm:"column:doctor_id;not null;index" json:"doctor_id"`
	StartTime     time.Time `gorm:"column:start_time;not null" json:"start_time"`
	EndTime       time.Time `gorm:"column:end_time;not null" json:"end_time"`
	Status        string    `gorm:"column:status;size:20;not null;default:scheduled" json:"status"`
	Notes         string    `gorm:"column:notes;type:text" json:"notes,omitempty"`
	CallID        *uint     `gorm:"column:call_id" json:"call_id,omitempty"`
	ChatChannelID string    `gorm:"column:chat_channel_id;size:255" json:"chat_channel_id,omitempty"`

	Patient *User `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Doctor  *User `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
}

// Overlaps reports whether the appointment intersects [start, end).
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

// IsParticipant reports whether userID is the patient or the doctor.
func (a *Appointment) IsParticipant(userID uint) bool {
	return a.PatientID == userID || a.DoctorID == userID
}
