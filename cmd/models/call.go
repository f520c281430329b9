package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	CallInitiated = "initiated"
	CallRinging   = "ringing"
	CallActive    = "active"
	CallEnded     = "ended"
)

const (
	CallTypeVideo = "video"
	CallTypeVoice = "voice"
)

const (
	EndReasonCompleted  = "completed"
	EndReasonDeclined   = "declined"
	EndReasonAbandoned  = "abandoned"
	EndReasonSuperseded = "superseded"
)

// Call is one real-time session. Ended is terminal.
type Call struct {
	gorm.Model
	RoomID          string     `gorm:"column:room_id;size:64;not null;uniqueIndex" json:"room_id"`
	PatientID       uint       `gorm:"column:patient_id;not null;index" json:"patient_id"`
	DoctorID        uint       `gorm:"column:doctor_id;not null;index" json:"doctor_id"`
	InitiatorID     uint       `gorm:"column:initiator_id;not null" json:"initiator_id"`
	Status          string     `gorm:"column:status;size:20;not null;default:initiated" json:"status"`
	CallType        string     `gorm:"column:call_type;size:10;not null;default:video" json:"call_type"`
	AppointmentID   *uint      `gorm:"column:appointment_id;index" json:"appointment_id,omitempty"`
	StartTime       *time.Time `gorm:"column:start_time" json:"start_time,omitempty"`
	EndTime         *time.Time `gorm:"column:end_time" json:"end_time,omitempty"`
	DurationSeconds int64      `gorm:"column:duration_seconds;default:0" json:"duration_seconds"`
	EndedBy         *uint      `gorm:"column:ended_by" json:"ended_by,omitempty"`
	EndReason       string     `gorm:"column:end_reason;size:20" json:"end_reason,omitempty"`
}

func (c *Call) IsEnded() bool {
	return c.Status == CallEnded
}

// Counterpart returns the other participant, or 0 if userID is not on the call.
func (c *Call) Counterpart(userID uint) uint {
	switch userID {
	case c.PatientID:
		return c.DoctorID
	case c.DoctorID:
		return c.PatientID
	}
	return 0
}
