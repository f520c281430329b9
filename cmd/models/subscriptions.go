package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SubscriptionPending   = "pending"
	SubscriptionActive    = "active"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"
)

// ResourceKind names a quota-metered resource.
type ResourceKind string

const (
	ResourceMeeting ResourceKind = "meeting"
	ResourceAIUsage ResourceKind = "ai_usage"
)

type Subscription struct {
	gorm.Model
	UserID        uint      `gorm:"index;not null" json:"user_id"`
	Plan          string    `gorm:"size:100" json:"plan"`
	Amount        float64   `json:"amount"`
	Status        string    `gorm:"size:20;index;not null;default:pending" json:"status"`
	PaymentID     string    `gorm:"size:255" json:"payment_id,omitempty"`
	MeetingAmount int       `gorm:"not null;default:0" json:"meeting_amount"`
	MeetingsUsed  int       `gorm:"not null;default:0" json:"meetings_used"`
	AIUsageAmount int       `gorm:"column:ai_usage_amount;not null;default:0" json:"ai_usage_amount"`
	AIUsageUsed   int       `gorm:"column:ai_usage_used;not null;default:0" json:"ai_usage_used"`
	StartDate     time.Time `gorm:"index" json:"start_date"`
	EndDate       time.Time `gorm:"index" json:"end_date"`

	User *User `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"user,omitempty"`
}

// Counters returns the used/amount pair for kind.
func (s *Subscription) Counters(kind ResourceKind) (used, amount int) {
	switch kind {
	case ResourceMeeting:
		return s.MeetingsUsed, s.MeetingAmount
	case ResourceAIUsage:
		return s.AIUsageUsed, s.AIUsageAmount
	}
	return 0, 0
}

// ActiveAt reports whether the subscription grants anything at t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	return s.Status == SubscriptionActive && !t.Before(s.StartDate) && !t.After(s.EndDate)
}

// UsageRecord is one committed consumption of a metered resource.
// Free-tier usage has no SubscriptionID.
type UsageRecord struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	UserID         uint         `gorm:"index:idx_usage_user_kind;not null" json:"user_id"`
	Kind           ResourceKind `gorm:"index:idx_usage_user_kind;size:20;not null" json:"kind"`
	SubscriptionID *uint        `json:"subscription_id,omitempty"`
	Reference      string       `gorm:"size:100" json:"reference,omitempty"`
	CreatedAt      time.Time    `gorm:"index" json:"created_at"`
}
