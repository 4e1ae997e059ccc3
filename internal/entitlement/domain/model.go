// Package domain contains the subscription entitlement models and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus tracks the lifecycle of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription binds a user to a plan for a billing period. Plan feature
// tables live in configuration; the row only carries the plan identifier.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	UserID             snowflake.ID       `gorm:"not null;index"`
	PlanID             string             `gorm:"type:text;not null"`
	Status             SubscriptionStatus `gorm:"type:text;not null;default:'active'"`
	CurrentPeriodStart time.Time          `gorm:"not null"`
	CurrentPeriodEnd   time.Time          `gorm:"not null"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// CoversAt reports whether the subscription is active for the given instant.
func (s Subscription) CoversAt(at time.Time) bool {
	return s.Status == SubscriptionActive &&
		!at.Before(s.CurrentPeriodStart) &&
		at.Before(s.CurrentPeriodEnd)
}

// UsageCounter tracks consumed units for one feature within one billing
// period. The (subscription, feature, period) triple is unique; increments
// go through a guarded UPDATE so the limit can never be oversubscribed.
type UsageCounter struct {
	SubscriptionID snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Feature        string       `gorm:"primaryKey;type:text"`
	PeriodStart    time.Time    `gorm:"primaryKey"`
	Count          int64        `gorm:"not null;default:0"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageCounter) TableName() string { return "usage_counters" }

// Decision is the outcome of an entitlement check. Covered means the plan
// includes the feature at all; WithinLimit means a unit was (or could be)
// consumed without crossing the cap.
type Decision struct {
	Covered        bool         `json:"covered"`
	WithinLimit    bool         `json:"within_limit"`
	Used           int64        `json:"used"`
	Limit          *int         `json:"limit,omitempty"`
	PlanID         string       `json:"plan_id,omitempty"`
	SubscriptionID snowflake.ID `json:"subscription_id,omitempty"`
}

// Unlimited reports whether the grant has no cap.
func (d Decision) Unlimited() bool { return d.Covered && d.Limit == nil }
