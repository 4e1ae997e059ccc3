// Package domain contains the fee resolution models and contracts.
package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ActionType identifies a billable action.
type ActionType string

const (
	ActionJobPosting   ActionType = "job_posting"
	ActionVerification ActionType = "verification"
	ActionHireSuccess  ActionType = "hire_success"
)

// KnownAction reports whether the action type is one of the billable three.
func KnownAction(action ActionType) bool {
	switch action {
	case ActionJobPosting, ActionVerification, ActionHireSuccess:
		return true
	default:
		return false
	}
}

// Adjustment names the rule that produced the final amount.
type Adjustment string

const (
	AdjustmentNone         Adjustment = "none"
	AdjustmentRoleOverride Adjustment = "role_override"
	AdjustmentCustomFee    Adjustment = "custom_fee"
	AdjustmentPromotion    Adjustment = "promotion"
)

// FeeQuote is the computed price for one action. It is never persisted;
// callers consume it immediately.
type FeeQuote struct {
	ActionType    ActionType `json:"action_type"`
	BaseAmount    int64      `json:"base_amount"`
	Adjustment    Adjustment `json:"adjustment"`
	AdjustmentRef string     `json:"adjustment_ref,omitempty"`
	FinalAmount   int64      `json:"final_amount"`
	Currency      string     `json:"currency"`
	// Degraded is set when the store could not be read and the quote fell
	// back to the base fee.
	Degraded bool `json:"degraded,omitempty"`
}

// DiscountType distinguishes percentage from fixed-amount promotions.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Promotion is a time-bounded discount for one action type. Managed by an
// external admin process; read-only here.
type Promotion struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	ActionType    ActionType   `gorm:"type:text;not null;index"`
	DiscountType  DiscountType `gorm:"type:text;not null"`
	DiscountValue int64        `gorm:"not null"`
	StartAt       time.Time    `gorm:"not null"`
	EndAt         time.Time    `gorm:"not null"`
	Active        bool         `gorm:"not null;default:true"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Promotion) TableName() string { return "promotions" }

// ActiveAt reports whether the promotion window covers the given instant.
func (p Promotion) ActiveAt(at time.Time) bool {
	return p.Active && !at.Before(p.StartAt) && at.Before(p.EndAt)
}

// UserBillingProfile carries per-user billing attributes: the role used for
// fee overrides and an optional custom fee map keyed by action type.
type UserBillingProfile struct {
	UserID     snowflake.ID      `gorm:"primaryKey"`
	Role       string            `gorm:"type:text;not null;default:'member'"`
	CustomFees datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserBillingProfile) TableName() string { return "user_billing_profiles" }

// CustomFee returns the user's custom fee for an action, if configured.
func (p UserBillingProfile) CustomFee(action ActionType) (int64, bool) {
	if p.CustomFees == nil {
		return 0, false
	}
	raw, ok := p.CustomFees[string(action)]
	if !ok {
		return 0, false
	}
	// JSONMap values come back differently per driver: float64 from plain
	// json.Unmarshal, json.Number under UseNumber, text on some columns.
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
