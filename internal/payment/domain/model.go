// Package domain contains the payment obligation models and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	"gorm.io/gorm"
)

// IntentStatus tracks a payment obligation's lifecycle.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentCompleted IntentStatus = "completed"
	IntentFailed    IntentStatus = "failed"
	IntentCanceled  IntentStatus = "canceled"
)

// PaymentIntent is the obligation created when a billable action carries a
// nonzero fee. Reference is the stable identifier handed to the payment
// provider and quoted back in completion events.
type PaymentIntent struct {
	ID                snowflake.ID             `gorm:"primaryKey" json:"id"`
	Reference         string                   `gorm:"type:text;not null;uniqueIndex" json:"reference"`
	UserID            snowflake.ID             `gorm:"not null;index" json:"user_id"`
	ActionType        billingdomain.ActionType `gorm:"type:text;not null" json:"action_type"`
	Amount            int64                    `gorm:"not null" json:"amount"`
	Currency          string                   `gorm:"type:text;not null" json:"currency"`
	Status            IntentStatus             `gorm:"type:text;not null;index" json:"status"`
	Adjustment        string                   `gorm:"type:text" json:"adjustment,omitempty"`
	ProviderPaymentID *string                  `gorm:"type:text;uniqueIndex" json:"provider_payment_id,omitempty"`
	CreatedAt         time.Time                `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
	// ConsumedAt is stamped when the intent funds a gated action. A
	// consumed intent can never fund a second one.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// TableName sets the database table name.
func (PaymentIntent) TableName() string { return "payment_intents" }

// CompletionEvent is a provider callback reporting the outcome of a payment.
// Providers may deliver the same event more than once.
type CompletionEvent struct {
	Reference         string `json:"reference" binding:"required"`
	ProviderPaymentID string `json:"provider_payment_id" binding:"required"`
	Succeeded         bool   `json:"succeeded"`
}

type Service interface {
	// CreateObligation resolves the fee for the action and opens a payment
	// intent. Zero-fee resolutions complete immediately.
	CreateObligation(ctx context.Context, userID snowflake.ID, actionType billingdomain.ActionType) (*PaymentIntent, error)

	// HandleCompletion settles the intent named by the event. Redelivered
	// events are absorbed without double-settling.
	HandleCompletion(ctx context.Context, event CompletionEvent) (*PaymentIntent, error)

	// ConsumeObligation spends a completed intent as funding for one gated
	// action. It runs on the caller's transaction so the gated write and
	// the spend commit or roll back together. The guarded stamp makes the
	// spend single-use: a reference that is unknown, owned by someone
	// else, or for another action fails with ErrUnknownPayment; an
	// unsettled one with ErrPaymentPending; a spent one with
	// ErrPaymentConsumed.
	ConsumeObligation(ctx context.Context, tx *gorm.DB, userID snowflake.ID, actionType billingdomain.ActionType, reference string) error

	GetByReference(ctx context.Context, reference string) (*PaymentIntent, error)
}

var (
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidAction   = errors.New("invalid_action_type")
	ErrInvalidEvent    = errors.New("invalid_completion_event")
	ErrUnknownPayment  = errors.New("unknown_payment_reference")
	ErrPaymentPending  = errors.New("payment_pending")
	ErrPaymentConsumed = errors.New("payment_already_consumed")
)
