package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindActiveSubscription(ctx context.Context, db *gorm.DB, userID snowflake.ID, at time.Time) (*Subscription, error)

	// EnsureCounter creates the period counter row if it does not exist yet.
	// Concurrent callers racing on the same triple are harmless.
	EnsureCounter(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, feature string, periodStart time.Time) error

	// IncrementWithinLimit adds one unit only while the count is below the
	// limit. It reports whether the increment was applied.
	IncrementWithinLimit(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, feature string, periodStart time.Time, limit int) (bool, error)

	// Decrement returns one unit, never dropping below zero.
	Decrement(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, feature string, periodStart time.Time) error

	CurrentCount(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, feature string, periodStart time.Time) (int64, error)
}
