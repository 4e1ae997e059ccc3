package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/skillvouch/skillvouch/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

func Provide() entitlementdomain.Repository {
	return &repository{}
}

func (r *repository) FindActiveSubscription(ctx context.Context, db *gorm.DB, userID snowflake.ID, at time.Time) (*entitlementdomain.Subscription, error) {
	var sub entitlementdomain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND current_period_start <= ? AND current_period_end > ?",
			userID, entitlementdomain.SubscriptionActive, at, at).
		Order("current_period_start DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) EnsureCounter(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, feature string, periodStart time.Time) error {
	counter := entitlementdomain.UsageCounter{
		SubscriptionID: subscriptionID,
		Feature:        feature,
		PeriodStart:    periodStart,
		Count:          0,
		UpdatedAt:      time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&counter).Error
}

// IncrementWithinLimit relies on the database serializing the guarded
// UPDATE: two concurrent spenders at count = limit-1 cannot both match
// the count < limit predicate.
func (r *repository) IncrementWithinLimit(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, feature string, periodStart time.Time, limit int) (bool, error) {
	res := db.WithContext(ctx).
		Model(&entitlementdomain.UsageCounter{}).
		Where("subscription_id = ? AND feature = ? AND period_start = ? AND count < ?",
			subscriptionID, feature, periodStart, limit).
		Updates(map[string]interface{}{
			"count":      gorm.Expr("count + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Decrement(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, feature string, periodStart time.Time) error {
	return db.WithContext(ctx).
		Model(&entitlementdomain.UsageCounter{}).
		Where("subscription_id = ? AND feature = ? AND period_start = ? AND count > 0",
			subscriptionID, feature, periodStart).
		Updates(map[string]interface{}{
			"count":      gorm.Expr("count - 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) CurrentCount(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, feature string, periodStart time.Time) (int64, error) {
	var counter entitlementdomain.UsageCounter
	err := db.WithContext(ctx).
		Where("subscription_id = ? AND feature = ? AND period_start = ?",
			subscriptionID, feature, periodStart).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return counter.Count, nil
}
