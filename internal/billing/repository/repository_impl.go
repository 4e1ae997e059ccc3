package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() billingdomain.Repository {
	return &repository{}
}

func (r *repository) FindProfile(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*billingdomain.UserBillingProfile, error) {
	var profile billingdomain.UserBillingProfile
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *repository) FindActivePromotions(ctx context.Context, db *gorm.DB, actionType billingdomain.ActionType, at time.Time) ([]billingdomain.Promotion, error) {
	var promotions []billingdomain.Promotion
	err := db.WithContext(ctx).
		Where("action_type = ? AND active = ? AND start_at <= ? AND end_at > ?", actionType, true, at, at).
		Find(&promotions).Error
	if err != nil {
		return nil, err
	}
	return promotions, nil
}
