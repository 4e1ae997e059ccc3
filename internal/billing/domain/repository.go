package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindProfile(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*UserBillingProfile, error)
	FindActivePromotions(ctx context.Context, db *gorm.DB, actionType ActionType, at time.Time) ([]Promotion, error)
}
