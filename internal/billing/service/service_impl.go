package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	"github.com/skillvouch/skillvouch/internal/cache"
	"github.com/skillvouch/skillvouch/internal/clock"
	"github.com/skillvouch/skillvouch/internal/config"
	obsmetrics "github.com/skillvouch/skillvouch/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Billing    *config.BillingConfigHolder
	Repo       billingdomain.Repository
	Cache      cache.FeeResolverCache `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	billing    *config.BillingConfigHolder
	repo       billingdomain.Repository
	cache      cache.FeeResolverCache
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.service"),
		clock:      p.Clock,
		billing:    p.Billing,
		repo:       p.Repo,
		cache:      p.Cache,
		obsMetrics: p.ObsMetrics,
	}
}

// ResolveFee applies the precedence rules: role override, then per-user
// custom fee, then the best active promotion, then the base fee. Unknown
// actions resolve to zero; callers validate the action type before billing.
func (s *Service) ResolveFee(ctx context.Context, userID snowflake.ID, actionType billingdomain.ActionType) (billingdomain.FeeQuote, error) {
	if userID == 0 {
		return billingdomain.FeeQuote{}, billingdomain.ErrInvalidUser
	}

	tables := s.billing.Get()
	quote := billingdomain.FeeQuote{
		ActionType: actionType,
		Adjustment: billingdomain.AdjustmentNone,
		Currency:   tables.Currency,
	}

	base, known := tables.BaseFee(string(actionType))
	if !known {
		// Misconfigured or free action: resolve to zero rather than block.
		s.log.Warn("fee requested for unknown action type",
			zap.String("action_type", string(actionType)),
		)
		return quote, nil
	}
	quote.BaseAmount = base
	quote.FinalAmount = base

	profile, err := s.findProfile(ctx, userID)
	if err != nil {
		// Reads must never block the caller. Degrade to the base fee and
		// surface the incident.
		s.log.Warn("fee resolution degraded to base fee",
			zap.String("action_type", string(actionType)),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		quote.Degraded = true
		s.recordQuote(ctx, quote)
		return quote, nil
	}

	if profile != nil {
		if amount, ok := tables.RoleOverride(profile.Role, string(actionType)); ok {
			quote.Adjustment = billingdomain.AdjustmentRoleOverride
			quote.AdjustmentRef = profile.Role
			quote.FinalAmount = amount
			s.recordQuote(ctx, quote)
			return quote, nil
		}
		if amount, ok := profile.CustomFee(actionType); ok {
			quote.Adjustment = billingdomain.AdjustmentCustomFee
			quote.AdjustmentRef = userID.String()
			quote.FinalAmount = amount
			s.recordQuote(ctx, quote)
			return quote, nil
		}
	}

	promotions, err := s.findActivePromotions(ctx, actionType)
	if err != nil {
		s.log.Warn("fee resolution degraded to base fee",
			zap.String("action_type", string(actionType)),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		quote.Degraded = true
		s.recordQuote(ctx, quote)
		return quote, nil
	}

	if best, ok := bestPromotion(promotions, base); ok {
		quote.Adjustment = billingdomain.AdjustmentPromotion
		quote.AdjustmentRef = best.ID.String()
		quote.FinalAmount = applyDiscount(base, best)
	}

	s.recordQuote(ctx, quote)
	return quote, nil
}

func (s *Service) findProfile(ctx context.Context, userID snowflake.ID) (*billingdomain.UserBillingProfile, error) {
	if s.cache != nil {
		if profile, ok := s.cache.GetProfile(userID); ok {
			return profile, nil
		}
	}
	profile, err := s.repo.FindProfile(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetProfile(userID, profile)
	}
	return profile, nil
}

// findActivePromotions serves the promotion set from cache when possible.
// Cached entries are re-checked against the current clock so a window that
// closed mid-TTL stops applying immediately.
func (s *Service) findActivePromotions(ctx context.Context, actionType billingdomain.ActionType) ([]billingdomain.Promotion, error) {
	now := s.clock.Now()
	if s.cache != nil {
		if cached, ok := s.cache.GetPromotions(actionType); ok {
			active := make([]billingdomain.Promotion, 0, len(cached))
			for _, p := range cached {
				if p.ActiveAt(now) {
					active = append(active, p)
				}
			}
			return active, nil
		}
	}
	promotions, err := s.repo.FindActivePromotions(ctx, s.db, actionType, now)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetPromotions(actionType, promotions)
	}
	return promotions, nil
}

// bestPromotion picks the promotion most favorable to the user. Ties go to
// the earliest start, then the lowest ID, so the pick is stable regardless
// of store ordering.
func bestPromotion(promotions []billingdomain.Promotion, base int64) (billingdomain.Promotion, bool) {
	var best billingdomain.Promotion
	found := false
	for _, p := range promotions {
		if !found {
			best = p
			found = true
			continue
		}
		candidate := applyDiscount(base, p)
		current := applyDiscount(base, best)
		switch {
		case candidate < current:
			best = p
		case candidate == current && p.StartAt.Before(best.StartAt):
			best = p
		case candidate == current && p.StartAt.Equal(best.StartAt) && p.ID < best.ID:
			best = p
		}
	}
	return best, found
}

func applyDiscount(base int64, p billingdomain.Promotion) int64 {
	var final int64
	switch p.DiscountType {
	case billingdomain.DiscountPercentage:
		pct := p.DiscountValue
		if pct > 100 {
			pct = 100
		}
		final = base - base*pct/100
	case billingdomain.DiscountFixed:
		final = base - p.DiscountValue
	default:
		final = base
	}
	if final < 0 {
		return 0
	}
	return final
}

func (s *Service) recordQuote(ctx context.Context, quote billingdomain.FeeQuote) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordFeeQuote(ctx, string(quote.ActionType), string(quote.Adjustment))
	if quote.Degraded {
		s.obsMetrics.RecordFeeDegraded(ctx, string(quote.ActionType))
	}
}
