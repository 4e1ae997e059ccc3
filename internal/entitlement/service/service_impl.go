package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/skillvouch/skillvouch/internal/clock"
	"github.com/skillvouch/skillvouch/internal/config"
	entitlementdomain "github.com/skillvouch/skillvouch/internal/entitlement/domain"
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
	Repo       entitlementdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	billing    *config.BillingConfigHolder
	repo       entitlementdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) entitlementdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("entitlement.service"),
		clock:      p.Clock,
		billing:    p.Billing,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) TryConsumeEntitlement(ctx context.Context, userID snowflake.ID, feature string) (entitlementdomain.Decision, error) {
	decision, sub, grant, err := s.resolveGrant(ctx, userID, feature)
	if err != nil || !decision.Covered {
		return decision, err
	}

	// An uncapped grant covers without touching the ledger: there is no
	// limit to enforce, so there is nothing to count.
	if grant.Limit == nil {
		decision.WithinLimit = true
		s.recordConsume(ctx, feature, true)
		return decision, nil
	}

	if err := s.repo.EnsureCounter(ctx, s.db, sub.ID, feature, sub.CurrentPeriodStart); err != nil {
		return entitlementdomain.Decision{}, err
	}
	applied, err := s.repo.IncrementWithinLimit(ctx, s.db, sub.ID, feature, sub.CurrentPeriodStart, *grant.Limit)
	if err != nil {
		return entitlementdomain.Decision{}, err
	}
	used, err := s.repo.CurrentCount(ctx, s.db, sub.ID, feature, sub.CurrentPeriodStart)
	if err != nil {
		return entitlementdomain.Decision{}, err
	}
	decision.WithinLimit = applied
	decision.Used = used
	if !applied {
		s.log.Info("entitlement exhausted",
			zap.String("user_id", userID.String()),
			zap.String("feature", feature),
			zap.String("plan_id", sub.PlanID),
			zap.Int64("used", used),
			zap.Int("limit", *grant.Limit),
		)
	}
	s.recordConsume(ctx, feature, applied)
	return decision, nil
}

func (s *Service) PeekEntitlement(ctx context.Context, userID snowflake.ID, feature string) (entitlementdomain.Decision, error) {
	decision, sub, grant, err := s.resolveGrant(ctx, userID, feature)
	if err != nil || !decision.Covered {
		return decision, err
	}

	used, err := s.repo.CurrentCount(ctx, s.db, sub.ID, feature, sub.CurrentPeriodStart)
	if err != nil {
		return entitlementdomain.Decision{}, err
	}
	decision.Used = used
	decision.WithinLimit = grant.Limit == nil || used < int64(*grant.Limit)
	return decision, nil
}

func (s *Service) ReleaseEntitlement(ctx context.Context, userID snowflake.ID, feature string) error {
	decision, sub, _, err := s.resolveGrant(ctx, userID, feature)
	if err != nil {
		return err
	}
	if !decision.Covered || decision.Limit == nil {
		// Nothing was counted, so there is nothing to return.
		return nil
	}
	return s.repo.Decrement(ctx, s.db, sub.ID, feature, sub.CurrentPeriodStart)
}

// resolveGrant locates the active subscription and the plan's grant for the
// feature. A missing subscription or excluded feature is not an error; the
// decision simply reports Covered=false and the caller falls back to
// pay-per-action pricing.
func (s *Service) resolveGrant(ctx context.Context, userID snowflake.ID, feature string) (entitlementdomain.Decision, *entitlementdomain.Subscription, config.FeatureGrant, error) {
	var none config.FeatureGrant

	if userID == 0 {
		return entitlementdomain.Decision{}, nil, none, entitlementdomain.ErrInvalidUser
	}
	feature = strings.TrimSpace(feature)
	if feature == "" {
		return entitlementdomain.Decision{}, nil, none, entitlementdomain.ErrInvalidFeature
	}

	sub, err := s.repo.FindActiveSubscription(ctx, s.db, userID, s.clock.Now())
	if err != nil {
		return entitlementdomain.Decision{}, nil, none, err
	}
	if sub == nil {
		return entitlementdomain.Decision{}, nil, none, nil
	}

	plan, ok := s.billing.Get().Plan(sub.PlanID)
	if !ok {
		s.log.Warn("subscription references unknown plan",
			zap.String("plan_id", sub.PlanID),
			zap.String("subscription_id", sub.ID.String()),
		)
		return entitlementdomain.Decision{}, nil, none, nil
	}
	grant, ok := plan.Features[feature]
	if !ok || !grant.Included {
		return entitlementdomain.Decision{PlanID: sub.PlanID, SubscriptionID: sub.ID}, nil, none, nil
	}

	return entitlementdomain.Decision{
		Covered:        true,
		Limit:          grant.Limit,
		PlanID:         sub.PlanID,
		SubscriptionID: sub.ID,
	}, sub, grant, nil
}

func (s *Service) recordConsume(ctx context.Context, feature string, applied bool) {
	if s.obsMetrics == nil {
		return
	}
	if applied {
		s.obsMetrics.RecordEntitlementConsumed(ctx, feature)
		return
	}
	s.obsMetrics.RecordEntitlementExhausted(ctx, feature)
}
